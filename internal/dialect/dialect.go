// Package dialect describes what each source kind accepts and how its query
// fragments are rendered.
//
// A Dialect is a capability descriptor plus render hooks. SQL dialects take
// where and hint as plain strings; structured dialects (MongoDB) take
// predicate objects and render them with a filter.Compiler.
package dialect

import (
	"strconv"
	"strings"
	"time"

	"github.com/roach88/tidemark/internal/filter"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/predicate"
)

// TableRule constrains the form of table names.
type TableRule int

const (
	// TableAny accepts name and schema.name.
	TableAny TableRule = iota
	// TableWithSchema requires schema.name.
	TableWithSchema
	// TableWithoutSchema rejects a schema prefix.
	TableWithoutSchema
)

func (r TableRule) String() string {
	switch r {
	case TableWithSchema:
		return "schema.table"
	case TableWithoutSchema:
		return "table"
	default:
		return "any"
	}
}

// Dialect is the capability descriptor of one source kind.
type Dialect struct {
	Name string

	TableRule             TableRule
	SupportsColumns       bool
	WhereMustBeStructured bool
	SupportsHWMExpression bool
	RequiresSchemaHint    bool

	// Compiler renders structured where and hint values.
	Compiler *filter.Compiler

	DateLiteral     func(time.Time) string
	DateTimeLiteral func(time.Time) string
}

// ValidateTable checks the table name against the dialect's rule.
func (d *Dialect) ValidateTable(table string) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return planerr.InvalidTable(table, "table name is required")
	}
	schema, name, qualified := strings.Cut(table, ".")
	switch d.TableRule {
	case TableWithSchema:
		if !qualified || schema == "" || name == "" || strings.Contains(name, ".") {
			return planerr.InvalidTable(table, "%s table name should be passed in schema.name format, got %q", d.Name, table)
		}
	case TableWithoutSchema:
		if qualified {
			return planerr.InvalidTable(table, "%s table name should be passed without schema, got %q", d.Name, table)
		}
	}
	return nil
}

// ValidateWhere checks the shape of where. A nil where is valid.
func (d *Dialect) ValidateWhere(where predicate.Predicate) error {
	if err := d.validateShape("where", where); err != nil {
		return err
	}
	if where != nil && d.WhereMustBeStructured {
		return d.Compiler.ValidateTopLevel(where)
	}
	return nil
}

// ValidateHint checks the shape of hint. A nil hint is valid.
func (d *Dialect) ValidateHint(hint predicate.Predicate) error {
	return d.validateShape("hint", hint)
}

func (d *Dialect) validateShape(field string, p predicate.Predicate) error {
	if p == nil {
		return nil
	}
	if d.WhereMustBeStructured {
		if _, ok := p.(predicate.Object); !ok {
			if predicate.IsString(p) {
				return planerr.StructuralInput(field, "%s parameter %s cannot be a string, a structured object must be passed", d.Name, field)
			}
			return planerr.StructuralInput(field, "%s parameter %s must be an object, got %T", d.Name, field, p)
		}
		return nil
	}
	s, ok := p.(predicate.String)
	if !ok {
		return planerr.StructuralInput(field, "%s parameter %s must be a plain string, got %T", d.Name, field, p)
	}
	if strings.TrimSpace(string(s)) == "" {
		return planerr.StructuralInput(field, "%s parameter %s cannot be blank", d.Name, field)
	}
	return nil
}

// ValidateColumns rejects explicit columns on dialects without projection.
func (d *Dialect) ValidateColumns(columns []string) error {
	if columns != nil && !d.SupportsColumns {
		return planerr.Unsupported(d.Name, "columns", "%s does not support the columns parameter", d.Name)
	}
	return nil
}

// ValidateHWMExpression rejects an expression on dialects that cannot alias one.
func (d *Dialect) ValidateHWMExpression(expression string) error {
	if expression != "" && !d.SupportsHWMExpression {
		return planerr.Unsupported(d.Name, "hwm.expression", "%s does not support the hwm expression parameter", d.Name)
	}
	return nil
}

// RenderWhere renders a validated where value. A nil where renders empty.
func (d *Dialect) RenderWhere(where predicate.Predicate) (string, error) {
	return d.render(where)
}

// RenderHint renders a validated hint value. A nil hint renders empty.
func (d *Dialect) RenderHint(hint predicate.Predicate) (string, error) {
	return d.render(hint)
}

func (d *Dialect) render(p predicate.Predicate) (string, error) {
	if p == nil {
		return "", nil
	}
	if d.WhereMustBeStructured {
		return d.Compiler.Compile(p, filter.TopLevel)
	}
	s, ok := p.(predicate.String)
	if !ok {
		return "", planerr.Internal("%s: cannot render %T as SQL", d.Name, p)
	}
	return string(s), nil
}

// Literal renders an HWM value as a source literal.
func (d *Dialect) Literal(v hwm.Value) (string, error) {
	if d.WhereMustBeStructured {
		p, err := mongoLiteral(v)
		if err != nil {
			return "", err
		}
		return d.Compiler.Compile(p, filter.Nested)
	}
	switch val := v.(type) {
	case nil:
		return "", planerr.Internal("%s: cannot render a nil HWM value", d.Name)
	case hwm.IntValue:
		return strconv.FormatInt(int64(val), 10), nil
	case hwm.DateValue:
		return d.DateLiteral(val.Time), nil
	case hwm.DateTimeValue:
		return d.DateTimeLiteral(val.Time), nil
	default:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'", nil
	}
}

func mongoLiteral(v hwm.Value) (predicate.Predicate, error) {
	switch val := v.(type) {
	case nil:
		return nil, planerr.Internal("cannot render a nil HWM value")
	case hwm.IntValue:
		return predicate.Int(val), nil
	case hwm.DateValue:
		return predicate.MustObject(predicate.F("$date", predicate.String(val.UTC().Format(time.RFC3339)))), nil
	case hwm.DateTimeValue:
		return predicate.MustObject(predicate.F("$date", predicate.String(val.UTC().Format(time.RFC3339Nano)))), nil
	default:
		return predicate.String(v.String()), nil
	}
}

// Target is the HWM column a boundary applies to.
type Target struct {
	Column     string
	Expression string
}

func (t Target) expr() string {
	if t.Expression != "" {
		return t.Expression
	}
	return t.Column
}

// RenderBoundary renders where combined with the HWM boundary condition.
//
// SQL dialects produce "(where) AND expr > lower AND expr <= upper", leaving
// out absent parts. Structured dialects produce
// {$and:[where,{'column':{$gt:lower,$lte:upper}}]}, or the condition alone
// when there is no where.
func (d *Dialect) RenderBoundary(where predicate.Predicate, target Target, b hwm.Boundary) (string, error) {
	if d.WhereMustBeStructured {
		return d.renderStructuredBoundary(where, target, b)
	}

	rendered, err := d.RenderWhere(where)
	if err != nil {
		return "", err
	}
	var parts []string
	if rendered != "" {
		parts = append(parts, "("+rendered+")")
	}
	if b.Lower != nil {
		lit, err := d.Literal(b.Lower)
		if err != nil {
			return "", err
		}
		parts = append(parts, target.expr()+" > "+lit)
	}
	if b.Upper != nil {
		lit, err := d.Literal(b.Upper)
		if err != nil {
			return "", err
		}
		parts = append(parts, target.expr()+" <= "+lit)
	}
	return strings.Join(parts, " AND "), nil
}

func (d *Dialect) renderStructuredBoundary(where predicate.Predicate, target Target, b hwm.Boundary) (string, error) {
	var ops []predicate.Field
	if b.Lower != nil {
		lit, err := mongoLiteral(b.Lower)
		if err != nil {
			return "", err
		}
		ops = append(ops, predicate.F("$gt", lit))
	}
	if b.Upper != nil {
		lit, err := mongoLiteral(b.Upper)
		if err != nil {
			return "", err
		}
		ops = append(ops, predicate.F("$lte", lit))
	}
	if len(ops) == 0 {
		return d.RenderWhere(where)
	}

	cond := predicate.MustObject(predicate.F(target.Column, predicate.MustObject(ops...)))
	if where == nil {
		return d.Compiler.Compile(cond, filter.TopLevel)
	}
	combined := predicate.MustObject(predicate.F("$and", predicate.NewSequence(where, cond)))
	return d.Compiler.Compile(combined, filter.TopLevel)
}

// RenderQuery renders the full read statement. For structured dialects it is
// the aggregation stage {$match:where}, or empty without a where.
func (d *Dialect) RenderQuery(table string, columns []string, where, hint string) string {
	if d.WhereMustBeStructured {
		if where == "" {
			return ""
		}
		return "{$match:" + where + "}"
	}
	projection := "*"
	if len(columns) > 0 {
		projection = strings.Join(columns, ", ")
	}
	return selectStatement(table, projection, where, hint)
}

// MinMaxQuery renders the probe statement returning min_value and max_value
// of the HWM column or expression.
func (d *Dialect) MinMaxQuery(table string, target Target, where, hint string) string {
	if d.WhereMustBeStructured {
		field := "'$" + target.Column + "'"
		group := "{$group:{_id:null,min_value:{$min:" + field + "},max_value:{$max:" + field + "}}}"
		if where == "" {
			return "[" + group + "]"
		}
		return "[{$match:" + where + "}," + group + "]"
	}
	expr := target.expr()
	projection := "MIN(" + expr + ") AS min_value, MAX(" + expr + ") AS max_value"
	return selectStatement(table, projection, where, hint)
}

func selectStatement(table, projection, where, hint string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if hint != "" {
		b.WriteString("/*+ ")
		b.WriteString(hint)
		b.WriteString(" */ ")
	}
	b.WriteString(projection)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String()
}
