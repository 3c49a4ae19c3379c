// Package filter renders predicate trees into query fragments for document
// style sources and validates the operators allowed at the top level of a
// where clause.
package filter

import (
	"math"
	"strconv"
	"strings"

	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/predicate"
)

// Position tells the compiler whether a predicate is the outermost value of
// a where/hint parameter or a value nested inside one.
type Position int

const (
	// TopLevel is the outermost value of a where or hint parameter.
	TopLevel Position = iota
	// Nested is any value below the top level.
	Nested
)

// DefaultForbiddenOperators are the pipeline stage operators that cannot
// appear at the top level of a where clause.
var DefaultForbiddenOperators = []string{
	"$addFields", "$bucket", "$bucketAuto", "$changeStream", "$collStats",
	"$count", "$currentOp", "$densify", "$documents", "$facet", "$fill",
	"$geoNear", "$graphLookup", "$group", "$indexStats", "$limit",
	"$listLocalSessions", "$listSessions", "$lookup", "$merge", "$out",
	"$planCacheStats", "$project", "$redact", "$replaceRoot", "$replaceWith",
	"$sample", "$search", "$searchMeta", "$set", "$setWindowFields",
	"$shardedDataDistribution", "$skip", "$sort", "$sortByCount",
	"$unionWith", "$unset", "$unwind",
}

// Compiler renders predicates and validates top-level operators.
// A Compiler is immutable after New and safe for concurrent use.
type Compiler struct {
	prefix    string
	match     string
	forbidden map[string]struct{}
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithOperatorPrefix sets the prefix that marks operator keys.
func WithOperatorPrefix(prefix string) Option {
	return func(c *Compiler) { c.prefix = prefix }
}

// WithMatchOperator sets the operator rejected as an already wrapped condition.
func WithMatchOperator(op string) Option {
	return func(c *Compiler) { c.match = op }
}

// WithForbiddenOperators replaces the forbidden operator set.
func WithForbiddenOperators(ops ...string) Option {
	return func(c *Compiler) {
		c.forbidden = make(map[string]struct{}, len(ops))
		for _, op := range ops {
			c.forbidden[op] = struct{}{}
		}
	}
}

// New creates a Compiler. Defaults: prefix "$", match operator "$match",
// forbidden set DefaultForbiddenOperators.
func New(opts ...Option) *Compiler {
	c := &Compiler{prefix: "$", match: "$match"}
	WithForbiddenOperators(DefaultForbiddenOperators...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsOperator reports whether key names an operator.
func (c *Compiler) IsOperator(key string) bool {
	return c.prefix != "" && strings.HasPrefix(key, c.prefix)
}

// Compile renders p into a query fragment.
//
// Objects render as {k:v,...} with operator keys bare and other keys quoted,
// sequences as [v,...], strings single-quoted, booleans lowercase, null as
// null and numbers in decimal form. At TopLevel a bare string is rejected:
// where and hint must be structured.
func (c *Compiler) Compile(p predicate.Predicate, pos Position) (string, error) {
	if pos == TopLevel && predicate.IsString(p) {
		return "", planerr.StructuralInput("", "parameter cannot be a string, a structured object must be passed")
	}

	var b strings.Builder
	if err := c.write(&b, p); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Compiler) write(b *strings.Builder, p predicate.Predicate) error {
	switch v := p.(type) {
	case predicate.Object:
		b.WriteByte('{')
		for i, f := range v.Fields() {
			if i > 0 {
				b.WriteByte(',')
			}
			c.writeKey(b, f.Key)
			b.WriteByte(':')
			if err := c.write(b, f.Value); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case predicate.Sequence:
		b.WriteByte('[')
		for i, item := range v.Items() {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := c.write(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case predicate.String:
		writeQuoted(b, string(v))
	case predicate.Int:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case predicate.Float:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return planerr.Internal("cannot render non-finite float %v", f)
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	case predicate.Bool:
		b.WriteString(strconv.FormatBool(bool(v)))
	case predicate.Null:
		b.WriteString("null")
	default:
		return planerr.Internal("unsupported predicate type: %T", p)
	}
	return nil
}

func (c *Compiler) writeKey(b *strings.Builder, key string) {
	if c.IsOperator(key) {
		b.WriteString(key)
		return
	}
	writeQuoted(b, key)
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('\'')
	b.WriteString(s)
	b.WriteByte('\'')
}

// ValidateTopLevel checks the outermost keys of a where predicate.
// The wrapped match operator and forbidden stage operators fail; every other
// key, operator or not, is accepted. Nested levels are not inspected.
func (c *Compiler) ValidateTopLevel(p predicate.Predicate) error {
	obj, ok := p.(predicate.Object)
	if !ok {
		return nil
	}

	for _, key := range obj.Keys() {
		if !c.IsOperator(key) {
			continue
		}
		if key == c.match {
			return planerr.ForbiddenOperator(key,
				key+" operator is not allowed at the top level of where: "+
					"supply the filtering condition unwrapped, e.g. {'column': ...} instead of {'"+key+"': {'column': ...}}")
		}
		if _, bad := c.forbidden[key]; bad {
			return planerr.ForbiddenOperator(key,
				"invalid operator '"+key+"' in where: aggregation and pipeline stage operators are not allowed")
		}
	}
	return nil
}
