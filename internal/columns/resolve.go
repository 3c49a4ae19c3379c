// Package columns resolves the final projection of a read: wildcard expansion
// through a schema lookup, case-insensitive deduplication and placement of the
// HWM column statement.
package columns

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/tidemark/internal/planerr"
)

// Wildcard selects every column of the table.
const Wildcard = "*"

// Field is one column of a table schema.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// SchemaLookup returns the schema of table restricted to columns.
type SchemaLookup interface {
	Schema(ctx context.Context, table string, columns []string) ([]Field, error)
}

// Static is a fixed schema, used for caller-supplied schema hints.
type Static []Field

// Schema returns the fields named in columns, or all of them for a wildcard.
// Projection entries with an alias match the field named by the alias.
func (s Static) Schema(_ context.Context, _ string, columns []string) ([]Field, error) {
	all := len(columns) == 0
	for _, c := range columns {
		if c == Wildcard {
			all = true
		}
	}
	if all {
		return append([]Field(nil), s...), nil
	}
	var out []Field
	for _, c := range columns {
		if f, ok := s.Find(Alias(c)); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// Find returns the field named name, compared case-insensitively.
func (s Static) Find(name string) (Field, bool) {
	for _, f := range s {
		if Equal(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// HWMColumn is the HWM column of a read and its optional source expression.
type HWMColumn struct {
	Name       string
	Expression string
}

// Statement is the projection entry for the HWM column.
func (h HWMColumn) Statement() string {
	if h.Expression == "" {
		return h.Name
	}
	return h.Expression + " AS " + h.Name
}

// Request is the input of Resolve.
type Request struct {
	Table string
	// Requested is nil when the caller did not specify columns.
	Requested []string
	// Lookup expands wildcards. Without one, wildcards are kept as is.
	Lookup SchemaLookup
	HWM    *HWMColumn
}

// Equal reports whether two column names are equal under Unicode case folding.
func Equal(a, b string) bool {
	return fold(a) == fold(b)
}

// fold builds a Caser per call: Casers are stateful and not safe for
// concurrent use.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Resolve returns the deduplicated projection for req. Resolving an already
// resolved list yields the same list.
func Resolve(ctx context.Context, req Request) ([]string, error) {
	requested := req.Requested
	if requested == nil {
		requested = []string{Wildcard}
	}
	if len(requested) == 0 {
		return nil, planerr.StructuralInput("columns", "columns list cannot be empty, omit it to read all columns")
	}

	hwm := req.HWM
	if hwm != nil && strings.TrimSpace(hwm.Name) == "" {
		return nil, planerr.StructuralInput("hwm.column", "hwm column name is required")
	}

	for i, c := range requested {
		if strings.TrimSpace(c) == "" {
			return nil, planerr.StructuralInput("columns", "column #%d is blank", i)
		}
		if hwm != nil && hwm.Expression != "" && Equal(c, hwm.Name) {
			return nil, planerr.ColumnConflict(c,
				"column %q is both requested and the alias of hwm expression %q; drop it from columns", c, hwm.Expression)
		}
	}

	expanded := make([]string, 0, len(requested))
	for _, c := range requested {
		if c != Wildcard || req.Lookup == nil {
			expanded = append(expanded, c)
			continue
		}
		fields, err := req.Lookup.Schema(ctx, req.Table, []string{Wildcard})
		if err != nil {
			return nil, fmt.Errorf("expand columns of %s: %w", req.Table, err)
		}
		for _, f := range fields {
			expanded = append(expanded, f.Name)
		}
	}

	resolved := unique(expanded)
	if hwm == nil {
		return resolved, nil
	}

	statement := hwm.Statement()
	for i, c := range resolved {
		if Equal(Alias(c), hwm.Name) {
			resolved[i] = statement
			return unique(resolved), nil
		}
	}
	return append(resolved, statement), nil
}

// unique drops case-insensitive duplicates, keeping the first spelling.
func unique(cols []string) []string {
	seen := make(map[string]struct{}, len(cols))
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		k := fold(c)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Alias returns the output name of a projection entry: the identifier after
// a trailing " AS ", otherwise the entry itself.
func Alias(entry string) string {
	entry = strings.TrimSpace(entry)
	for i := len(entry) - 4; i >= 0; i-- {
		if !strings.EqualFold(entry[i:i+4], " as ") {
			continue
		}
		alias := strings.TrimSpace(entry[i+4:])
		if alias != "" && !strings.ContainsAny(alias, " \t\n()") {
			return alias
		}
		break
	}
	return entry
}
