package columns

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidemark/internal/planerr"
)

type countingLookup struct {
	fields []Field
	err    error
	calls  int
}

func (l *countingLookup) Schema(_ context.Context, _ string, _ []string) ([]Field, error) {
	l.calls++
	return l.fields, l.err
}

func ordersSchema() *countingLookup {
	return &countingLookup{fields: []Field{
		{Name: "id", Type: "bigint"},
		{Name: "Status", Type: "text"},
		{Name: "h", Type: "text"},
	}}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		hwm       *HWMColumn
		want      []string
		calls     int
	}{
		{
			name:  "nil means wildcard",
			want:  []string{"id", "Status", "h"},
			calls: 1,
		},
		{
			name:      "explicit columns kept in order",
			requested: []string{"status", "id"},
			want:      []string{"status", "id"},
		},
		{
			name:      "wildcard expanded in place",
			requested: []string{"extra", "*", "other"},
			want:      []string{"extra", "id", "Status", "h", "other"},
			calls:     1,
		},
		{
			name:      "each wildcard looks up once",
			requested: []string{"*", "*"},
			want:      []string{"id", "Status", "h"},
			calls:     2,
		},
		{
			name:      "first casing wins",
			requested: []string{"Col", "col", "COL"},
			want:      []string{"Col"},
		},
		{
			name:      "hwm appended",
			requested: []string{"id"},
			hwm:       &HWMColumn{Name: "updated_at"},
			want:      []string{"id", "updated_at"},
		},
		{
			name:      "hwm replaces case-insensitive match",
			requested: []string{"ID", "Updated_At", "status"},
			hwm:       &HWMColumn{Name: "updated_at"},
			want:      []string{"ID", "updated_at", "status"},
		},
		{
			name:  "hwm expression replaces schema column",
			hwm:   &HWMColumn{Name: "h", Expression: "cast(h as date)"},
			want:  []string{"id", "Status", "cast(h as date) AS h"},
			calls: 1,
		},
		{
			name:      "hwm expression appended",
			requested: []string{"id"},
			hwm:       &HWMColumn{Name: "h", Expression: "cast(h as date)"},
			want:      []string{"id", "cast(h as date) AS h"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := ordersSchema()
			got, err := Resolve(context.Background(), Request{
				Table:     "public.orders",
				Requested: tt.requested,
				Lookup:    lookup,
				HWM:       tt.hwm,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.calls, lookup.calls)
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	hwm := &HWMColumn{Name: "h", Expression: "cast(h as date)"}
	req := Request{Table: "t", Lookup: ordersSchema(), HWM: hwm}

	first, err := Resolve(context.Background(), req)
	require.NoError(t, err)

	req.Requested = first
	second, err := Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_NoLookupKeepsWildcard(t *testing.T) {
	got, err := Resolve(context.Background(), Request{Table: "t", HWM: &HWMColumn{Name: "id"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"*", "id"}, got)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		check func(error) bool
	}{
		{
			name:  "empty list",
			req:   Request{Requested: []string{}},
			check: planerr.IsStructuralInput,
		},
		{
			name:  "blank entry",
			req:   Request{Requested: []string{"id", "  "}},
			check: planerr.IsStructuralInput,
		},
		{
			name:  "explicit alias of hwm expression",
			req:   Request{Requested: []string{"id", "H"}, HWM: &HWMColumn{Name: "h", Expression: "cast(h as date)"}},
			check: planerr.IsColumnConflict,
		},
		{
			name:  "blank hwm name",
			req:   Request{HWM: &HWMColumn{Name: ""}},
			check: planerr.IsStructuralInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestResolve_LookupError(t *testing.T) {
	boom := errors.New("table not found")
	_, err := Resolve(context.Background(), Request{Table: "t", Lookup: &countingLookup{err: boom}})
	assert.ErrorIs(t, err, boom)
}

func TestAlias(t *testing.T) {
	assert.Equal(t, "h", Alias("cast(h as date) AS h"))
	assert.Equal(t, "h", Alias("cast(h as date) as h"))
	assert.Equal(t, "id", Alias(" id "))
	assert.Equal(t, "cast(h as date)", Alias("cast(h as date)"))
}

func TestStatic(t *testing.T) {
	s := Static{{Name: "id", Type: "int"}, {Name: "Updated_At", Type: "timestamp"}}

	all, err := s.Schema(context.Background(), "t", []string{"*"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := s.Schema(context.Background(), "t", []string{"updated_at", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []Field{{Name: "Updated_At", Type: "timestamp"}}, some)

	_, ok := s.Find("ID")
	assert.True(t, ok)
}

func TestStatic_MatchesAlias(t *testing.T) {
	s := Static{{Name: "h", Type: "date"}}
	got, err := s.Schema(context.Background(), "t", []string{"id", "cast(h as date) AS h"})
	require.NoError(t, err)
	assert.Equal(t, []Field{{Name: "h", Type: "date"}}, got)
}
