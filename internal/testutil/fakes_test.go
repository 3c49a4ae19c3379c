package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidemark/internal/columns"
	"github.com/roach88/tidemark/internal/hwm"
)

func TestFakeSchema(t *testing.T) {
	s := NewFakeSchema().WithTable("public.orders",
		columns.Field{Name: "id", Type: "bigint"},
		columns.Field{Name: "h", Type: "date"},
	)

	fields, err := s.Schema(context.Background(), "public.orders", []string{"*"})
	require.NoError(t, err)
	assert.Len(t, fields, 2)

	fields, err = s.Schema(context.Background(), "public.orders", []string{"H"})
	require.NoError(t, err)
	assert.Equal(t, []columns.Field{{Name: "h", Type: "date"}}, fields)

	_, err = s.Schema(context.Background(), "public.missing", nil)
	assert.Error(t, err)
	assert.Equal(t, 3, s.Calls())
}

func TestFakeProbe(t *testing.T) {
	p := NewFakeProbe(int64(10))
	req := hwm.ProbeRequest{Table: "t", Column: "id"}

	min, max, err := p.MinMax(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, min)
	assert.Equal(t, int64(10), max)

	p.Set(int64(1), int64(20))
	min, max, err = p.MinMax(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(20), max)

	p.Fail(ErrInjected)
	_, _, err = p.MinMax(context.Background(), req)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Len(t, p.Requests(), 3)
}

func TestFailingStore(t *testing.T) {
	ctx := hwm.WithPlanID(context.Background(), "plan-1")
	s := NewFailingStore(nil)
	id := hwm.Identity{Source: "s", Table: "t", Column: "id"}
	st := hwm.State{Name: "id", Kind: hwm.IntKind{}, Value: hwm.IntValue(1)}

	s.FailSave(ErrInjected)
	assert.ErrorIs(t, s.Save(ctx, id, st), ErrInjected)
	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	s.FailSave(nil)
	require.NoError(t, s.Save(ctx, id, st))
	assert.Equal(t, 2, s.Saves())
	assert.Equal(t, "plan-1", s.LastPlanID())

	s.FailLoad(ErrInjected)
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrInjected)
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "plan-1", g.Generate())
	assert.Equal(t, "plan-2", g.Generate())
	assert.Equal(t, "run-1", NewSequentialIDs("run").Generate())
}
