package hwm

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidemark/internal/planerr"
)

func batchRequest(b Batch) Request {
	req := intRequest()
	req.Batch = &b
	return req
}

func bounds(t *testing.T, it *BatchIterator) []string {
	t.Helper()
	all, err := it.All()
	require.NoError(t, err)
	out := make([]string, len(all))
	for i, b := range all {
		out[i] = b.String()
	}
	return out
}

func TestBatchIterator(t *testing.T) {
	tests := []struct {
		name  string
		start Value
		stop  Value
		step  string
		want  []string
	}{
		{name: "even steps", start: IntValue(1000), stop: IntValue(1300), step: "100",
			want: []string{"(1000, 1100]", "(1100, 1200]", "(1200, 1300]"}},
		{name: "last step clamped to stop", start: IntValue(0), stop: IntValue(25), step: "10",
			want: []string{"(0, 10]", "(10, 20]", "(20, 25]"}},
		{name: "start at stop", start: IntValue(5), stop: IntValue(5), step: "1"},
		{name: "start past stop", start: IntValue(9), stop: IntValue(5), step: "1"},
		{name: "no stop", start: IntValue(1), stop: nil, step: "1"},
		{name: "no start reads up to stop", start: nil, stop: IntValue(7), step: "3",
			want: []string{"(-, 7]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := NewBatchIterator(IntKind{}, tt.step, tt.start, tt.stop)
			require.NoError(t, err)
			got := bounds(t, it)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBatchIterator_Dates(t *testing.T) {
	it, err := NewBatchIterator(DateKind{}, "2d", NewDate(2024, 3, 1), NewDate(2024, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"(2024-03-01, 2024-03-03]",
		"(2024-03-03, 2024-03-05]",
		"(2024-03-05, 2024-03-06]",
	}, bounds(t, it))

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	it, err = NewBatchIterator(DateTimeKind{}, "12h", DateTimeValue{ts}, DateTimeValue{ts.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, bounds(t, it), 2)
}

func TestBatchIterator_Rejects(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		step string
		code planerr.Code
	}{
		{name: "empty step", kind: IntKind{}, step: " ", code: planerr.CodeInvalidInput},
		{name: "zero step", kind: IntKind{}, step: "0", code: planerr.CodeInvalidInput},
		{name: "negative step", kind: IntKind{}, step: "-5", code: planerr.CodeInvalidInput},
		{name: "fractional step", kind: IntKind{}, step: "1.5", code: planerr.CodeTypeMismatch},
		{name: "partial day on dates", kind: DateKind{}, step: "36h", code: planerr.CodeTypeMismatch},
		{name: "kind without steps", kind: plainStepKind{}, step: "1", code: planerr.CodeUnsupportedCapability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var start, stop Value = IntValue(0), IntValue(10)
			if tt.kind.Name() == KindDate {
				start, stop = NewDate(2024, 1, 1), NewDate(2024, 2, 1)
			}
			it, err := NewBatchIterator(tt.kind, tt.step, start, stop)
			if err == nil {
				_, err = it.All()
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, planerr.CodeOf(err))
		})
	}
}

type plainStepKind struct{ IntKind }

// ApplyStep is shadowed so plainStepKind does not satisfy Stepper.
func (plainStepKind) ApplyStep() {}

func TestBatchIterator_Limit(t *testing.T) {
	it, err := NewBatchIterator(IntKind{}, "1", IntValue(0), IntValue(maxBatches+1))
	require.NoError(t, err)
	_, err = it.All()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batches")
}

func TestEngine_BeginBatch_ColdStartFromProbe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := NewEngine(store, &stubProbe{min: int64(1), max: int64(250)}, zerolog.Nop())
	req := batchRequest(Batch{Step: "100"})

	var got []string
	for i := 0; i < 5; i++ {
		prop, b, more, err := e.BeginBatch(ctx, req)
		require.NoError(t, err)
		got = append(got, b.String())
		require.NoError(t, e.Commit(ctx, prop, true))
		if !more {
			break
		}
	}
	// The probed minimum is read by the first batch.
	assert.Equal(t, []string{"(-, 101]", "(101, 201]", "(201, 250]"}, got)

	st, err := store.Load(ctx, ordersID)
	require.NoError(t, err)
	assert.Equal(t, IntValue(250), st.Value)

	prop, b, more, err := e.BeginBatch(ctx, req)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, "(250, 250]", b.String())
	assert.Equal(t, IntValue(250), prop.State.Value)
}

func TestEngine_BeginBatch_ExplicitBounds(t *testing.T) {
	ctx := context.Background()
	probe := &stubProbe{min: int64(1), max: int64(5000)}
	e := NewEngine(NewMemoryStore(), probe, zerolog.Nop())

	it, err := e.Batches(ctx, batchRequest(Batch{Step: "100", Start: "1000", Stop: "1250"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"(1000, 1100]", "(1100, 1200]", "(1200, 1250]"}, bounds(t, it))
	assert.Empty(t, probe.calls, "explicit start and stop need no probe")
}

func TestEngine_BeginBatch_WarmStartWithOffset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, ordersID, State{Name: "id", Kind: IntKind{}, Value: IntValue(1000)}))
	e := NewEngine(store, &stubProbe{min: int64(1), max: int64(1150)}, zerolog.Nop())

	req := batchRequest(Batch{Step: "100"})
	req.Offset = "50"
	prop, b, more, err := e.BeginBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "(950, 1100]", b.String())
	assert.True(t, more)
	assert.Equal(t, IntValue(1100), prop.State.Value)

	// Steps are taken from the stored value, so a wide offset still advances.
	req.Offset = "500"
	prop, b, more, err = e.BeginBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "(500, 1100]", b.String())
	assert.True(t, more)
	assert.Equal(t, IntValue(1100), prop.State.Value)
}

func TestEngine_BeginBatch_NoRows(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(NewMemoryStore(), &stubProbe{}, zerolog.Nop())

	prop, b, more, err := e.BeginBatch(ctx, batchRequest(Batch{Step: "10"}))
	require.NoError(t, err)
	assert.False(t, more)
	assert.True(t, b.IsOpen())
	assert.Nil(t, prop.State.Value)
}

func TestEngine_BeginBatch_Rejects(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(NewMemoryStore(), &stubProbe{min: int64(1), max: int64(10)}, zerolog.Nop())

	_, _, _, err := e.BeginBatch(ctx, intRequest())
	assert.True(t, planerr.IsCode(err, planerr.CodeInvalidInput), "missing batch")

	_, _, _, err = e.BeginBatch(ctx, batchRequest(Batch{Step: "1", Stop: "soon"}))
	assert.True(t, planerr.IsCode(err, planerr.CodeTypeMismatch), "unparseable stop")
}
