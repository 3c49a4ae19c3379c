package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/planerr"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/testutil"
)

var _ planner.ProposalStore = (*Store)(nil)

func intProposal(t *testing.T, prev *int64, next int64) *hwm.Proposal {
	t.Helper()
	id := hwm.Identity{Source: "postgres", Table: "public.orders", Column: "id"}
	st, err := hwm.NewState("id", hwm.IntKind{}, "", next)
	require.NoError(t, err)
	var previous *hwm.State
	if prev != nil {
		p, err := hwm.NewState("id", hwm.IntKind{}, "", *prev)
		require.NoError(t, err)
		previous = &p
	}
	return hwm.NewProposal(id, st, previous)
}

func TestProposal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	prev := int64(10)

	require.NoError(t, s.SaveProposal(ctx, "plan-1", intProposal(t, &prev, 20)))

	p, err := s.LoadProposal(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, hwm.StatusProposed, p.Status())
	assert.Equal(t, "id#public.orders@postgres", p.Identity.QualifiedName())
	assert.Equal(t, hwm.IntValue(20), p.State.Value)
	require.NotNil(t, p.Previous)
	assert.Equal(t, hwm.IntValue(10), p.Previous.Value)

	err = s.SaveProposal(ctx, "plan-1", intProposal(t, nil, 30))
	assert.Error(t, err, "plan ids are unique")
}

func TestProposal_NoRowsValue(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	id := hwm.Identity{Source: "postgres", Table: "public.orders", Column: "id"}
	st, err := hwm.NewState("id", hwm.IntKind{}, "", nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveProposal(ctx, "plan-empty", hwm.NewProposal(id, st, nil)))
	p, err := s.LoadProposal(ctx, "plan-empty")
	require.NoError(t, err)
	assert.Nil(t, p.State.Value)
	assert.Nil(t, p.Previous)
}

func TestProposal_Settle(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.SaveProposal(ctx, "plan-1", intProposal(t, nil, 5)))

	require.NoError(t, s.SettleProposal(ctx, "plan-1", hwm.StatusAbandoned))
	p, err := s.LoadProposal(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, hwm.StatusAbandoned, p.Status())

	err = s.SettleProposal(ctx, "missing", hwm.StatusCommitted)
	assert.True(t, planerr.IsCode(err, planerr.CodeInvalidInput))

	_, err = s.LoadProposal(ctx, "missing")
	assert.True(t, planerr.IsCode(err, planerr.CodeInvalidInput))
}

func TestProposal_SaveCommitsInSameTransaction(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p := intProposal(t, nil, 7)
	require.NoError(t, s.SaveProposal(ctx, "plan-1", p))

	pending, err := s.PendingProposals(ctx, p.Identity)
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-1"}, pending)

	require.NoError(t, s.Save(hwm.WithPlanID(ctx, "plan-1"), p.Identity, p.State))

	loaded, err := s.LoadProposal(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, hwm.StatusCommitted, loaded.Status())

	pending, err = s.PendingProposals(ctx, p.Identity)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProposal_PlanThenCommitAcrossPlanners(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	d, err := dialect.Lookup(dialect.Postgres)
	require.NoError(t, err)

	ids := testutil.NewSequentialIDs("run")
	newPlanner := func(max int64) *planner.Planner {
		pl, err := planner.New(planner.Config{
			Dialect: d,
			Probe:   testutil.NewFakeProbe(max),
			Store:   s,
			IDs:     ids,
		})
		require.NoError(t, err)
		return pl
	}
	req := planner.Request{Table: "public.orders", HWM: &planner.HWMSpec{Column: "id", Type: "int"}}

	plan, err := newPlanner(100).Plan(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "run-1", plan.ID())

	require.NoError(t, newPlanner(0).CommitPlanID(ctx, "run-1", true))

	st, err := s.Load(ctx, plan.Proposal().Identity)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, hwm.IntValue(100), st.Value)

	history, err := s.History(ctx, plan.Proposal().Identity)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "run-1", history[0].PlanID)

	err = newPlanner(0).CommitPlanID(ctx, "run-1", true)
	require.Error(t, err, "settled once")

	next, err := newPlanner(150).Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "id > 100 AND id <= 150", next.Where())
}
