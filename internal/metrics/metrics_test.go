package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObservePlan("postgres", "incremental", OutcomeOK, 5*time.Millisecond)
	m.ObservePlan("postgres", "incremental", OutcomeOK, 7*time.Millisecond)
	m.ObservePlan("mongodb", "snapshot", OutcomeError, time.Millisecond)
	m.ObserveCommit(OutcomeCommitted)
	m.AddRows("public.orders", 42)
	m.AddRows("public.orders", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.plans.WithLabelValues("postgres", "incremental", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.plans.WithLabelValues("mongodb", "snapshot", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.rows.WithLabelValues("public.orders")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.planDuration))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePlan("postgres", "snapshot", OutcomeOK, time.Second)
	m.ObserveCommit(OutcomeAbandoned)
	m.AddRows("t", 1)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Push(context.Background(), "", ""))
}

func TestMetrics_Push(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := New()
	require.NoError(t, err)
	m.ObserveCommit(OutcomeCommitted)

	require.NoError(t, m.Push(context.Background(), srv.URL, ""))
	assert.Equal(t, "/metrics/job/tidemark", gotPath)
	assert.NotEmpty(t, gotBody)

	assert.Error(t, m.Push(context.Background(), "", "job"))
}
