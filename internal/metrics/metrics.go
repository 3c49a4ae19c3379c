// Package metrics collects planner counters in a private Prometheus registry
// and pushes them to a Pushgateway, since CLI runs are too short-lived to be
// scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCommitted = "committed"
	OutcomeAbandoned = "abandoned"
)

// Metrics holds the planner collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	plans        *prometheus.CounterVec   // tidemark_plans_total
	planDuration *prometheus.HistogramVec // tidemark_plan_duration_seconds
	commits      *prometheus.CounterVec   // tidemark_commits_total
	rows         *prometheus.CounterVec   // tidemark_rows_read_total
}

// New registers the planner collectors in a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	plans := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_plans_total",
			Help: "Read plans built, partitioned by dialect, mode and outcome.",
		},
		[]string{"dialect", "mode", "outcome"},
	)
	planDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidemark_plan_duration_seconds",
			Help:    "Time spent planning a read, including schema lookup and bounds probe.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"dialect", "mode"},
	)
	commits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_commits_total",
			Help: "HWM proposals settled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidemark_rows_read_total",
			Help: "Rows read by executed plans, partitioned by table.",
		},
		[]string{"table"},
	)

	for name, c := range map[string]prometheus.Collector{
		"plan counter":   plans,
		"plan histogram": planDuration,
		"commit counter": commits,
		"row counter":    rows,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}

	return &Metrics{
		reg:          reg,
		plans:        plans,
		planDuration: planDuration,
		commits:      commits,
		rows:         rows,
	}, nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObservePlan records one Plan call.
func (m *Metrics) ObservePlan(dialect, mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(dialect, mode, outcome).Inc()
	m.planDuration.WithLabelValues(dialect, mode).Observe(elapsed.Seconds())
}

// ObserveCommit records one settled proposal.
func (m *Metrics) ObserveCommit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

// AddRows records rows read from table.
func (m *Metrics) AddRows(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(table).Add(float64(n))
}

// Push sends the registry to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	if url == "" {
		return fmt.Errorf("metrics: pushgateway URL is required")
	}
	if job == "" {
		job = "tidemark"
	}
	if err := push.New(url, job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
