// Package metrics exposes Prometheus collectors for pipeline runs and external API calls.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker state values reported by the api_breaker_state gauge.
const (
	breakerClosed   = 0
	breakerHalfOpen = 1
	breakerOpen     = 2
)

// PipelineMetrics contains Prometheus metrics for fetches, per-item outcomes, inserted rows and runs.
//
// It satisfies both services.FetchObserver and tasks.Observer.
type PipelineMetrics struct {
	registry *prometheus.Registry

	// External API metrics
	fetchesTotal *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	breakerState *prometheus.GaugeVec

	// Pipeline metrics
	itemsTotal   *prometheus.CounterVec
	rowsInserted *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers new pipeline metrics
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunelog_api_fetches_total",
			Help: "Total number of classified external API calls",
		},
		[]string{"api", "outcome"}, // outcome: success, not_found, unknown, rate_limited
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunelog_api_retries_total",
			Help: "Total number of rate-limited attempts that were retried",
		},
		[]string{"api"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tunelog_api_breaker_state",
			Help: "Circuit breaker state per API (0 closed, 1 half-open, 2 open)",
		},
		[]string{"api"},
	)

	m.itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunelog_items_total",
			Help: "Total number of items processed per stage and status",
		},
		[]string{"stage", "status"}, // status: resolved, negative, skipped
	)

	m.rowsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunelog_rows_inserted_total",
			Help: "Total number of rows inserted per table",
		},
		[]string{"table"},
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunelog_runs_total",
			Help: "Total number of pipeline runs per kind and status",
		},
		[]string{"kind", "status"},
	)
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.fetchesTotal.Describe(ch)
	m.retriesTotal.Describe(ch)
	m.breakerState.Describe(ch)
	m.itemsTotal.Describe(ch)
	m.rowsInserted.Describe(ch)
	m.runsTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.fetchesTotal.Collect(ch)
	m.retriesTotal.Collect(ch)
	m.breakerState.Collect(ch)
	m.itemsTotal.Collect(ch)
	m.rowsInserted.Collect(ch)
	m.runsTotal.Collect(ch)
}

// ObserveFetch records one classified API call.
func (m *PipelineMetrics) ObserveFetch(api, outcome string) {
	m.fetchesTotal.WithLabelValues(api, outcome).Inc()
}

// ObserveRetry records one retried 429.
func (m *PipelineMetrics) ObserveRetry(api string) {
	m.retriesTotal.WithLabelValues(api).Inc()
}

// ObserveBreakerState records a breaker transition. Unknown states are ignored.
func (m *PipelineMetrics) ObserveBreakerState(api, state string) {
	var v float64
	switch state {
	case "closed":
		v = breakerClosed
	case "half-open":
		v = breakerHalfOpen
	case "open":
		v = breakerOpen
	default:
		return
	}
	m.breakerState.WithLabelValues(api).Set(v)
}

// ObserveItem records one per-item outcome.
func (m *PipelineMetrics) ObserveItem(stage, status string) {
	m.itemsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveRows adds n inserted rows for table.
func (m *PipelineMetrics) ObserveRows(table string, n int) {
	if n <= 0 {
		return
	}
	m.rowsInserted.WithLabelValues(table).Add(float64(n))
}

// ObserveRun records a finished run.
func (m *PipelineMetrics) ObserveRun(kind, status string) {
	m.runsTotal.WithLabelValues(kind, status).Inc()
}

// WriteTextfile writes every metric in the registry to path in the node exporter textfile format.
// An empty path is a no-op.
func (m *PipelineMetrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
