// Package observability wires the transform's ambient logging and metrics
// concerns: structured logging via log/slog (following the teacher's
// MetricsRecorder/noopLogger shape, generalized to the stdlib logger since
// no pack repo imports a third-party logging library) and Prometheus
// counters/histograms, actually exercising the client_golang dependency the
// teacher's own go.mod declares but never calls.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the counters and histograms the Orchestrator updates as
// it runs: rows cloned per pass, dangling references encountered, remap
// table run counts, and pass duration.
type Metrics struct {
	RowsCloned         *prometheus.CounterVec
	DanglingReferences prometheus.Counter
	RemapRuns          *prometheus.GaugeVec
	PassDuration       *prometheus.HistogramVec
}

// NewMetrics constructs a Metrics set registered against reg. Passing a
// fresh prometheus.NewRegistry() per transform run keeps repeated runs from
// colliding on the global default registry's metric names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsCloned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xform",
			Name:      "rows_cloned_total",
			Help:      "Rows cloned into the target database, by pass.",
		}, []string{"pass"}),
		DanglingReferences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xform",
			Name:      "dangling_references_total",
			Help:      "References that resolved to invalid during hydrate.",
		}),
		RemapRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xform",
			Name:      "remap_table_runs",
			Help:      "Number of contiguous runs held by each remap table.",
		}, []string{"kind"}),
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xform",
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of each orchestrator pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
	}
	reg.MustRegister(m.RowsCloned, m.DanglingReferences, m.RemapRuns, m.PassDuration)
	return m
}

// ObservePass records a pass's duration under its name, returned as a
// func the caller defers at the top of the pass.
func (m *Metrics) ObservePass(pass string) func() {
	start := time.Now()
	return func() {
		m.PassDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
	}
}
