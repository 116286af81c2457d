// Package metrics exposes Prometheus counters for the logging pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	entries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooklog_entries_total",
			Help: "Total number of log entries emitted, by level",
		},
		[]string{"level"},
	)
	sinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooklog_sink_errors_total",
			Help: "Total number of failed sink operations",
		},
		[]string{"sink"},
	)
	dropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hooklog_dropped_total",
			Help: "Total number of entries a sink dropped instead of blocking the caller",
		},
		[]string{"sink"},
	)
	rotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hooklog_rotations_total",
		Help: "Total number of log file rotations",
	})
	pruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hooklog_pruned_files_total",
		Help: "Total number of log files deleted by retention",
	})
)

// IncEntries counts one emitted entry.
func IncEntries(level string) {
	entries.WithLabelValues(level).Inc()
}

// IncSinkError counts one failed sink operation.
func IncSinkError(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}

// IncDropped counts one entry dropped by a sink.
func IncDropped(sink string) {
	dropped.WithLabelValues(sink).Inc()
}

// IncRotations counts one completed rotation.
func IncRotations() {
	rotations.Inc()
}

// AddPruned counts files deleted by retention.
func AddPruned(n int) {
	if n > 0 {
		pruned.Add(float64(n))
	}
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
