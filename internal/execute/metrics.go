package execute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drive_monitor_tool_duration_seconds",
			Help:    "Wall time of external diagnostic tool invocations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	toolFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_monitor_tool_failures_total",
			Help: "Tool invocations that could not be run or whose output could not be parsed",
		},
		[]string{"tool"},
	)
)

// CountFailure records a failed invocation of the named tool. Adapters call
// it when output cannot be parsed; Run calls it when the process fails.
func CountFailure(name string) {
	toolFailures.WithLabelValues(ToolName(name)).Inc()
}
