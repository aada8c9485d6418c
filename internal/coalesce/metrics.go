package coalesce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "drive_monitor_cache_calls_total",
		Help: "Coalescing cache lookups by outcome",
	},
	[]string{"cache", "result"}, // hit, miss, attach
)
