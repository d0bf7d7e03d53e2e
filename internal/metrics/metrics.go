// Package metrics exposes Prometheus collectors for the render pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts completed render sessions by outcome
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daedalus",
		Subsystem: "render",
		Name:      "sessions_total",
		Help:      "Completed render sessions by outcome.",
	}, []string{"outcome"})

	// SessionDuration observes end-to-end render session latency
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daedalus",
		Subsystem: "render",
		Name:      "session_duration_seconds",
		Help:      "End-to-end render session latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// ResolutionsTotal counts bridge node resolutions by terminal state
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daedalus",
		Subsystem: "render",
		Name:      "resolutions_total",
		Help:      "Bridge node resolutions by terminal state.",
	}, []string{"state"})

	// DegradedNodes counts fallback placeholders rendered under best-effort mode
	DegradedNodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "daedalus",
		Subsystem: "render",
		Name:      "degraded_nodes_total",
		Help:      "Bridge nodes rendered as fallback placeholders.",
	})

	// RebuildsTotal counts rebuild notifications emitted by the watcher
	RebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "daedalus",
		Subsystem: "dev",
		Name:      "rebuilds_total",
		Help:      "Rebuild notifications emitted by the file watcher.",
	})
)
