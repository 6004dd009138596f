package fanline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fanoutInserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanline_fanout_inserts",
		Help: "per-follower timeline cache inserts by status",
	}, []string{"status"})

	fanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanline_fanout_seconds",
		Help:    "time from dispatch to the last follower insert",
		Buckets: prometheus.ExponentialBucketsRange(0.0001, 30, 20),
	})

	dispatchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanline_dispatches",
		Help: "post dispatches by fanout class",
	}, []string{"class"})

	timelineReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanline_timeline_read_seconds",
		Help:    "home timeline read latency",
		Buckets: prometheus.ExponentialBucketsRange(0.0001, 10, 20),
	})

	pullTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanline_pull_fetch_timeouts",
		Help: "pull-side followee fetches omitted after timing out",
	})

	cacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanline_timeline_cache_fallbacks",
		Help: "home timeline reads served by full pull after a cache failure",
	})

	notifyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanline_notify_events",
		Help: "notification queue outcomes",
	}, []string{"status"})
)
