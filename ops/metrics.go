package ops

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the Prometheus instrumentation shared across collections,
// sync ingestion, and live-query runtimes. A single Metrics instance is
// normally registered once per process and threaded through
// collection.Options.Metrics and the UseMetrics setters of
// livequery.Runtime and livequery.Scheduler; the zero value is nil-safe via the
// package-level Noop().
type Metrics struct {
	CollectionSize      *prometheus.GaugeVec
	SubscriberCount      *prometheus.GaugeVec
	GCTimerArmed         *prometheus.CounterVec
	GCTimerFired         *prometheus.CounterVec
	LiveQueryRunDuration *prometheus.HistogramVec
	SchedulerDedup       *prometheus.CounterVec
	IndexBuildDuration   *prometheus.HistogramVec
}

// NewMetrics constructs and registers the standard metric set against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var m = &Metrics{
		CollectionSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "livedb",
			Name:      "collection_size",
			Help:      "Number of keys currently visible in a collection.",
		}, []string{"collection"}),
		SubscriberCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "livedb",
			Name:      "collection_subscribers",
			Help:      "Active change subscribers of a collection.",
		}, []string{"collection"}),
		GCTimerArmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "gc_timer_armed_total",
			Help:      "Number of times a collection's GC timer was armed.",
		}, []string{"collection"}),
		GCTimerFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "gc_timer_fired_total",
			Help:      "Number of times a collection's GC timer fired and cleaned up state.",
		}, []string{"collection"}),
		LiveQueryRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livedb",
			Name:      "live_query_run_seconds",
			Help:      "Duration of a single dataflow graph run for a live query.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		SchedulerDedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "scheduler_dedup_total",
			Help:      "Number of schedule() calls collapsed by the transaction-scoped scheduler.",
		}, []string{"job"}),
		IndexBuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livedb",
			Name:      "index_build_seconds",
			Help:      "Duration of a secondary index build.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
	}

	for _, c := range []prometheus.Collector{
		m.CollectionSize, m.SubscriberCount, m.GCTimerArmed, m.GCTimerFired,
		m.LiveQueryRunDuration, m.SchedulerDedup, m.IndexBuildDuration,
	} {
		reg.MustRegister(c)
	}
	return m
}

var noop = &Metrics{
	CollectionSize:       prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "noop_gauge_1"}, []string{"collection"}),
	SubscriberCount:      prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "noop_gauge_2"}, []string{"collection"}),
	GCTimerArmed:         prometheus.NewCounterVec(prometheus.CounterOpts{Name: "noop_counter_1"}, []string{"collection"}),
	GCTimerFired:         prometheus.NewCounterVec(prometheus.CounterOpts{Name: "noop_counter_2"}, []string{"collection"}),
	LiveQueryRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "noop_hist_1"}, []string{"query"}),
	SchedulerDedup:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "noop_counter_3"}, []string{"job"}),
	IndexBuildDuration:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "noop_hist_2"}, []string{"collection"}),
}

// Noop returns a Metrics instance that is never registered to any registry;
// useful as a default so components never need a nil check.
func Noop() *Metrics { return noop }
