package filter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors the promauto.NewCounterVec/NewGaugeVec construction style
// used throughout the corpus for per-subsystem instrumentation.
type metrics struct {
	recordsSent      *prometheus.CounterVec
	recordsDropped   *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	dedupeHits       prometheus.Counter
	breakerRejects   *prometheus.CounterVec
	chainLatencySecs *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		recordsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "madara",
			Subsystem: "filter",
			Name:      "records_sent_total",
			Help:      "Records that passed the send filter chain.",
		}, []string{"peer"}),
		recordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "madara",
			Subsystem: "filter",
			Name:      "records_dropped_total",
			Help:      "Records vetoed by a record filter, and sends refused by peer policy or the bandwidth limiter.",
		}, []string{"reason"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "madara",
			Subsystem: "filter",
			Name:      "bytes_sent_total",
			Help:      "Bytes accepted by the bandwidth limiter per peer.",
		}, []string{"peer"}),
		dedupeHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "madara",
			Subsystem: "filter",
			Name:      "dedupe_hits_total",
			Help:      "Rebroadcasts suppressed as already-seen.",
		}),
		breakerRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "madara",
			Subsystem: "filter",
			Name:      "breaker_rejects_total",
			Help:      "Sends rejected by an open circuit breaker.",
		}, []string{"peer"}),
		chainLatencySecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "madara",
			Subsystem: "filter",
			Name:      "chain_latency_seconds",
			Help:      "Time spent running a record through its filter chain.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
	}
}
