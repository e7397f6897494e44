package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyql_requests_total",
				Help: "Number of query requests by operation, dialect and outcome.",
			},
			[]string{"operation", "dialect", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyql_request_duration_seconds",
				Help:    "Time spent handling a query request.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyql_translate_cache_hits_total",
				Help: "Number of translations served from the cache.",
			},
			[]string{"target"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyql_translate_cache_misses_total",
				Help: "Number of translations not found in the cache.",
			},
			[]string{"target"},
		),
	}
}
