package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	requests    *prometheus.CounterVec
	generation  *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	stopReasons *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	rejected    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "starvec",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "The total number of API requests by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		generation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "starvec",
				Subsystem: "api",
				Name:      "generation_duration_seconds",
				Help:      "Time spent generating one SVG.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"model"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "starvec",
				Subsystem: "api",
				Name:      "generated_tokens_total",
				Help:      "The total number of generated SVG tokens.",
			},
			[]string{"model"},
		),
		stopReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "starvec",
				Subsystem: "api",
				Name:      "stop_reasons_total",
				Help:      "Why generations ended.",
			},
			[]string{"reason"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "starvec",
			Subsystem: "api",
			Name:      "cache_hits_total",
			Help:      "Conversions served from the result cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "starvec",
			Subsystem: "api",
			Name:      "cache_misses_total",
			Help:      "Conversions that ran the model.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "starvec",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.requests, m.generation, m.tokens, m.stopReasons,
		m.cacheHits, m.cacheMisses, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
