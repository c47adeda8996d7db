// Package metrics registers the Prometheus collectors shared across the
// crawler, forecaster, and HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CrawlCycles counts completed crawl cycles by outcome.
	CrawlCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddslens_crawl_cycles_total",
		Help: "Completed crawl cycles by outcome.",
	}, []string{"outcome"})

	// CrawlDuration observes wall-clock time of a full crawl cycle.
	CrawlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oddslens_crawl_duration_seconds",
		Help:    "Duration of a full crawl cycle.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// EventsAnalyzed counts events that completed a calibration run.
	EventsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oddslens_events_analyzed_total",
		Help: "Events that completed a calibration run.",
	})

	// ForecasterCalls counts forecaster invocations by outcome.
	ForecasterCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddslens_forecaster_calls_total",
		Help: "Forecaster invocations by outcome.",
	}, []string{"outcome"})

	// HTTPDuration observes API handler latency by route and status code.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oddslens_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)
