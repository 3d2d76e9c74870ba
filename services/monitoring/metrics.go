// Package monitoring exposes pool health as Prometheus metrics.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "browserpool"

// Collector holds every metric the pool reports.
type Collector struct {
	ContextsActive   *prometheus.GaugeVec
	ContextsTotal    prometheus.Counter
	QueueDepth       prometheus.Gauge
	ScrapeLatency    prometheus.Histogram
	ScrapesTotal     *prometheus.CounterVec
	EvictionsTotal   prometheus.Counter
	RecreationsTotal prometheus.Counter
	RestartsTotal    prometheus.Counter
	RestartGeneration prometheus.Gauge
	DomainWaitSeconds prometheus.Histogram
}

// NewCollector builds and registers the pool's metric set.
func NewCollector() *Collector {
	c := &Collector{
		ContextsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contexts_active",
			Help:      "Number of browser contexts currently held by the pool, by status",
		}, []string{"status"}),

		ContextsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contexts_created_total",
			Help:      "Total browser contexts created since start",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of scrape requests waiting for a context",
		}),

		ScrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "End-to-end scrape latency, including queue wait",
			Buckets:   prometheus.DefBuckets,
		}),

		ScrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrapes_total",
			Help:      "Total scrape attempts by outcome",
		}, []string{"outcome"}),

		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total contexts evicted to make room under max_contexts",
		}),

		RecreationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_recreations_total",
			Help:      "Total contexts recreated after exceeding the consecutive-error threshold",
		}),

		RestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_restarts_total",
			Help:      "Total whole-browser restarts triggered by a target-closed failure",
		}),

		RestartGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_generation",
			Help:      "Current browser-process generation counter",
		}),

		DomainWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "domain_rate_limit_wait_seconds",
			Help:      "Time a scrape spent waiting on a per-domain rate limit before executing",
			Buckets:   []float64{0, .05, .1, .25, .5, 1, 2, 5, 10},
		}),
	}

	prometheus.MustRegister(
		c.ContextsActive,
		c.ContextsTotal,
		c.QueueDepth,
		c.ScrapeLatency,
		c.ScrapesTotal,
		c.EvictionsTotal,
		c.RecreationsTotal,
		c.RestartsTotal,
		c.RestartGeneration,
		c.DomainWaitSeconds,
	)

	return c
}

// RecordScrape records the outcome and total latency of one Scrape call.
func (c *Collector) RecordScrape(outcome string, elapsed time.Duration) {
	c.ScrapesTotal.WithLabelValues(outcome).Inc()
	c.ScrapeLatency.Observe(elapsed.Seconds())
}

// Handler returns the Prometheus scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
