package monitoring

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// NewCollector registers against the default Prometheus registry, so the
// whole package shares one Collector across every test here to avoid a
// duplicate-registration panic.
var testCollector = NewCollector()

func TestCollectorRecordScrape(t *testing.T) {
	testCollector.RecordScrape("success", 150*time.Millisecond)
	testCollector.RecordScrape("error", 10*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	testCollector.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "browserpool_scrapes_total")
	require.Contains(t, body, `outcome="success"`)
	require.Contains(t, body, `outcome="error"`)
	require.Contains(t, body, "browserpool_scrape_duration_seconds")
}

func TestCollectorGaugesAndCounters(t *testing.T) {
	testCollector.ContextsActive.WithLabelValues("idle").Set(3)
	testCollector.ContextsActive.WithLabelValues("busy").Set(2)
	testCollector.QueueDepth.Set(5)
	testCollector.ContextsTotal.Inc()
	testCollector.EvictionsTotal.Inc()
	testCollector.RecreationsTotal.Inc()
	testCollector.RestartsTotal.Inc()
	testCollector.RestartGeneration.Set(1)
	testCollector.DomainWaitSeconds.Observe(0.2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	testCollector.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	for _, want := range []string{
		"browserpool_contexts_active",
		"browserpool_queue_depth 5",
		"browserpool_contexts_created_total",
		"browserpool_evictions_total",
		"browserpool_context_recreations_total",
		"browserpool_browser_restarts_total",
		"browserpool_browser_generation 1",
		"browserpool_domain_rate_limit_wait_seconds",
	} {
		require.True(t, strings.Contains(body, want), "expected metrics output to contain %q", want)
	}
}
