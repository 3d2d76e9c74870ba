// Package health reports pool, archive, and event-sink liveness for load
// balancers and operators.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/services/pool"
)

// Status is one component's health at a point in time.
type Status struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"` // healthy, degraded, unhealthy, disabled
	Latency   int64                  `json:"latency_ms"`
	Details   map[string]interface{} `json:"details,omitempty"`
	LastCheck time.Time              `json:"last_check"`
}

// Handler aggregates health for every component wired into the running
// process. The archive and event-log probes may be nil, which reports as
// "disabled" rather than "unhealthy"; a nil pool reports as "unhealthy".
type Handler struct {
	pool      *pool.Pool
	archiveOK func() bool
	eventsOK  func() bool

	mu              sync.RWMutex
	componentStatus map[string]*Status
}

// NewHandler builds a Handler. archiveOK/eventsOK are optional liveness
// probes for the archive and event-log sinks; pass nil to report them as
// disabled.
func NewHandler(p *pool.Pool, archiveOK, eventsOK func() bool) *Handler {
	return &Handler{
		pool:            p,
		archiveOK:       archiveOK,
		eventsOK:        eventsOK,
		componentStatus: make(map[string]*Status),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("detailed") == "true" {
		h.serveDetailed(w, r)
		return
	}
	h.serveSimple(w, r)
}

func (h *Handler) serveSimple(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.checkPool(ctx).Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("UNHEALTHY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) serveDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	statuses := h.checkAll(ctx)
	overall := overallStatus(statuses)

	resp := map[string]interface{}{
		"status":     overall,
		"timestamp":  time.Now().Unix(),
		"components": statuses,
	}

	switch overall {
	case "unhealthy":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "degraded":
		w.WriteHeader(http.StatusPartialContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) checkAll(ctx context.Context) []Status {
	checks := []struct {
		name string
		fn   func(context.Context) Status
	}{
		{"pool", h.checkPool},
		{"archive", h.checkArchive},
		{"eventlog", h.checkEvents},
	}

	var wg sync.WaitGroup
	out := make(chan Status, len(checks))
	for _, c := range checks {
		wg.Add(1)
		go func(name string, fn func(context.Context) Status) {
			defer wg.Done()
			start := time.Now()
			s := fn(ctx)
			s.Name = name
			s.Latency = time.Since(start).Milliseconds()
			s.LastCheck = time.Now()
			out <- s
		}(c.name, c.fn)
	}
	go func() { wg.Wait(); close(out) }()

	statuses := make([]Status, 0, len(checks))
	for s := range out {
		statuses = append(statuses, s)
		h.mu.Lock()
		h.componentStatus[s.Name] = &s
		h.mu.Unlock()
	}
	return statuses
}

func (h *Handler) checkPool(ctx context.Context) Status {
	if h.pool == nil {
		return Status{Status: "unhealthy"}
	}
	stats := h.pool.Stats()
	status := "healthy"
	if stats.ShuttingDown {
		status = "unhealthy"
	} else if stats.Degraded {
		status = "degraded"
	}
	return Status{
		Status: status,
		Details: map[string]interface{}{
			"generation":  stats.Generation,
			"contexts":    len(stats.Contexts),
			"queue_depth": stats.QueueDepth,
		},
	}
}

func (h *Handler) checkArchive(ctx context.Context) Status {
	if h.archiveOK == nil {
		return Status{Status: "disabled"}
	}
	if h.archiveOK() {
		return Status{Status: "healthy"}
	}
	return Status{Status: "degraded"}
}

func (h *Handler) checkEvents(ctx context.Context) Status {
	if h.eventsOK == nil {
		return Status{Status: "disabled"}
	}
	if h.eventsOK() {
		return Status{Status: "healthy"}
	}
	return Status{Status: "degraded"}
}

func overallStatus(statuses []Status) string {
	degraded := false
	for _, s := range statuses {
		if s.Status == "unhealthy" {
			return "unhealthy"
		}
		if s.Status == "degraded" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

// StartBackgroundChecks runs checkAll on interval and logs any component
// that isn't healthy.
func (h *Handler) StartBackgroundChecks(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			h.checkAll(ctx)
			cancel()

			h.mu.RLock()
			for name, s := range h.componentStatus {
				if s.Status != "healthy" && s.Status != "disabled" {
					logger.Warn("component unhealthy", zap.String("component", name), zap.String("status", s.Status))
				}
			}
			h.mu.RUnlock()
		}
	}()
}
