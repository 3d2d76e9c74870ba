// Package pool implements ContextPool, the orchestrator described in
// spec.md §4.5: admission, selection, assignment, release, recreation, and
// the whole-browser restart protocol. It is the only component that holds
// the process-wide mutex guarding contexts, the queue, generation, and
// rate-limit tables.
package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apxerrors "github.com/apxor/browserpool/errors"
	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/models/scraperequest"
	"github.com/apxor/browserpool/models/scraperesult"
	"github.com/apxor/browserpool/services/archive"
	"github.com/apxor/browserpool/services/driver"
	"github.com/apxor/browserpool/services/eventlog"
	"github.com/apxor/browserpool/services/eviction"
	"github.com/apxor/browserpool/services/monitoring"
	"github.com/apxor/browserpool/services/poolctx"
	"github.com/apxor/browserpool/services/queue"
	"github.com/apxor/browserpool/services/ratelimit"
)

// Config bundles the tunables the pool needs from the process configuration.
type Config struct {
	MaxContexts            int
	DefaultDomainDelayMs   int
	MaxQueueWait           time.Duration
	MaxConsecutiveErrors   int
	PersistentContextsPath string
	QueueCap               int
	Headless               bool
}

// restartBackoff is the bounded retry budget for relaunching the browser
// after a TargetClosed-class failure (spec.md §4.5 step 5).
var restartBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Pool is the process-wide ContextPool singleton.
type Pool struct {
	cfg    Config
	driver driver.Driver

	mu         sync.Mutex
	contexts   map[string]*poolctx.Context
	queue      *queue.Queue
	generation int64
	degraded   bool
	shutdown   bool

	restartBreaker *gobreaker.CircuitBreaker

	metrics   *monitoring.Collector
	events    *eventlog.Sink
	archiver  *archive.Archiver
	stopSweep chan struct{}
}

// New constructs a Pool bound to drv. The driver is not launched yet;
// call Start to launch it.
func New(cfg Config, drv driver.Driver) *Pool {
	p := &Pool{
		cfg:      cfg,
		driver:   drv,
		contexts:  make(map[string]*poolctx.Context),
		queue:     queue.New(cfg.QueueCap),
		stopSweep: make(chan struct{}),
	}
	p.restartBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "browser-restart",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(len(restartBackoff))
		},
	})
	return p
}

// SetMetrics attaches a Prometheus collector. Safe to skip; every call site
// nil-checks before recording.
func (p *Pool) SetMetrics(m *monitoring.Collector) {
	p.metrics = m
}

// SetEventSink attaches the Kafka/Mongo event recorder. Safe to skip.
func (p *Pool) SetEventSink(s *eventlog.Sink) {
	p.events = s
}

// SetArchiver attaches the S3 result archiver. Safe to skip; a nil archiver
// makes Store a no-op.
func (p *Pool) SetArchiver(a *archive.Archiver) {
	p.archiver = a
}

// Start launches the underlying driver and the queue-expiry sweeper. Must
// be called before any scrape.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.driver.Launch(ctx); err != nil {
		return err
	}
	go p.sweepExpiredWaiters()
	return nil
}

// sweepExpiredWaiters periodically fails queued waiters past their
// deadline with QueueTimeout (spec.md §4.3 expire_due).
func (p *Pool) sweepExpiredWaiters() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			p.queue.ExpireDue(time.Now(), apxerrors.ErrQueueTimeout)
			if p.metrics != nil {
				p.reportGaugesLocked()
			}
			p.mu.Unlock()
		case <-p.stopSweep:
			return
		}
	}
}

// Shutdown stops accepting new work, cancels every queued waiter with
// ErrShutdown, waits up to grace for in-flight scrapes, then tears the
// driver down (spec.md §5).
func (p *Pool) Shutdown(ctx context.Context, grace time.Duration) error {
	close(p.stopSweep)

	p.mu.Lock()
	p.shutdown = true
	p.queue.DrainAll(apxerrors.ErrShutdown)
	p.mu.Unlock()

	deadline := time.Now().Add(grace)
	for {
		p.mu.Lock()
		busy := p.countBusyLocked()
		p.mu.Unlock()
		if busy == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	return p.driver.Shutdown(ctx)
}

func (p *Pool) countBusyLocked() int {
	n := 0
	for _, c := range p.contexts {
		if c.Status == poolctx.StatusBusy {
			n++
		}
	}
	return n
}

// reportGaugesLocked pushes point-in-time gauge values to Prometheus.
func (p *Pool) reportGaugesLocked() {
	byStatus := map[poolctx.Status]float64{}
	for _, c := range p.contexts {
		byStatus[c.Status]++
	}
	p.metrics.ContextsActive.WithLabelValues("idle").Set(byStatus[poolctx.StatusIdle])
	p.metrics.ContextsActive.WithLabelValues("busy").Set(byStatus[poolctx.StatusBusy])
	p.metrics.ContextsActive.WithLabelValues("recreating").Set(byStatus[poolctx.StatusRecreating])
	p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	p.metrics.RestartGeneration.Set(float64(p.generation))
}

// Scrape runs the full selection → dispatch → release cycle for req
// (spec.md §4.5).
func (p *Pool) Scrape(ctx context.Context, req *scraperequest.Request) (*scraperesult.Result, error) {
	start := time.Now()
	result, err := p.scrape(ctx, req)
	if p.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		} else if result != nil && !result.Success {
			outcome = "failed"
		}
		p.metrics.RecordScrape(outcome, time.Since(start))
	}
	if err == nil && result != nil && result.Success {
		p.archiver.Store(ctx, result)
	}
	return result, err
}

func (p *Pool) scrape(ctx context.Context, req *scraperequest.Request) (*scraperesult.Result, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, apxerrors.ErrShutdown
	}
	if p.degraded {
		p.mu.Unlock()
		return nil, apxerrors.ErrBrowserUnavailable
	}

	c, myGeneration, err := p.selectLocked(ctx, req)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if c == nil {
		// No context is available; enqueue and wait outside the lock.
		p.mu.Unlock()
		return p.waitQueued(ctx, req)
	}

	c.Assign(time.Now())
	domain := domainRateKey(req)
	delay := p.effectiveDelay(req)
	handle := c.Handle
	contextID := c.ID
	p.mu.Unlock()

	result, execErr := p.driver.Execute(ctx, handle, req)

	p.mu.Lock()
	if p.generation != myGeneration {
		// A restart happened mid-flight; the context this handle refers to
		// no longer exists under this id. Do not touch pool state for it.
		p.mu.Unlock()
		if execErr != nil {
			return nil, apxerrors.ErrBrowserRestarting
		}
		return result, nil
	}

	c.RateLimit.MarkUsed(domain, time.Now(), delay)

	outcome := poolctx.OutcomeSuccess
	if execErr != nil {
		outcome = poolctx.OutcomeError
	}
	needsRecreate := c.Release(outcome, p.cfg.MaxConsecutiveErrors)

	if execErr != nil && apxerrors.Is(execErr, apxerrors.ErrTargetClosed) {
		p.mu.Unlock()
		p.restartBrowser(context.Background())
		return nil, apxerrors.ErrBrowserRestarting
	}

	if needsRecreate {
		go p.recreate(context.Background(), c)
	}

	p.wakeQueueLocked()
	p.mu.Unlock()

	if execErr != nil {
		return result, execErr
	}
	result.ContextID = contextID
	return result, nil
}

// selectLocked runs steps 1-5 of the selection algorithm (spec.md §4.5). It
// returns a chosen, not-yet-assigned context, or a nil context and nil error
// if the caller must enqueue the request, or an error if creating a new
// context failed.
func (p *Pool) selectLocked(ctx context.Context, req *scraperequest.Request) (*poolctx.Context, int64, error) {
	for {
		candidates := p.candidatesLocked(req.RequiredTags)

		if len(candidates) == 0 {
			if len(p.contexts) < p.cfg.MaxContexts {
				placeholder := p.createPlaceholderLocked(req)
				p.mu.Unlock()
				_, err := p.materialize(ctx, placeholder, req)
				p.mu.Lock()
				if err != nil {
					delete(p.contexts, placeholder.ID)
					if apxerrors.Is(err, apxerrors.ErrTargetClosed) {
						p.mu.Unlock()
						p.restartBrowser(context.Background())
						p.mu.Lock()
					}
					return nil, 0, fmt.Errorf("creating context: %w", apxerrors.Wrap(apxerrors.ErrDriverError, err.Error()))
				}
				continue
			}
			if evicted := p.evictIdleLocked(); evicted {
				continue
			}
			return nil, 0, nil // signal caller to enqueue
		}

		now := time.Now()
		ready, waiting := partitionReady(candidates, domainRateKey(req), now)

		if len(ready) > 0 {
			best := ready[0]
			for _, c := range ready[1:] {
				if eviction.MoreUsable(c.Scorable(), best.Scorable(), now) {
					best = c
				}
			}
			return best, p.generation, nil
		}

		if len(waiting) > 0 {
			domain := domainRateKey(req)
			soonest := waiting[0]
			for _, c := range waiting[1:] {
				if c.RateLimit.NextAvailable(domain).Before(soonest.RateLimit.NextAvailable(domain)) {
					soonest = c
				}
			}
			wait := time.Until(soonest.RateLimit.NextAvailable(domain))
			// Sleep until the soonest candidate is ready, or re-check early;
			// a short poll bound keeps this responsive to other contexts
			// becoming ready in the meantime (spec.md §4.5 step 5).
			if wait > 50*time.Millisecond {
				wait = 50 * time.Millisecond
			}
			if wait > 0 {
				p.mu.Unlock()
				time.Sleep(wait)
				p.mu.Lock()
			}
			continue
		}

		return nil, 0, nil
	}
}

func (p *Pool) candidatesLocked(requiredTags map[string]bool) []*poolctx.Context {
	ids := lo.Keys(p.contexts)
	sort.Strings(ids)
	var out []*poolctx.Context
	for _, id := range ids {
		c := p.contexts[id]
		if c.Status == poolctx.StatusIdle && c.HasTags(requiredTags) {
			out = append(out, c)
		}
	}
	return out
}

func partitionReady(candidates []*poolctx.Context, domain string, now time.Time) (ready, waiting []*poolctx.Context) {
	for _, c := range candidates {
		if c.RateLimit.Ready(domain, now) {
			ready = append(ready, c)
		} else {
			waiting = append(waiting, c)
		}
	}
	return
}

// createPlaceholderLocked inserts a recreating placeholder context and
// returns it; the lock is released by the caller before materializing.
func (p *Pool) createPlaceholderLocked(req *scraperequest.Request) *poolctx.Context {
	proxy := ""
	if req.Proxy != nil {
		proxy = *req.Proxy
	}
	storageDir := ""
	if req.Persistent {
		storageDir = filepath.Join(p.cfg.PersistentContextsPath, "")
	}
	c := poolctx.New("", req.RequiredTags, proxy, req.Persistent, storageDir, time.Now())
	c.Status = poolctx.StatusRecreating
	if req.Persistent {
		c.StorageDir = filepath.Join(p.cfg.PersistentContextsPath, c.ID)
	}
	p.contexts[c.ID] = c
	return c
}

// materialize asks the driver to actually create the underlying browser
// context for a placeholder. Runs without the pool lock held.
func (p *Pool) materialize(ctx context.Context, c *poolctx.Context, req *scraperequest.Request) (*poolctx.Context, error) {
	if c.Persistent {
		if err := os.MkdirAll(c.StorageDir, 0o755); err != nil {
			return nil, err
		}
	}

	handle, err := p.driver.NewContext(ctx, driver.NewContextParams{
		Proxy:       c.Proxy,
		StoragePath: c.StorageDir,
		Tags:        lo.Keys(c.Tags),
		Headless:    p.cfg.Headless,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	c.Handle = handle
	c.Status = poolctx.StatusIdle
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ContextsTotal.Inc()
	}
	if p.events != nil {
		p.events.Publish(ctx, eventlog.Event{Kind: eventlog.KindContextCreated, ContextID: c.ID})
	}
	logger.Info("context created", zap.String("context_id", c.ID), zap.Bool("persistent", c.Persistent))
	return c, nil
}

// evictIdleLocked destroys the lowest-scoring non-protected idle context to
// free a slot (spec.md §4.5 admission-time eviction). Returns whether one
// was evicted.
func (p *Pool) evictIdleLocked() bool {
	var worst *poolctx.Context
	now := time.Now()
	ids := lo.Keys(p.contexts)
	sort.Strings(ids)
	for _, id := range ids {
		c := p.contexts[id]
		if c.Status != poolctx.StatusIdle {
			continue
		}
		if c.Tags[eviction.Protected] {
			continue
		}
		if worst == nil || eviction.Less(c.Scorable(), worst.Scorable(), now) {
			worst = c
		}
	}
	if worst == nil {
		return false
	}

	delete(p.contexts, worst.ID)
	worst.MarkDestroyed()
	go func(c *poolctx.Context) {
		_ = p.driver.CloseContext(context.Background(), c.Handle)
	}(worst)
	if p.metrics != nil {
		p.metrics.EvictionsTotal.Inc()
	}
	if p.events != nil {
		p.events.Publish(context.Background(), eventlog.Event{Kind: eventlog.KindContextEvicted, ContextID: worst.ID})
	}
	logger.Info("context evicted", zap.String("context_id", worst.ID))
	return true
}

// waitQueued enqueues req and blocks until woken, cancelled, or expired.
func (p *Pool) waitQueued(ctx context.Context, req *scraperequest.Request) (*scraperesult.Result, error) {
	w := queue.NewWaiter(req, time.Now(), p.cfg.MaxQueueWait)

	p.mu.Lock()
	ok := p.queue.Enqueue(w, len(p.contexts))
	p.mu.Unlock()
	if !ok {
		return nil, apxerrors.ErrPoolFull
	}

	select {
	case outcome := <-w.Done:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return p.dispatchToAssigned(ctx, outcome.ContextID, req)
	case <-ctx.Done():
		p.mu.Lock()
		p.queue.Cancel(w)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// dispatchToAssigned runs a scrape on a context the queue has already
// chosen (try_wake sets status to busy as part of the hand-off).
func (p *Pool) dispatchToAssigned(ctx context.Context, contextID string, req *scraperequest.Request) (*scraperesult.Result, error) {
	p.mu.Lock()
	c, ok := p.contexts[contextID]
	if !ok {
		p.mu.Unlock()
		return nil, apxerrors.ErrBrowserRestarting
	}
	myGeneration := p.generation
	handle := c.Handle
	domain := domainRateKey(req)
	delay := p.effectiveDelay(req)
	p.mu.Unlock()

	result, execErr := p.driver.Execute(ctx, handle, req)

	p.mu.Lock()
	if p.generation != myGeneration {
		p.mu.Unlock()
		if execErr != nil {
			return nil, apxerrors.ErrBrowserRestarting
		}
		return result, nil
	}

	c.RateLimit.MarkUsed(domain, time.Now(), delay)
	outcome := poolctx.OutcomeSuccess
	if execErr != nil {
		outcome = poolctx.OutcomeError
	}
	needsRecreate := c.Release(outcome, p.cfg.MaxConsecutiveErrors)

	if execErr != nil && apxerrors.Is(execErr, apxerrors.ErrTargetClosed) {
		p.mu.Unlock()
		p.restartBrowser(context.Background())
		return nil, apxerrors.ErrBrowserRestarting
	}

	if needsRecreate {
		go p.recreate(context.Background(), c)
	}
	p.wakeQueueLocked()
	p.mu.Unlock()

	if execErr != nil {
		return result, execErr
	}
	result.ContextID = contextID
	return result, nil
}

// wakeQueueLocked pairs any satisfiable waiters with now-idle contexts.
// Must be called with the pool lock held.
func (p *Pool) wakeQueueLocked() {
	ids := lo.Keys(p.contexts)
	sort.Strings(ids)
	for _, id := range ids {
		c := p.contexts[id]
		if c.Status != poolctx.StatusIdle {
			continue
		}
		for {
			w := p.queue.TryWake(c.ID, c.Tags)
			if w == nil {
				break
			}
			c.Assign(time.Now())
			break
		}
	}
}

// recreate replaces a context whose consecutive-error threshold tripped,
// preserving its id, tags, proxy, and persistence (spec.md §4.4).
func (p *Pool) recreate(ctx context.Context, old *poolctx.Context) {
	p.mu.Lock()
	_, ok := p.contexts[old.ID]
	p.mu.Unlock()
	if !ok {
		return
	}

	if old.Handle != nil {
		_ = p.driver.CloseContext(ctx, old.Handle)
	}

	handle, err := p.driver.NewContext(ctx, driver.NewContextParams{
		Proxy:       old.Proxy,
		StoragePath: old.StorageDir,
		Tags:        lo.Keys(old.Tags),
		Headless:    p.cfg.Headless,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		delete(p.contexts, old.ID)
		logger.Error("context recreation failed; removed from pool", zap.String("context_id", old.ID), zap.Error(err))
		return
	}

	old.Handle = handle
	old.ConsecutiveErrors = 0
	old.Status = poolctx.StatusIdle
	old.RateLimit = ratelimit.NewTable() // I6: re-creation starts with an empty table.
	if p.metrics != nil {
		p.metrics.RecreationsTotal.Inc()
	}
	if p.events != nil {
		p.events.Publish(ctx, eventlog.Event{Kind: eventlog.KindContextRecreated, ContextID: old.ID})
	}
	logger.Info("context recreated", zap.String("context_id", old.ID))
	p.wakeQueueLocked()
}

// restartBrowser implements the whole-browser restart protocol (spec.md
// §4.5). Concurrent calls are not serialized: each one bumps the generation
// and relaunches the driver, and only the call whose generation is still
// current when its relaunch returns updates the degraded flag and re-creates
// persistent contexts.
func (p *Pool) restartBrowser(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.RestartsTotal.Inc()
	}
	if p.events != nil {
		p.events.Publish(ctx, eventlog.Event{Kind: eventlog.KindBrowserRestarted})
	}
	p.mu.Lock()
	p.generation++
	myGeneration := p.generation
	persistentSnapshots := make([]*poolctx.Context, 0, len(p.contexts))
	for _, c := range p.contexts {
		c.Status = poolctx.StatusRecreating
		if c.Persistent {
			persistentSnapshots = append(persistentSnapshots, c)
		}
	}
	// Drain: fail every queued waiter immediately with BrowserRestarting.
	p.queue.DrainAll(apxerrors.ErrBrowserRestarting)
	p.contexts = make(map[string]*poolctx.Context)
	p.mu.Unlock()

	_, err := p.restartBreaker.Execute(func() (interface{}, error) {
		return nil, p.relaunchWithBackoff(ctx)
	})

	p.mu.Lock()
	if p.generation != myGeneration {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.degraded = true
		p.mu.Unlock()
		if p.events != nil {
			p.events.Publish(ctx, eventlog.Event{Kind: eventlog.KindBrowserDegraded, Detail: err.Error()})
		}
		logger.Error("browser restart exhausted retry budget; pool degraded", zap.Error(err))
		return
	}
	p.degraded = false
	p.mu.Unlock()

	for _, old := range persistentSnapshots {
		p.recreatePersistentAfterRestart(ctx, old)
	}
	logger.Info("browser restart complete", zap.Int64("generation", myGeneration))
}

func (p *Pool) relaunchWithBackoff(ctx context.Context) error {
	var lastErr error
	for attempt, backoff := range append([]time.Duration{0}, restartBackoff...) {
		if attempt > 0 {
			time.Sleep(backoff)
		}
		if err := p.driver.Shutdown(ctx); err != nil {
			lastErr = err
		}
		if err := p.driver.Launch(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("exhausted restart retries: %w", lastErr)
}

func (p *Pool) recreatePersistentAfterRestart(ctx context.Context, old *poolctx.Context) {
	handle, err := p.driver.NewContext(ctx, driver.NewContextParams{
		Proxy:       old.Proxy,
		StoragePath: old.StorageDir,
		Tags:        lo.Keys(old.Tags),
		Headless:    p.cfg.Headless,
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		logger.Error("failed to re-create persistent context after restart", zap.String("context_id", old.ID), zap.Error(err))
		return
	}
	old.Handle = handle
	old.Status = poolctx.StatusIdle
	old.ConsecutiveErrors = 0
	old.RateLimit = ratelimit.NewTable()
	p.contexts[old.ID] = old
}

// effectiveDelay resolves the per-request domain_delay override, falling
// back to the pool default (spec.md §4.1).
func (p *Pool) effectiveDelay(req *scraperequest.Request) time.Duration {
	if req.DomainDelay != nil {
		return time.Duration(*req.DomainDelay) * time.Millisecond
	}
	return time.Duration(p.cfg.DefaultDomainDelayMs) * time.Millisecond
}

func domainRateKey(req *scraperequest.Request) string {
	return ratelimit.DomainOf(req.URL)
}

// ContextInfo is the read-only snapshot of a context exposed by the REST
// and health-check surfaces.
type ContextInfo struct {
	ID                string          `json:"id"`
	Tags              []string        `json:"tags"`
	Status            poolctx.Status  `json:"status"`
	Persistent        bool            `json:"persistent"`
	CreatedAt         time.Time       `json:"created_at"`
	LastUsedAt        time.Time       `json:"last_used_at"`
	TotalRequests     int64           `json:"total_requests"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
}

// Stats is a point-in-time snapshot of the whole pool, for health checks and
// the GET /v1/contexts REST endpoint.
type Stats struct {
	Generation int64         `json:"generation"`
	Degraded   bool          `json:"degraded"`
	ShuttingDown bool        `json:"shutting_down"`
	QueueDepth int           `json:"queue_depth"`
	Contexts   []ContextInfo `json:"contexts"`
}

// Stats returns a snapshot of every context the pool currently holds.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := lo.Keys(p.contexts)
	sort.Strings(ids)
	contexts := make([]ContextInfo, 0, len(ids))
	for _, id := range ids {
		c := p.contexts[id]
		contexts = append(contexts, ContextInfo{
			ID:                c.ID,
			Tags:              lo.Keys(c.Tags),
			Status:            c.Status,
			Persistent:        c.Persistent,
			CreatedAt:         c.CreatedAt,
			LastUsedAt:        c.LastUsedAt,
			TotalRequests:     c.TotalRequests,
			ConsecutiveErrors: c.ConsecutiveErrors,
		})
	}

	return Stats{
		Generation:   p.generation,
		Degraded:     p.degraded,
		ShuttingDown: p.shutdown,
		QueueDepth:   p.queue.Len(),
		Contexts:     contexts,
	}
}

// Tag adds or removes a tag on an existing context, whatever its status. Returns
// ErrBrowserRestarting if the context does not exist (it may have been
// evicted, recreated, or dropped by a restart).
func (p *Pool) Tag(contextID, tag string, add bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contexts[contextID]
	if !ok {
		return apxerrors.Wrap(apxerrors.ErrBrowserRestarting, "context not found")
	}
	if add {
		c.Tags[tag] = true
	} else {
		delete(c.Tags, tag)
	}
	return nil
}

// Evict destroys a specific idle context on demand (DELETE /v1/contexts/{id}).
// Busy contexts cannot be evicted; callers should retry after release.
func (p *Pool) Evict(ctx context.Context, contextID string) error {
	p.mu.Lock()
	c, ok := p.contexts[contextID]
	if !ok {
		// Already gone (evicted, recreated, or never existed) — deleting
		// an id twice is a no-op, not an error.
		p.mu.Unlock()
		return nil
	}
	if c.Status == poolctx.StatusBusy {
		p.mu.Unlock()
		return apxerrors.Wrap(apxerrors.ErrPoolFull, "context is busy")
	}
	delete(p.contexts, contextID)
	c.MarkDestroyed()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.EvictionsTotal.Inc()
	}
	if p.events != nil {
		p.events.Publish(ctx, eventlog.Event{Kind: eventlog.KindContextEvicted, ContextID: contextID, Detail: "manual"})
	}
	return p.driver.CloseContext(ctx, c.Handle)
}
