package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apxerrors "github.com/apxor/browserpool/errors"
	"github.com/apxor/browserpool/models/scraperequest"
	"github.com/apxor/browserpool/models/scraperesult"
	"github.com/apxor/browserpool/services/driver"
	"github.com/apxor/browserpool/services/poolctx"
)

/*
fakeDriver is a deterministic in-memory BrowserDriver stand-in: no real
browser, just enough bookkeeping to exercise the pool's selection,
release, recreation, and restart paths under test.
*/
type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string { return h.id }

type fakeDriver struct {
	mu   sync.Mutex
	next int64

	launched int32

	// failTargets maps a handle id to the number of remaining failures
	// before a call on it succeeds.
	failTargets map[string]int
	// targetClosedOn, if set, returns TargetClosed the first time Execute
	// is called on a handle with this id.
	targetClosedOn map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		failTargets:    map[string]int{},
		targetClosedOn: map[string]bool{},
	}
}

func (d *fakeDriver) Launch(ctx context.Context) error {
	atomic.StoreInt32(&d.launched, 1)
	return nil
}

func (d *fakeDriver) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&d.launched, 0)
	return nil
}

func (d *fakeDriver) NewContext(ctx context.Context, params driver.NewContextParams) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	return &fakeHandle{id: fmt.Sprintf("handle-%d", d.next)}, nil
}

func (d *fakeDriver) CloseContext(ctx context.Context, h driver.Handle) error {
	return nil
}

func (d *fakeDriver) Execute(ctx context.Context, h driver.Handle, req *scraperequest.Request) (*scraperesult.Result, error) {
	fh := h.(*fakeHandle)

	d.mu.Lock()
	if d.targetClosedOn[fh.id] {
		delete(d.targetClosedOn, fh.id)
		d.mu.Unlock()
		return nil, apxerrors.ErrTargetClosed
	}
	if remaining, ok := d.failTargets[fh.id]; ok && remaining > 0 {
		d.failTargets[fh.id] = remaining - 1
		d.mu.Unlock()
		return nil, apxerrors.Wrap(apxerrors.ErrDriverError, "injected failure")
	}
	d.mu.Unlock()

	return &scraperesult.Result{Success: true, URL: req.URL, ContextID: fh.id}, nil
}

func testConfig(maxContexts int) Config {
	return Config{
		MaxContexts:          maxContexts,
		DefaultDomainDelayMs: 1000,
		MaxQueueWait:         2 * time.Second,
		MaxConsecutiveErrors: 3,
		QueueCap:             maxContexts * 4,
	}
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeDriver) {
	t.Helper()
	drv := newFakeDriver()
	p := New(cfg, drv)
	require.NoError(t, p.Start(context.Background()))
	return p, drv
}

func TestRateLimitingWithinAContext(t *testing.T) {
	cfg := testConfig(1)
	p, _ := newTestPool(t, cfg)

	req1 := scraperequest.New("https://a.example/")
	start1 := time.Now()
	res1, err := p.Scrape(context.Background(), req1)
	require.NoError(t, err)
	assert.True(t, res1.Success)

	req2 := scraperequest.New("https://a.example/")
	res2, err := p.Scrape(context.Background(), req2)
	require.NoError(t, err)
	assert.True(t, res2.Success)

	assert.GreaterOrEqual(t, time.Since(start1).Milliseconds(), int64(1000))
}

func TestTagBasedSelectionRoutesToTaggedContext(t *testing.T) {
	cfg := testConfig(2)
	p, _ := newTestPool(t, cfg)

	// Seed two contexts with distinct tags by driving creation through scrapes.
	premiumReq := scraperequest.New("https://seed-a.example/")
	premiumReq.RequiredTags = map[string]bool{"premium": true}
	_, err := p.Scrape(context.Background(), premiumReq)
	require.NoError(t, err)

	basicReq := scraperequest.New("https://seed-b.example/")
	basicReq.RequiredTags = map[string]bool{"basic": true}
	_, err = p.Scrape(context.Background(), basicReq)
	require.NoError(t, err)

	var premiumID string
	p.mu.Lock()
	for _, c := range p.contexts {
		if c.Tags["premium"] {
			premiumID = c.ID
		}
	}
	p.mu.Unlock()
	require.NotEmpty(t, premiumID)

	req := scraperequest.New("https://c.example/")
	req.RequiredTags = map[string]bool{"premium": true}
	res, err := p.Scrape(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, premiumID, res.ContextID)
}

func TestQueueTimeoutWhenPoolSaturated(t *testing.T) {
	cfg := testConfig(1)
	cfg.MaxQueueWait = 300 * time.Millisecond
	p, _ := newTestPool(t, cfg)

	_, err := p.Scrape(context.Background(), scraperequest.New("https://seed.example/"))
	require.NoError(t, err)

	p.mu.Lock()
	var heldID string
	for id := range p.contexts {
		heldID = id
	}
	p.contexts[heldID].Status = poolctx.StatusBusy
	p.mu.Unlock()
	require.NotEmpty(t, heldID)

	start := time.Now()
	_, err = p.Scrape(context.Background(), scraperequest.New("https://second.example/"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apxerrors.Is(err, apxerrors.ErrQueueTimeout) || apxerrors.Is(err, apxerrors.ErrPoolFull))
	assert.Less(t, elapsed, time.Second)
}

func TestConsecutiveErrorRecreation(t *testing.T) {
	cfg := testConfig(1)
	cfg.MaxConsecutiveErrors = 3
	cfg.DefaultDomainDelayMs = 0
	p, drv := newTestPool(t, cfg)

	// First scrape creates the context.
	_, err := p.Scrape(context.Background(), scraperequest.New("https://x.example/"))
	require.NoError(t, err)

	var handleID string
	p.mu.Lock()
	for _, c := range p.contexts {
		handleID = c.Handle.ID()
	}
	p.mu.Unlock()
	require.NotEmpty(t, handleID)

	drv.mu.Lock()
	drv.failTargets[handleID] = 3
	drv.mu.Unlock()

	var lastErr error
	for i := 0; i < 3; i++ {
		req := scraperequest.New("https://x.example/")
		_, lastErr = p.Scrape(context.Background(), req)
		assert.Error(t, lastErr)
	}

	time.Sleep(100 * time.Millisecond) // allow async recreate to settle

	res, err := p.Scrape(context.Background(), scraperequest.New("https://x.example/"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestBrowserRestartBumpsGeneration(t *testing.T) {
	cfg := testConfig(2)
	cfg.DefaultDomainDelayMs = 0
	p, drv := newTestPool(t, cfg)

	_, err := p.Scrape(context.Background(), scraperequest.New("https://seed.example/"))
	require.NoError(t, err)

	var handleID string
	p.mu.Lock()
	genBefore := p.generation
	for _, c := range p.contexts {
		handleID = c.Handle.ID()
	}
	p.mu.Unlock()

	drv.mu.Lock()
	drv.targetClosedOn[handleID] = true
	drv.mu.Unlock()

	_, err = p.Scrape(context.Background(), scraperequest.New("https://seed.example/"))
	require.Error(t, err)
	assert.True(t, apxerrors.Is(err, apxerrors.ErrBrowserRestarting))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		gen := p.generation
		p.mu.Unlock()
		if gen > genBefore {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, genBefore+1, p.generation)
}

func TestEvictionRespectsProtection(t *testing.T) {
	cfg := testConfig(2)
	p, _ := newTestPool(t, cfg)

	protectedReq := scraperequest.New("https://protected.example/")
	protectedReq.RequiredTags = map[string]bool{"protected": true}
	_, err := p.Scrape(context.Background(), protectedReq)
	require.NoError(t, err)

	transientReq := scraperequest.New("https://transient.example/")
	transientReq.RequiredTags = map[string]bool{"transient": true}
	_, err = p.Scrape(context.Background(), transientReq)
	require.NoError(t, err)

	var protectedID, transientID string
	p.mu.Lock()
	for _, c := range p.contexts {
		if c.Tags["protected"] {
			protectedID = c.ID
		}
		if c.Tags["transient"] {
			transientID = c.ID
		}
	}
	p.mu.Unlock()
	require.NotEmpty(t, protectedID)
	require.NotEmpty(t, transientID)

	thirdReq := scraperequest.New("https://third.example/")
	thirdReq.RequiredTags = map[string]bool{"another": true}
	_, err = p.Scrape(context.Background(), thirdReq)
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, protectedStillThere := p.contexts[protectedID]
	_, transientStillThere := p.contexts[transientID]
	assert.True(t, protectedStillThere)
	assert.False(t, transientStillThere)
}

func TestStatsReportsContextSnapshot(t *testing.T) {
	cfg := testConfig(2)
	p, _ := newTestPool(t, cfg)

	_, err := p.Scrape(context.Background(), scraperequest.New("https://stats.example/"))
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Generation)
	assert.False(t, stats.Degraded)
	assert.False(t, stats.ShuttingDown)
	require.Len(t, stats.Contexts, 1)
	assert.Equal(t, int64(1), stats.Contexts[0].TotalRequests)
}

func TestTagAddsAndRemovesTag(t *testing.T) {
	cfg := testConfig(1)
	p, _ := newTestPool(t, cfg)

	_, err := p.Scrape(context.Background(), scraperequest.New("https://tag.example/"))
	require.NoError(t, err)

	var id string
	p.mu.Lock()
	for cid := range p.contexts {
		id = cid
	}
	p.mu.Unlock()
	require.NotEmpty(t, id)

	require.NoError(t, p.Tag(id, "premium", true))
	p.mu.Lock()
	assert.True(t, p.contexts[id].Tags["premium"])
	p.mu.Unlock()

	require.NoError(t, p.Tag(id, "premium", false))
	p.mu.Lock()
	assert.False(t, p.contexts[id].Tags["premium"])
	p.mu.Unlock()

	err = p.Tag("does-not-exist", "premium", true)
	require.Error(t, err)
	assert.True(t, apxerrors.Is(err, apxerrors.ErrBrowserRestarting))
}

func TestEvictRemovesIdleContextButRejectsBusy(t *testing.T) {
	cfg := testConfig(1)
	p, _ := newTestPool(t, cfg)

	_, err := p.Scrape(context.Background(), scraperequest.New("https://evict.example/"))
	require.NoError(t, err)

	var id string
	p.mu.Lock()
	for cid := range p.contexts {
		id = cid
	}
	p.contexts[id].Status = poolctx.StatusBusy
	p.mu.Unlock()

	err = p.Evict(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apxerrors.Is(err, apxerrors.ErrPoolFull))

	p.mu.Lock()
	p.contexts[id].Status = poolctx.StatusIdle
	p.mu.Unlock()

	require.NoError(t, p.Evict(context.Background(), id))

	p.mu.Lock()
	_, stillThere := p.contexts[id]
	p.mu.Unlock()
	assert.False(t, stillThere)

	// Evicting an id that's already gone (or never existed) is a no-op,
	// not an error — deleting a context twice must not fail the second
	// time.
	require.NoError(t, p.Evict(context.Background(), "does-not-exist"))
	require.NoError(t, p.Evict(context.Background(), id))
}
