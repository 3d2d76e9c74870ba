// Package poolctx implements the Context managed object (spec.md §4.4): one
// isolated browser session plus the health bookkeeping the pool needs to
// decide selection, eviction, and recreation.
package poolctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/apxor/browserpool/services/driver"
	"github.com/apxor/browserpool/services/eviction"
	"github.com/apxor/browserpool/services/ratelimit"
)

// Status is the lifecycle state of a Context (spec.md §3).
type Status string

const (
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusRecreating Status = "recreating"
	StatusDestroyed  Status = "destroyed"
)

// Context is the unit of isolation the pool schedules work onto. All
// mutation happens under the owning pool's mutex; Context itself holds no
// lock of its own.
type Context struct {
	ID         string
	Tags       map[string]bool
	Proxy      string
	Persistent bool
	StorageDir string

	Status    Status
	CreatedAt time.Time
	LastUsedAt time.Time

	ConsecutiveErrors int
	TotalRequests     int64
	TotalErrors       int64

	RateLimit *ratelimit.Table
	Handle    driver.Handle
}

// New creates a fresh, idle Context. id is reused across recreation so
// callers pass it explicitly instead of minting a new uuid every time;
// pass "" to mint one.
func New(id string, tags map[string]bool, proxy string, persistent bool, storageDir string, now time.Time) *Context {
	if id == "" {
		id = uuid.NewString()
	}
	t := make(map[string]bool, len(tags))
	for k, v := range tags {
		t[k] = v
	}
	return &Context{
		ID:         id,
		Tags:       t,
		Proxy:      proxy,
		Persistent: persistent,
		StorageDir: storageDir,
		Status:     StatusIdle,
		CreatedAt:  now,
		LastUsedAt: now,
		RateLimit:  ratelimit.NewTable(),
	}
}

// HasTags reports whether c carries every tag set in required.
func (c *Context) HasTags(required map[string]bool) bool {
	for tag, want := range required {
		if !want {
			continue
		}
		if !c.Tags[tag] {
			return false
		}
	}
	return true
}

// Scorable projects the fields the eviction scorer needs.
func (c *Context) Scorable() eviction.Scorable {
	return eviction.Scorable{
		Tags:              c.Tags,
		TotalRequests:     c.TotalRequests,
		ConsecutiveErrors: c.ConsecutiveErrors,
		LastUsedAt:        c.LastUsedAt,
		CreatedAt:         c.CreatedAt,
	}
}

// Assign transitions an idle context to busy. Precondition: Status == idle.
func (c *Context) Assign(now time.Time) {
	c.Status = StatusBusy
	c.LastUsedAt = now
	c.TotalRequests++
}

// ReleaseOutcome describes how a dispatched scrape ended.
type ReleaseOutcome int

const (
	OutcomeSuccess ReleaseOutcome = iota
	OutcomeError
)

// Release transitions a busy context back to idle and updates health
// counters per outcome. Returns true if the context has now crossed the
// consecutive-error threshold and must be recreated (spec.md §4.4).
func (c *Context) Release(outcome ReleaseOutcome, maxConsecutiveErrors int) (needsRecreate bool) {
	switch outcome {
	case OutcomeSuccess:
		c.ConsecutiveErrors = 0
		c.Status = StatusIdle
		return false
	default:
		c.ConsecutiveErrors++
		c.TotalErrors++
		if c.ConsecutiveErrors >= maxConsecutiveErrors {
			c.Status = StatusRecreating
			return true
		}
		c.Status = StatusIdle
		return false
	}
}

// MarkDestroyed finalizes a context's lifecycle. The driver handle and
// slot bookkeeping are the pool's responsibility; this only flips status.
func (c *Context) MarkDestroyed() {
	c.Status = StatusDestroyed
}
