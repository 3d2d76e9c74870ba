// Package eviction implements the pure scoring function used to pick which
// idle context to sacrifice when the pool needs a free slot (spec.md §4.2).
package eviction

import (
	"math"
	"time"
)

const (
	// alpha weights the idle-time penalty; beta weights the error penalty.
	alpha = 0.01
	beta  = 0.5

	// Protected is the reserved tag that makes a context immune to eviction.
	Protected = "protected"
)

// Scorable is the subset of a context's observable state the scorer needs.
// Lower score is more evictable; busy contexts are excluded by the caller,
// not by Score itself.
type Scorable struct {
	Tags              map[string]bool
	TotalRequests     int64
	ConsecutiveErrors int
	LastUsedAt        time.Time
	CreatedAt         time.Time
}

// Score implements the reference formula from spec.md §4.2:
// log(1+total_requests) − α·idle_seconds − β·consecutive_errors, with
// +Inf for protected contexts.
func Score(c Scorable, now time.Time) float64 {
	if c.Tags[Protected] {
		return math.Inf(1)
	}

	idleSeconds := now.Sub(c.LastUsedAt).Seconds()
	if idleSeconds < 0 {
		idleSeconds = 0
	}

	return math.Log1p(float64(c.TotalRequests)) - alpha*idleSeconds - beta*float64(c.ConsecutiveErrors)
}

// Less orders two candidates for eviction (a before b means a is more
// evictable): lower score wins; ties break toward the older created_at
// being evicted first (newer wins, i.e. is kept).
func Less(a, b Scorable, now time.Time) bool {
	sa, sb := Score(a, now), Score(b, now)
	if sa != sb {
		return sa < sb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// MoreUsable orders two ready candidates for selection (a before b means a
// should be used first): higher score wins; ties break toward the older
// last_used_at (spread load).
func MoreUsable(a, b Scorable, now time.Time) bool {
	sa, sb := Score(a, now), Score(b, now)
	if sa != sb {
		return sa > sb
	}
	return a.LastUsedAt.Before(b.LastUsedAt)
}
