// Package ratelimit tracks per-context, per-domain spacing (spec.md §4.3).
//
// golang.org/x/time/rate is deliberately not used here: its Limiter only
// exposes Allow/Reserve/Wait, all of which consume a token as a side effect
// of checking it. The selection algorithm needs to repeatedly ask "is this
// domain ready yet" while scanning candidates without ever mutating state
// for contexts it doesn't end up choosing, so the table below is a plain
// map guarded by the pool's own mutex instead.
package ratelimit

import "time"

// Table records, per domain, the next time a context may be used against
// that domain again. It belongs to exactly one Context and is only ever
// read or written while the owning pool holds its lock.
type Table struct {
	next map[string]time.Time
}

// NewTable returns an empty domain-delay table.
func NewTable() *Table {
	return &Table{next: make(map[string]time.Time)}
}

// NextAvailable reports when domain next becomes usable. Domains never
// seen before are available immediately.
func (t *Table) NextAvailable(domain string) time.Time {
	if ts, ok := t.next[domain]; ok {
		return ts
	}
	return time.Time{}
}

// Ready reports whether domain is usable at now.
func (t *Table) Ready(domain string, now time.Time) bool {
	return !t.NextAvailable(domain).After(now)
}

// MarkUsed records that domain was just used and must not be reused again
// until delay has elapsed.
func (t *Table) MarkUsed(domain string, now time.Time, delay time.Duration) {
	if delay <= 0 {
		delete(t.next, domain)
		return
	}
	t.next[domain] = now.Add(delay)
}
