// Package queue implements the bounded FIFO of pending scrape waiters
// (spec.md §4.3). The queue itself is not goroutine-safe: every operation
// is expected to run under the pool's single mutex.
package queue

import (
	"container/list"
	"time"

	"github.com/apxor/browserpool/models/scraperequest"
)

// Waiter is one pending scrape request sitting in the queue.
type Waiter struct {
	Request  *scraperequest.Request
	Arrival  time.Time
	Deadline time.Time

	// Done receives one Outcome and is then closed, by TryWake, ExpireDue, or
	// DrainAll, to signal the blocked caller goroutine that a decision has
	// been made. Cancel removes the waiter without touching Done.
	Done chan Outcome
}

// Outcome is the terminal disposition of a Waiter.
type Outcome struct {
	ContextID string // non-empty when Err is nil
	Err       error
}

// NewWaiter builds a waiter with a deadline of arrival+maxWait and a
// buffered completion channel so the pool can resolve it under its own
// lock without the receiving goroutine needing to already be listening.
func NewWaiter(req *scraperequest.Request, arrival time.Time, maxWait time.Duration) *Waiter {
	return &Waiter{
		Request:  req,
		Arrival:  arrival,
		Deadline: arrival.Add(maxWait),
		Done:     make(chan Outcome, 1),
	}
}

// Queue is the bounded FIFO described in spec.md §4.3.
type Queue struct {
	cap     int
	waiters *list.List // of *Waiter
}

// New returns an empty queue admitting at most cap waiters.
func New(cap int) *Queue {
	return &Queue{cap: cap, waiters: list.New()}
}

// Len reports the number of waiters currently queued.
func (q *Queue) Len() int {
	return q.waiters.Len()
}

// Enqueue appends w, failing if contextCount+len(queue) would exceed the
// configured cap (spec.md: cap = max_contexts * 4). The sum is allowed to
// equal cap exactly — only exceeding it is rejected.
func (q *Queue) Enqueue(w *Waiter, contextCount int) bool {
	if contextCount+q.waiters.Len() > q.cap {
		return false
	}
	q.waiters.PushBack(w)
	return true
}

// TryWake scans waiters in FIFO order and pairs the first whose tags are
// satisfied by have with contextID, removing it from the queue. Returns
// the matched waiter, or nil if none matched.
func (q *Queue) TryWake(contextID string, have map[string]bool) *Waiter {
	for e := q.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*Waiter)
		if w.Request.HasTags(have) {
			q.waiters.Remove(e)
			w.Done <- Outcome{ContextID: contextID}
			close(w.Done)
			return w
		}
	}
	return nil
}

// ExpireDue removes and fails every waiter whose deadline is at or before
// now, returning how many were expired.
func (q *Queue) ExpireDue(now time.Time, err error) int {
	expired := 0
	var next *list.Element
	for e := q.waiters.Front(); e != nil; e = next {
		next = e.Next()
		w := e.Value.(*Waiter)
		if !w.Deadline.After(now) {
			q.waiters.Remove(e)
			w.Done <- Outcome{Err: err}
			close(w.Done)
			expired++
		}
	}
	return expired
}

// DrainAll removes and fails every waiter currently queued, regardless of
// deadline. Used for shutdown and whole-browser restart.
func (q *Queue) DrainAll(err error) int {
	drained := 0
	var next *list.Element
	for e := q.waiters.Front(); e != nil; e = next {
		next = e.Next()
		w := e.Value.(*Waiter)
		q.waiters.Remove(e)
		w.Done <- Outcome{Err: err}
		close(w.Done)
		drained++
	}
	return drained
}

// Cancel idempotently removes w from the queue, if it is still present.
func (q *Queue) Cancel(w *Waiter) {
	for e := q.waiters.Front(); e != nil; e = e.Next() {
		if e.Value.(*Waiter) == w {
			q.waiters.Remove(e)
			return
		}
	}
}
