// Package errors provides the validation-error accumulator shared by config
// and request validation, plus the typed pool error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationErr is a single field-level validation failure.
type ValidationErr struct {
	Field   string
	Message string
}

func (v ValidationErr) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors accumulates field errors so callers can report every
// problem with a payload in one pass instead of failing fast on the first.
type ValidationErrors struct {
	errs []ValidationErr
}

// ValidationErrs returns a new, empty accumulator.
func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{}
}

// Add records a field-level failure.
func (v *ValidationErrors) Add(field, message string) {
	v.errs = append(v.errs, ValidationErr{Field: field, Message: message})
}

// Empty reports whether no failures were recorded.
func (v *ValidationErrors) Empty() bool {
	return len(v.errs) == 0
}

// Err returns nil if no failures were recorded, otherwise an error whose
// message lists every field failure.
func (v *ValidationErrors) Err() error {
	if v.Empty() {
		return nil
	}
	parts := make([]string, len(v.errs))
	for i, e := range v.errs {
		parts[i] = e.String()
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}

// Pool error taxonomy (spec.md §7). Callers use errors.Is against these
// sentinels; the pool always wraps them with contextual detail via %w.
var (
	// ErrPoolFull is returned when the queue cap (max_contexts*4) would be exceeded.
	ErrPoolFull = errors.New("pool full")
	// ErrQueueTimeout is returned when a waiter exceeds MAX_QUEUE_WAIT_SECONDS.
	ErrQueueTimeout = errors.New("queue timeout")
	// ErrScrapeTimeout is returned when a request exceeds its per-request timeout.
	ErrScrapeTimeout = errors.New("scrape timeout")
	// ErrDriverError wraps an ordinary scrape failure from the BrowserDriver.
	ErrDriverError = errors.New("driver error")
	// ErrTargetClosed signals a browser-process-level failure that triggers a restart.
	ErrTargetClosed = errors.New("target closed")
	// ErrBrowserRestarting is returned to in-flight scrapes killed by a restart.
	ErrBrowserRestarting = errors.New("browser restarting")
	// ErrBrowserUnavailable is returned once the restart retry budget is exhausted.
	ErrBrowserUnavailable = errors.New("browser unavailable")
	// ErrShutdown is returned once the pool has begun shutting down.
	ErrShutdown = errors.New("pool shutting down")
	// errTagMismatch is internal to selection; never returned to a caller.
	errTagMismatch = errors.New("tag mismatch")
)

// Is reports whether err wraps target, delegating to the standard library.
func Is(err, target error) bool { return errors.Is(err, target) }

// Wrap annotates a sentinel pool error with detail while preserving errors.Is.
func Wrap(sentinel error, detail string) error {
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%s: %w", detail, sentinel)
}
