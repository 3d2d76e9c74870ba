// Package driver defines the BrowserDriver contract consumed by the pool
// (spec.md §4.6) and the concrete backends that implement it.
package driver

import (
	"context"
	"time"

	"github.com/apxor/browserpool/models/scraperequest"
	"github.com/apxor/browserpool/models/scraperesult"
)

// Handle is an opaque reference into a driver's internal bookkeeping for one
// browser context. The pool never inspects it; it is valid only while the
// owning Context's status is not destroyed.
type Handle interface {
	// ID is a debug-only label, not used for identity comparison.
	ID() string
}

// NewContextParams carries everything a driver needs to create an isolated
// browser context.
type NewContextParams struct {
	Proxy       string // empty if none
	StoragePath string // empty if transient
	Tags        []string
	Headless    bool
}

// Driver is the abstract BrowserDriver contract (spec.md §4.6). The pool
// depends only on this interface; concrete backends (Playwright, Docker)
// implement it.
type Driver interface {
	// Launch starts the underlying browser process. Idempotent after a
	// successful call until Shutdown is invoked.
	Launch(ctx context.Context) error
	// Shutdown tears down the underlying browser process and every handle
	// it issued.
	Shutdown(ctx context.Context) error
	// NewContext creates one isolated browser context. Returns ErrTargetClosed
	// if the underlying browser process is gone.
	NewContext(ctx context.Context, params NewContextParams) (Handle, error)
	// CloseContext releases a context's resources. Idempotent.
	CloseContext(ctx context.Context, h Handle) error
	// Execute performs one scrape step on the given handle.
	Execute(ctx context.Context, h Handle, req *scraperequest.Request) (*scraperesult.Result, error)
}

// executeDeadline bounds a single Execute call using the request's timeout,
// falling back to the package default when unset.
func executeDeadline(req *scraperequest.Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return scraperequest.DefaultTimeout
}
