// Package scraperequest defines the request contract accepted by the pool
// (spec.md §6).
package scraperequest

import (
	"fmt"
	"net/url"
	"time"

	apxerrors "github.com/apxor/browserpool/errors"
)

// WaitUntil is the navigation readiness condition to wait for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// DefaultTimeout is the per-request default execution timeout (spec.md §6).
const DefaultTimeout = 30 * time.Second

// Request is the language-neutral ScrapeRequest object from spec.md §6.
type Request struct {
	URL             string            `json:"url"`
	RequiredTags    map[string]bool   `json:"required_tags,omitempty"`
	Proxy           *string           `json:"proxy,omitempty"`
	DomainDelay     *int              `json:"domain_delay,omitempty"`
	WaitFor         WaitUntil         `json:"wait_for,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	// GetContent and BlockResources default to true (spec.md §6) when the
	// caller omits them; *bool lets ApplyDefaults tell "omitted" apart from
	// an explicit false.
	GetContent      *bool             `json:"get_content,omitempty"`
	Script          string            `json:"script,omitempty"`
	Screenshot      bool              `json:"screenshot"`
	BlockResources  *bool             `json:"block_resources,omitempty"`
	Persistent      bool              `json:"persistent"`
}

// New returns a Request with spec-mandated defaults applied.
func New(rawURL string) *Request {
	return &Request{
		URL:            rawURL,
		RequiredTags:   map[string]bool{},
		WaitFor:        WaitLoad,
		Timeout:        DefaultTimeout,
		GetContent:     boolPtr(true),
		BlockResources: boolPtr(true),
	}
}

// ApplyDefaults fills in zero-valued optional fields with spec defaults.
// Called once on receipt, before validation.
func (r *Request) ApplyDefaults() {
	if r.WaitFor == "" {
		r.WaitFor = WaitLoad
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
	if r.RequiredTags == nil {
		r.RequiredTags = map[string]bool{}
	}
	if r.GetContent == nil {
		r.GetContent = boolPtr(true)
	}
	if r.BlockResources == nil {
		r.BlockResources = boolPtr(true)
	}
}

// WantsContent reports whether the response body should be captured.
func (r *Request) WantsContent() bool {
	return r.GetContent == nil || *r.GetContent
}

// WantsBlockedResources reports whether non-document resources should be
// blocked during navigation.
func (r *Request) WantsBlockedResources() bool {
	return r.BlockResources == nil || *r.BlockResources
}

func boolPtr(b bool) *bool { return &b }

// Validate checks the request is well-formed.
func (r *Request) Validate() error {
	ve := apxerrors.ValidationErrs()

	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("url", "must be an absolute http(s) URL")
	}

	switch r.WaitFor {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle, "":
	default:
		ve.Add("wait_for", fmt.Sprintf("unrecognized value %q", r.WaitFor))
	}

	if r.Timeout < 0 {
		ve.Add("timeout", "cannot be negative")
	}

	return ve.Err()
}

// RequiredTagSet returns the required tags as a slice, sorted order not
// guaranteed — callers that need determinism should sort independently.
func (r *Request) RequiredTagSet() []string {
	tags := make([]string, 0, len(r.RequiredTags))
	for t, ok := range r.RequiredTags {
		if ok {
			tags = append(tags, t)
		}
	}
	return tags
}

// HasTags reports whether every tag in RequiredTags is present in have.
func (r *Request) HasTags(have map[string]bool) bool {
	for t, want := range r.RequiredTags {
		if !want {
			continue
		}
		if !have[t] {
			return false
		}
	}
	return true
}
