// Package handlers implements the thin REST adapter over the context pool
// (spec.md's explicit Non-goal: this package holds no pool logic of its
// own, only request decoding and status-code mapping).
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	apxerrors "github.com/apxor/browserpool/errors"
	"github.com/apxor/browserpool/models/scraperequest"
	"github.com/apxor/browserpool/services/pool"
)

// PoolHandler adapts HTTP requests onto a *pool.Pool.
type PoolHandler struct {
	Pool *pool.Pool
}

// NewPoolHandler builds a PoolHandler bound to p.
func NewPoolHandler(p *pool.Pool) *PoolHandler {
	return &PoolHandler{Pool: p}
}

// Scrape handles POST /v1/scrape.
func (h *PoolHandler) Scrape(w http.ResponseWriter, r *http.Request) (response any, status int, err error) {
	var req scraperequest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.ApplyDefaults()

	result, err := h.Pool.Scrape(r.Context(), &req)
	if err != nil {
		return nil, statusForErr(err), err
	}
	return result, http.StatusOK, nil
}

// ListContexts handles GET /v1/contexts.
func (h *PoolHandler) ListContexts(w http.ResponseWriter, r *http.Request) (response any, status int, err error) {
	return h.Pool.Stats(), http.StatusOK, nil
}

// tagRequest is the body of POST /v1/contexts/{id}/tags.
type tagRequest struct {
	Tag string `json:"tag"`
	Add bool   `json:"add"`
}

// TagContext handles POST /v1/contexts/{id}/tags.
func (h *PoolHandler) TagContext(w http.ResponseWriter, r *http.Request) (response any, status int, err error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, http.StatusBadRequest, apxerrors.Wrap(apxerrors.ErrDriverError, "missing context id")
	}

	var body tagRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if body.Tag == "" {
		return nil, http.StatusBadRequest, apxerrors.Wrap(apxerrors.ErrDriverError, "missing tag")
	}

	if err := h.Pool.Tag(id, body.Tag, body.Add); err != nil {
		return nil, statusForErr(err), err
	}
	return map[string]string{"status": "ok"}, http.StatusOK, nil
}

// DeleteContext handles DELETE /v1/contexts/{id}.
func (h *PoolHandler) DeleteContext(w http.ResponseWriter, r *http.Request) (response any, status int, err error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, http.StatusBadRequest, apxerrors.Wrap(apxerrors.ErrDriverError, "missing context id")
	}
	if err := h.Pool.Evict(r.Context(), id); err != nil {
		return nil, statusForErr(err), err
	}
	return nil, http.StatusNoContent, nil
}

// statusForErr maps the pool's sentinel error taxonomy (spec.md §7) onto
// HTTP status codes.
func statusForErr(err error) int {
	switch {
	case apxerrors.Is(err, apxerrors.ErrPoolFull):
		return http.StatusServiceUnavailable
	case apxerrors.Is(err, apxerrors.ErrQueueTimeout):
		return http.StatusServiceUnavailable
	case apxerrors.Is(err, apxerrors.ErrScrapeTimeout):
		return http.StatusGatewayTimeout
	case apxerrors.Is(err, apxerrors.ErrBrowserRestarting):
		return http.StatusServiceUnavailable
	case apxerrors.Is(err, apxerrors.ErrBrowserUnavailable):
		return http.StatusServiceUnavailable
	case apxerrors.Is(err, apxerrors.ErrShutdown):
		return http.StatusServiceUnavailable
	case apxerrors.Is(err, apxerrors.ErrDriverError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
