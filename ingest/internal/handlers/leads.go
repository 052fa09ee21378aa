package handlers

import (
	"errors"
	"net/http"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/service"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/tenant"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/validator"
)

// CreateLeads handles POST /api/v1/leads.
func (h *Handler) CreateLeads(w http.ResponseWriter, r *http.Request) {
	var req service.ManualRequest
	if !h.decode(w, r, validator.ManualLeads, &req) {
		return
	}

	resp, err := h.ingester.IngestManual(r.Context(), auth.WorkspaceFromContext(r.Context()), req)
	if err != nil {
		if errors.Is(err, tenant.ErrAmbiguous) || errors.Is(err, tenant.ErrUnresolved) {
			httputil.WriteError(w, http.StatusBadRequest, "leads reference an identifier outside your workspace")
			return
		}
		h.internal(w, r, "manual ingest failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// SearchLeads handles GET /api/v1/leads/search?q=&size=.
func (h *Handler) SearchLeads(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "lead search is not enabled")
		return
	}
	q := r.URL.Query()
	res, err := h.search.Search(r.Context(), auth.WorkspaceFromContext(r.Context()),
		q.Get("q"), httputil.ParseIntParam(q.Get("size"), 20))
	if err != nil {
		h.internal(w, r, "lead search failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
