package handlers

import (
	"errors"
	"net/http"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/importer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/validator"
)

// CreateImport handles POST /api/v1/imports. The import runs to completion
// inside the request.
func (h *Handler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req importer.Request
	if !h.decode(w, r, validator.Import, &req) {
		return
	}
	ws := auth.WorkspaceFromContext(r.Context())
	if req.WorkspaceID != "" && req.WorkspaceID != ws {
		httputil.WriteError(w, http.StatusForbidden, "workspace mismatch")
		return
	}
	req.WorkspaceID = ws

	resp, err := h.importer.Import(r.Context(), ws, req)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrInProgress):
			httputil.WriteError(w, http.StatusConflict, "an import of this file is already processing")
		case errors.Is(err, importer.ErrUnparseable):
			httputil.WriteError(w, http.StatusUnprocessableEntity, "file could not be parsed as CSV or JSON")
		case errors.Is(err, importer.ErrNoRows):
			httputil.WriteError(w, http.StatusBadRequest, "file contains no rows")
		case errors.Is(err, importer.ErrTooManyRows):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, importer.ErrDownload):
			httputil.WriteError(w, http.StatusBadGateway, "file could not be downloaded")
		default:
			h.internal(w, r, "import failed", err)
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// GetImport handles GET /api/v1/imports/{id}.
func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	job, err := h.importer.Status(r.Context(), auth.WorkspaceFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		h.notFoundOr(w, r, "import job", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}
