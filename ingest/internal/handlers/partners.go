package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/importer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/partner"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/validator"
)

// APIKeyHeader carries a partner key on upload requests.
const APIKeyHeader = "X-API-Key"

type createPartnerRequest struct {
	Name           string  `json:"name"`
	CommissionRate float64 `json:"commissionRate"`
}

type createPartnerResponse struct {
	Partner *models.Partner `json:"partner"`
	// APIKey is shown once; only its hash is stored.
	APIKey string `json:"api_key"`
}

// CreatePartner handles POST /api/v1/partners.
func (h *Handler) CreatePartner(w http.ResponseWriter, r *http.Request) {
	var req createPartnerRequest
	if !h.decode(w, r, validator.Partner, &req) {
		return
	}

	p := &models.Partner{
		ID:             uuid.NewString(),
		WorkspaceID:    auth.WorkspaceFromContext(r.Context()),
		Name:           strings.TrimSpace(req.Name),
		CommissionRate: req.CommissionRate,
		IsActive:       true,
	}
	key, hash, err := partner.GenerateKey(p.ID)
	if err != nil {
		h.internal(w, r, "failed to generate partner key", err)
		return
	}
	p.APIKeyHash = hash
	if err := h.store.CreatePartner(r.Context(), p); err != nil {
		h.internal(w, r, "failed to create partner", err)
		return
	}

	h.logger.InfoContext(r.Context(), "partner created",
		logging.WorkspaceID(p.WorkspaceID), logging.PartnerID(p.ID))
	httputil.WriteJSON(w, http.StatusCreated, createPartnerResponse{Partner: p, APIKey: key})
}

// UploadPartnerLeads handles POST /api/v1/partners/uploads. The caller is
// the partner itself, authenticated by its API key.
func (h *Handler) UploadPartnerLeads(w http.ResponseWriter, r *http.Request) {
	p, err := h.keys.Verify(r.Context(), r.Header.Get(APIKeyHeader))
	if err != nil {
		if errors.Is(err, partner.ErrInvalidKey) {
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.internal(w, r, "partner key lookup failed", err)
		return
	}
	ctx := logging.WithWorkspace(r.Context(), p.WorkspaceID)
	r = r.WithContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, `missing "file" field`)
		return
	}
	defer file.Close()

	result, err := h.uploader.Upload(ctx, p, file)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrUnparseable):
			httputil.WriteError(w, http.StatusUnprocessableEntity, "file could not be parsed as CSV")
		case errors.Is(err, importer.ErrNoRows):
			httputil.WriteError(w, http.StatusBadRequest, "file contains no rows")
		case errors.Is(err, importer.ErrTooManyRows):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			h.internal(w, r, "partner upload failed", err)
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// RecordCommission handles POST /api/v1/partners/commissions. A new record
// answers 201; a re-posted billing event answers 200 with the stored one.
func (h *Handler) RecordCommission(w http.ResponseWriter, r *http.Request) {
	var req partner.CommissionRequest
	if !h.decode(w, r, validator.Commission, &req) {
		return
	}

	rec, created, err := h.ledger.Record(r.Context(), auth.WorkspaceFromContext(r.Context()), req)
	if err != nil {
		h.ledgerError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, rec)
}

// CorrectCommission handles POST /api/v1/partners/commissions/{id}/corrections.
func (h *Handler) CorrectCommission(w http.ResponseWriter, r *http.Request) {
	var req partner.CorrectionRequest
	if !h.decode(w, r, validator.Correction, &req) {
		return
	}

	rec, err := h.ledger.Correct(r.Context(), auth.WorkspaceFromContext(r.Context()), r.PathValue("id"), req)
	if err != nil {
		h.ledgerError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// ListCommissions handles GET /api/v1/partners/{id}/commissions.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Statement(r.Context(), auth.WorkspaceFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		h.notFoundOr(w, r, "partner", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) ledgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, partner.ErrNotAttributed),
		errors.Is(err, partner.ErrCorrectCorrection),
		errors.Is(err, partner.ErrNoChange),
		errors.Is(err, partner.ErrInvalidAmount):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.internal(w, r, "commission ledger failed", err)
	}
}
