package handlers

import (
	"net/http"
	"strings"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/normalizer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/validator"
)

type targetingRequest struct {
	Industries  []string `json:"industries"`
	States      []string `json:"states"`
	Cities      []string `json:"cities"`
	PostalCodes []string `json:"postalCodes"`
	DailyCap    *int     `json:"dailyCap"`
	WeeklyCap   *int     `json:"weeklyCap"`
	MonthlyCap  *int     `json:"monthlyCap"`
	IsActive    *bool    `json:"isActive"`
}

type tenantMappingRequest struct {
	Kind       models.MappingKind `json:"kind"`
	ExternalID string             `json:"externalId"`
}

// GetTargeting handles GET /api/v1/targeting/{kind}/{recipientId}.
func (h *Handler) GetTargeting(w http.ResponseWriter, r *http.Request) {
	kind, ok := recipientKind(w, r)
	if !ok {
		return
	}
	rule, err := h.store.GetRule(r.Context(), auth.WorkspaceFromContext(r.Context()), kind, r.PathValue("recipientId"))
	if err != nil {
		h.notFoundOr(w, r, "targeting rule", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

// PutTargeting handles POST /api/v1/targeting/{kind}/{recipientId}. The
// body replaces the recipient's preferences; isActive defaults to true.
func (h *Handler) PutTargeting(w http.ResponseWriter, r *http.Request) {
	kind, ok := recipientKind(w, r)
	if !ok {
		return
	}
	var req targetingRequest
	if !h.decode(w, r, validator.Targeting, &req) {
		return
	}
	if errs := validator.CheckCapOrder(req.DailyCap, req.WeeklyCap, req.MonthlyCap); len(errs) > 0 {
		httputil.WriteValidationError(w, errs)
		return
	}

	rule := &models.TargetingRule{
		WorkspaceID:   auth.WorkspaceFromContext(r.Context()),
		RecipientID:   r.PathValue("recipientId"),
		RecipientKind: kind,
		Industries:    clean(req.Industries, normalizer.SlugIndustry),
		States:        clean(req.States, normalizer.NormalizeState),
		Cities:        clean(req.Cities, strings.TrimSpace),
		PostalCodes:   clean(req.PostalCodes, normalizer.NormalizePostalCode),
		DailyCap:      req.DailyCap,
		WeeklyCap:     req.WeeklyCap,
		MonthlyCap:    req.MonthlyCap,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if err := h.store.UpsertRule(r.Context(), rule); err != nil {
		h.internal(w, r, "failed to save targeting rule", err)
		return
	}
	h.logger.InfoContext(r.Context(), "targeting rule saved",
		logging.WorkspaceID(rule.WorkspaceID), logging.RecipientID(rule.RecipientID))
	httputil.WriteJSON(w, http.StatusOK, rule)
}

// CreateTenantMapping handles POST /api/v1/tenant-mappings.
func (h *Handler) CreateTenantMapping(w http.ResponseWriter, r *http.Request) {
	var req tenantMappingRequest
	if !h.decode(w, r, validator.TenantMapping, &req) {
		return
	}
	m := &models.TenantMapping{
		Kind:        req.Kind,
		ExternalID:  strings.TrimSpace(req.ExternalID),
		WorkspaceID: auth.WorkspaceFromContext(r.Context()),
	}
	if err := h.store.UpsertTenantMapping(r.Context(), m); err != nil {
		h.internal(w, r, "failed to save tenant mapping", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func recipientKind(w http.ResponseWriter, r *http.Request) (models.RecipientKind, bool) {
	kind := models.RecipientKind(r.PathValue("kind"))
	if !kind.Valid() {
		httputil.WriteError(w, http.StatusNotFound, "unknown recipient kind")
		return "", false
	}
	if strings.TrimSpace(r.PathValue("recipientId")) == "" {
		httputil.WriteError(w, http.StatusNotFound, "recipient not found")
		return "", false
	}
	return kind, true
}

// clean normalizes every value and drops the ones that come out empty.
func clean(values []string, norm func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := norm(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}
