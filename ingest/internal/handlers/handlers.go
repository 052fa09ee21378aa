// Package handlers serves the authenticated /api/v1 surface of the ingest
// service together with its health endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/importer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leadindex"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/partner"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/service"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/validator"
)

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultMaxUploadBytes = 20 << 20
)

type Ingester interface {
	IngestManual(ctx context.Context, workspaceID string, req service.ManualRequest) (*service.ManualResponse, error)
	Stats() service.IngestionStats
}

type Importer interface {
	Import(ctx context.Context, workspaceID string, req importer.Request) (*importer.Response, error)
	Status(ctx context.Context, workspaceID, id string) (*models.ImportJob, error)
}

type Searcher interface {
	Search(ctx context.Context, workspaceID, query string, size int) (*leadindex.SearchResult, error)
}

// Store is the slice of the repository the handlers write to directly.
type Store interface {
	Ping(ctx context.Context) error
	GetRule(ctx context.Context, workspaceID string, kind models.RecipientKind, recipientID string) (*models.TargetingRule, error)
	UpsertRule(ctx context.Context, rule *models.TargetingRule) error
	UpsertTenantMapping(ctx context.Context, m *models.TenantMapping) error
	CreatePartner(ctx context.Context, p *models.Partner) error
}

type Deps struct {
	Ingester  Ingester
	Importer  Importer
	Store     Store
	Uploader  *partner.Uploader
	Ledger    *partner.Ledger
	Keys      *partner.KeyVerifier
	Validator *validator.Validator
	// Search is nil when the lead index is disabled.
	Search Searcher
	DLQ    dlq.StatsReporter
	// Broker is nil when NATS is not configured.
	Broker messaging.Broker

	MaxBodyBytes   int64
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Handler struct {
	ingester  Ingester
	importer  Importer
	store     Store
	uploader  *partner.Uploader
	ledger    *partner.Ledger
	keys      *partner.KeyVerifier
	validator *validator.Validator
	search    Searcher
	dlq       dlq.StatsReporter
	broker    messaging.Broker

	maxBody   int64
	maxUpload int64
	logger    *slog.Logger
	started   time.Time
}

func New(d Deps) *Handler {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBodyBytes
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Validator == nil {
		d.Validator = validator.MustNew()
	}
	return &Handler{
		ingester:  d.Ingester,
		importer:  d.Importer,
		store:     d.Store,
		uploader:  d.Uploader,
		ledger:    d.Ledger,
		keys:      d.Keys,
		validator: d.Validator,
		search:    d.Search,
		dlq:       d.DLQ,
		broker:    d.Broker,
		maxBody:   d.MaxBodyBytes,
		maxUpload: d.MaxUploadBytes,
		logger:    d.Logger,
		started:   time.Now(),
	}
}

// Health reports liveness only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Ready checks the store and the broker connection, and reports ingestion
// and dead-letter counters.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"status": "ready"}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "readiness check failed", logging.Error(err))
		body["status"] = "not ready"
		body["store"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if h.broker != nil {
		health := messaging.CheckHealth(h.broker)
		body["broker"] = health
		if !health.Connected {
			body["status"] = "not ready"
			status = http.StatusServiceUnavailable
		}
	}
	if h.ingester != nil {
		body["ingestion"] = h.ingester.Stats()
	}
	if h.dlq != nil {
		body["dlq"] = h.dlq.Stats(ctx)
	}
	httputil.WriteJSON(w, status, body)
}

// decode reads a JSON body, validates it against schema and unmarshals it
// into dst. It writes the error response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	if !httputil.IsJSONContentType(r.Header.Get("Content-Type")) {
		httputil.WriteError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	body, err := httputil.ReadBody(r, h.maxBody)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httputil.WriteError(w, http.StatusBadRequest, "could not read request body")
		return false
	}

	fields, err := h.validator.Validate(schema, body)
	if err != nil {
		if errors.Is(err, validator.ErrMalformed) {
			httputil.WriteError(w, http.StatusBadRequest, "malformed JSON body")
			return false
		}
		h.internal(w, r, "schema validation failed", err)
		return false
	}
	if len(fields) > 0 {
		httputil.WriteValidationError(w, fields)
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

// notFoundOr answers 404 for repository.ErrNotFound and 500 otherwise.
func (h *Handler) notFoundOr(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.internal(w, r, "failed to load "+what, err)
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		logging.WorkspaceID(logging.WorkspaceFromContext(r.Context())),
		logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, "internal error")
}
