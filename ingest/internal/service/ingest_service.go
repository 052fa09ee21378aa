// Package service orchestrates webhook deliveries and manual pushes through
// the idempotency ledger, tenant resolver, normalizer and dispatcher.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dispatch"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/idempotency"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leads"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/normalizer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/routing"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/tenant"
)

// ErrMalformedPayload means the body is not a JSON object or array of objects.
var ErrMalformedPayload = errors.New("malformed payload")

// Store is the slice of the repository the service writes directly.
type Store interface {
	InsertRawEvent(ctx context.Context, ev *models.RawEvent) error
}

// Router routes a stored lead synchronously.
type Router interface {
	Route(ctx context.Context, lead *models.Lead) (*routing.Result, error)
}

// Delivery is one inbound webhook request after authentication.
type Delivery struct {
	Source models.Source
	Body   []byte
	// Headers holds the allowlisted request headers only.
	Headers map[string]string
	// CallerWorkspace is set for authenticated first-party callers.
	CallerWorkspace string
	ReceivedAt      time.Time
}

type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Summary is the webhook response body. It is recorded in the idempotency
// ledger and replayed verbatim, with Duplicate set, for retries.
type Summary struct {
	Success   bool        `json:"success"`
	Stored    int         `json:"stored"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	Failed    int         `json:"failed"`
	Unparsed  int         `json:"unparsed,omitempty"`
	Duplicate bool        `json:"duplicate,omitempty"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// IngestionStats are process-local counters for the readiness endpoint.
type IngestionStats struct {
	Deliveries   int64     `json:"deliveries"`
	Duplicates   int64     `json:"duplicates"`
	Orphaned     int64     `json:"orphaned"`
	LeadsStored  int64     `json:"leads_stored"`
	RecordsFail  int64     `json:"records_failed"`
	LastDelivery time.Time `json:"last_delivery"`
}

type Deps struct {
	Store      Store
	Ledger     *idempotency.Ledger
	Resolver   *tenant.Resolver
	Writer     *leads.Writer
	Dispatcher dispatch.Dispatcher
	Router     Router
	Logger     *slog.Logger
}

type IngestService struct {
	store      Store
	ledger     *idempotency.Ledger
	resolver   *tenant.Resolver
	writer     *leads.Writer
	dispatcher dispatch.Dispatcher
	router     Router
	logger     *slog.Logger

	statsMu sync.RWMutex
	stats   IngestionStats
}

func NewIngestService(d Deps) *IngestService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		store:      d.Store,
		ledger:     d.Ledger,
		resolver:   d.Resolver,
		writer:     d.Writer,
		dispatcher: d.Dispatcher,
		router:     d.Router,
		logger:     logger,
	}
}

// IngestWebhook processes one authenticated delivery exactly once. A
// delivery already in the ledger returns the recorded summary with
// Duplicate set and touches nothing. Tenant failures store the payload as
// an orphan and return tenant.ErrUnresolved or tenant.ErrAmbiguous.
func (s *IngestService) IngestWebhook(ctx context.Context, d Delivery) (*Summary, error) {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}
	s.bumpStats(func(st *IngestionStats) {
		st.Deliveries++
		st.LastDelivery = d.ReceivedAt
	})

	eventID := idempotency.EventID(d.Body, d.Source)
	log := s.logger.With(logging.EventID(eventID), logging.Source(string(d.Source)))

	prior, found, err := s.ledger.Lookup(ctx, eventID, d.Source)
	if err != nil {
		return nil, err
	}
	if found {
		return s.replay(ctx, d.Source, prior)
	}

	payload, err := normalizer.Decode(d.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	items, err := normalizer.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	workspaceID, err := s.resolver.Resolve(ctx, tenant.Input{
		Payload:         payload,
		PixelID:         d.Headers[tenant.PixelHeader],
		CallerWorkspace: d.CallerWorkspace,
	})
	if err != nil {
		if !errors.Is(err, tenant.ErrUnresolved) && !errors.Is(err, tenant.ErrAmbiguous) {
			return nil, err
		}
		s.storeOrphan(ctx, eventID, d, err)
		log.WarnContext(ctx, "delivery orphaned", logging.Error(err))
		return nil, err
	}

	if err := s.store.InsertRawEvent(ctx, &models.RawEvent{
		EventID:         eventID,
		Source:          d.Source,
		ReceivedHeaders: d.Headers,
		RawBody:         d.Body,
		ReceivedAt:      d.ReceivedAt,
		WorkspaceID:     &workspaceID,
		Status:          models.RawEventAccepted,
	}); err != nil {
		return nil, fmt.Errorf("store raw event: %w", err)
	}

	summary := &Summary{Success: true, Total: len(items)}
	for i, item := range items {
		out := s.writer.Write(ctx, item, leads.Meta{
			WorkspaceID: workspaceID,
			Source:      d.Source,
			EventID:     eventID,
			Headers:     d.Headers,
		})
		s.tally(summary, i, out)
		if out.Stored() && out.Lead.Eligible {
			s.dispatch(ctx, out.Lead)
		}
	}

	winner, duplicate, err := s.ledger.Record(ctx, eventID, d.Source, summary)
	if err != nil {
		// the leads are stored; a retry will merge into them
		log.ErrorContext(ctx, "failed to record delivery", logging.Error(err))
		return summary, nil
	}
	if duplicate {
		return s.replay(ctx, d.Source, winner)
	}

	log.InfoContext(ctx, "delivery processed",
		logging.WorkspaceID(workspaceID),
		slog.Int("total", summary.Total),
		slog.Int("stored", summary.Stored),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

func (s *IngestService) replay(ctx context.Context, source models.Source, raw json.RawMessage) (*Summary, error) {
	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("decode recorded summary: %w", err)
	}
	summary.Duplicate = true
	metrics.DuplicateDeliveries.WithLabelValues(string(source)).Inc()
	s.bumpStats(func(st *IngestionStats) { st.Duplicates++ })
	s.logger.DebugContext(ctx, "duplicate delivery", logging.Source(string(source)))
	return &summary, nil
}

func (s *IngestService) storeOrphan(ctx context.Context, eventID string, d Delivery, cause error) {
	reason := "unresolved"
	if errors.Is(cause, tenant.ErrAmbiguous) {
		reason = "ambiguous"
	}
	metrics.OrphanedEvents.WithLabelValues(string(d.Source), reason).Inc()
	s.bumpStats(func(st *IngestionStats) { st.Orphaned++ })

	err := s.store.InsertRawEvent(ctx, &models.RawEvent{
		EventID:         eventID,
		Source:          d.Source,
		ReceivedHeaders: d.Headers,
		RawBody:         d.Body,
		ReceivedAt:      d.ReceivedAt,
		Status:          models.RawEventOrphaned,
		Reason:          cause.Error(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store orphaned event", logging.EventID(eventID), logging.Error(err))
	}
}

func (s *IngestService) tally(summary *Summary, index int, out leads.Outcome) {
	summary.Processed++
	switch {
	case out.Stored():
		summary.Stored++
		s.bumpStats(func(st *IngestionStats) { st.LeadsStored++ })
	case out.Unparsed:
		summary.Unparsed++
	default:
		summary.Failed++
		summary.Errors = append(summary.Errors, ItemError{Index: index, Error: out.Err.Error()})
		s.bumpStats(func(st *IngestionStats) { st.RecordsFail++ })
	}
}

func (s *IngestService) dispatch(ctx context.Context, lead *models.Lead) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		WorkspaceID: lead.WorkspaceID,
		LeadID:      lead.ID,
		Source:      lead.Source,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "routing dispatch failed",
			logging.WorkspaceID(lead.WorkspaceID), logging.LeadID(lead.ID), logging.Error(err))
	}
}

func (s *IngestService) bumpStats(fn func(*IngestionStats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// Stats returns a copy of the process-local counters.
func (s *IngestService) Stats() IngestionStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}
