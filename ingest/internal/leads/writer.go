// Package leads turns one decoded record into a stored lead: normalize,
// upsert within the workspace, emit lead.created, and dead-letter failures.
package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/events"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/normalizer"
)

type Store interface {
	UpsertLead(ctx context.Context, lead *models.Lead) (bool, error)
	InsertRawEvent(ctx context.Context, ev *models.RawEvent) error
}

// Meta describes where a record came from.
type Meta struct {
	WorkspaceID string
	Source      models.Source
	PartnerID   *string
	EventID     string
	JobID       string
	// Row is the 1-indexed data row for file imports.
	Row     int
	Headers map[string]string
}

// Outcome is the result of writing one record. Err is set when nothing was
// stored; Unparsed marks a record kept as a raw event because no normalizer
// recognized it.
type Outcome struct {
	Lead     *models.Lead
	Created  bool
	Unparsed bool
	Err      error
}

// Stored reports whether the record produced a lead.
func (o Outcome) Stored() bool {
	return o.Err == nil && o.Lead != nil
}

type Writer struct {
	store    Store
	pipeline *normalizer.Pipeline
	emitter  events.Emitter
	dlq      dlq.Writer
	logger   *slog.Logger
}

func NewWriter(store Store, pipeline *normalizer.Pipeline, emitter events.Emitter, dead dlq.Writer, logger *slog.Logger) *Writer {
	if pipeline == nil {
		pipeline = normalizer.NewPipeline(nil)
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if dead == nil {
		dead = dlq.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, pipeline: pipeline, emitter: emitter, dlq: dead, logger: logger}
}

// Write normalizes and stores item. It never panics on bad input and never
// affects sibling records.
func (w *Writer) Write(ctx context.Context, item any, meta Meta) Outcome {
	if meta.WorkspaceID == "" {
		return Outcome{Err: errors.New("workspace is required")}
	}

	lead, err := w.pipeline.Normalize(item, meta.Source)
	if errors.Is(err, normalizer.ErrUnrecognizedShape) {
		return w.keepUnparsed(ctx, item, meta)
	}
	if err != nil {
		w.fail(ctx, dlq.ReasonNormalization, err, item, meta)
		return Outcome{Err: err}
	}

	lead.WorkspaceID = meta.WorkspaceID
	if meta.PartnerID != nil {
		id := *meta.PartnerID
		lead.PartnerID = &id
	}

	created, err := w.store.UpsertLead(ctx, lead)
	if err != nil {
		err = fmt.Errorf("store lead: %w", err)
		w.fail(ctx, "store", err, item, meta)
		return Outcome{Err: err}
	}

	result := "merged"
	if created {
		result = "created"
		// emit failures are logged by the emitter; the lead stands
		_ = w.emitter.Emit(ctx, events.New(events.LeadCreated, lead))
	}
	metrics.LeadsStored.WithLabelValues(string(meta.Source), result).Inc()

	return Outcome{Lead: lead, Created: created}
}

func (w *Writer) keepUnparsed(ctx context.Context, item any, meta Meta) Outcome {
	body, err := json.Marshal(item)
	if err != nil {
		body = nil
	}
	ws := meta.WorkspaceID
	ev := &models.RawEvent{
		EventID:         meta.EventID,
		Source:          meta.Source,
		ReceivedHeaders: meta.Headers,
		RawBody:         body,
		ReceivedAt:      time.Now().UTC(),
		WorkspaceID:     &ws,
		Status:          models.RawEventUnparsed,
		Reason:          normalizer.ErrUnrecognizedShape.Error(),
	}
	if err := w.store.InsertRawEvent(ctx, ev); err != nil {
		w.logger.ErrorContext(ctx, "failed to keep unparsed record",
			logging.WorkspaceID(meta.WorkspaceID), logging.Error(err))
	}
	w.logger.WarnContext(ctx, "record shape not recognized",
		logging.WorkspaceID(meta.WorkspaceID),
		logging.Source(string(meta.Source)),
		logging.EventID(meta.EventID))
	return Outcome{Unparsed: true, Err: normalizer.ErrUnrecognizedShape}
}

func (w *Writer) fail(ctx context.Context, reason string, err error, item any, meta Meta) {
	w.logger.WarnContext(ctx, "record rejected",
		logging.WorkspaceID(meta.WorkspaceID),
		logging.Source(string(meta.Source)),
		logging.EventID(meta.EventID),
		logging.JobID(meta.JobID),
		slog.Int("row", meta.Row),
		logging.Error(err))

	rec := dlq.NewRecord(reason, err, item)
	rec.Source = meta.Source
	rec.WorkspaceID = meta.WorkspaceID
	rec.EventID = meta.EventID
	rec.JobID = meta.JobID
	rec.Row = meta.Row
	if derr := w.dlq.Write(ctx, rec); derr != nil {
		w.logger.ErrorContext(ctx, "dlq write failed", logging.Error(derr))
	}
}
