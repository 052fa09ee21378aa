// Package events emits lead lifecycle notifications to whatever the
// surrounding system listens with.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

type Type string

const (
	LeadCreated Type = "lead.created"
	LeadRouted  Type = "lead.routed"
)

// Subject returns the broker subject for t.
func (t Type) Subject() string {
	switch t {
	case LeadCreated:
		return messaging.SubjectLeadCreated
	case LeadRouted:
		return messaging.SubjectLeadRouted
	}
	return "leads.events.unknown"
}

// Recipient names one routing target in a lead.routed event.
type Recipient struct {
	ID   string               `json:"id"`
	Kind models.RecipientKind `json:"kind"`
}

type Event struct {
	ID          string       `json:"id"`
	Type        Type         `json:"type"`
	WorkspaceID string       `json:"workspace_id"`
	LeadID      string       `json:"lead_id"`
	OccurredAt  time.Time    `json:"occurred_at"`
	Lead        *models.Lead `json:"lead,omitempty"`
	Recipients  []Recipient  `json:"recipients,omitempty"`
}

// New stamps an event with an id and time.
func New(t Type, lead *models.Lead) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		WorkspaceID: lead.WorkspaceID,
		LeadID:      lead.ID,
		OccurredAt:  time.Now().UTC(),
		Lead:        lead,
	}
}

// Emitter publishes domain events. Emit failures never undo the write that
// produced the event.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// NoopEmitter drops events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) error { return nil }

type publisher interface {
	PublishMsgSync(ctx context.Context, msg *messaging.Message) error
}

// NATSEmitter publishes events to JetStream with the event id as the
// deduplication header.
type NATSEmitter struct {
	pub    publisher
	logger *slog.Logger
}

func NewNATSEmitter(pub publisher, logger *slog.Logger) *NATSEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSEmitter{pub: pub, logger: logger}
}

func (e *NATSEmitter) Emit(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	err = e.pub.PublishMsgSync(ctx, &messaging.Message{
		Subject: ev.Type.Subject(),
		Data:    data,
		Metadata: map[string]string{
			"Nats-Msg-Id":  ev.ID,
			"Workspace-Id": ev.WorkspaceID,
			"Event-Type":   string(ev.Type),
		},
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		e.logger.WarnContext(ctx, "failed to emit event",
			"event_type", ev.Type, "lead_id", ev.LeadID, "error", err)
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded events of type t, or all when t is empty.
func (r *Recorder) Events(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if t == "" || ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
