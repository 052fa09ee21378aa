package models

import (
	"encoding/json"
	"time"
)

// RawEventStatus records what happened to an inbound payload.
type RawEventStatus string

const (
	RawEventAccepted RawEventStatus = "accepted"
	// RawEventOrphaned payloads had no resolvable workspace and are never routed.
	RawEventOrphaned RawEventStatus = "orphaned"
	// RawEventUnparsed payloads matched no known shape; kept for manual reconciliation.
	RawEventUnparsed RawEventStatus = "unparsed"
)

// RawEvent is an unmodified inbound payload. Immutable once stored.
type RawEvent struct {
	ID              string            `json:"id"`
	EventID         string            `json:"event_id"`
	Source          Source            `json:"source"`
	ReceivedHeaders map[string]string `json:"received_headers"`
	RawBody         json.RawMessage   `json:"raw_body"`
	ReceivedAt      time.Time         `json:"received_at"`
	WorkspaceID     *string           `json:"workspace_id,omitempty"`
	Status          RawEventStatus    `json:"status"`
	Reason          string            `json:"reason,omitempty"`
}

// IdempotencyRecord remembers the response given for a processed delivery.
type IdempotencyRecord struct {
	EventID     string          `json:"event_id"`
	Source      Source          `json:"source"`
	FirstSeenAt time.Time       `json:"first_seen_at"`
	Summary     json.RawMessage `json:"summary"`
}

// MappingKind is the kind of external identifier bound to a workspace.
type MappingKind string

const (
	MappingPixel    MappingKind = "pixel"
	MappingAudience MappingKind = "audience"
	MappingCampaign MappingKind = "campaign"
)

// Valid reports whether k is a known mapping kind.
func (k MappingKind) Valid() bool {
	return k == MappingPixel || k == MappingAudience || k == MappingCampaign
}

// TenantMapping binds an external identifier to a workspace.
type TenantMapping struct {
	Kind        MappingKind `json:"kind"`
	ExternalID  string      `json:"external_id"`
	WorkspaceID string      `json:"workspace_id"`
	CreatedAt   time.Time   `json:"created_at"`
}
