// Package idempotency detects duplicate deliveries and replays the response
// given the first time.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
)

// Store is the persistence the ledger needs.
type Store interface {
	GetIdempotencyRecord(ctx context.Context, eventID string, source models.Source) (*models.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error
}

// EventID fingerprints a delivery: hex(SHA-256(body || 0x00 || source)).
func EventID(body []byte, source models.Source) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Lookup returns the stored summary for a delivery seen before.
func (l *Ledger) Lookup(ctx context.Context, eventID string, source models.Source) (json.RawMessage, bool, error) {
	rec, err := l.store.GetIdempotencyRecord(ctx, eventID, source)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup idempotency record: %w", err)
	}
	return rec.Summary, true, nil
}

// Record stores summary once processing succeeded. When a concurrent delivery
// recorded first, the winner's summary is returned with duplicate=true.
func (l *Ledger) Record(ctx context.Context, eventID string, source models.Source, summary any) (json.RawMessage, bool, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, false, fmt.Errorf("marshal summary: %w", err)
	}

	err = l.store.InsertIdempotencyRecord(ctx, &models.IdempotencyRecord{
		EventID:     eventID,
		Source:      source,
		FirstSeenAt: l.now().UTC(),
		Summary:     data,
	})
	if err == nil {
		return data, false, nil
	}
	if !errors.Is(err, repository.ErrDuplicateEvent) {
		return nil, false, fmt.Errorf("record idempotency: %w", err)
	}

	winner, found, err := l.Lookup(ctx, eventID, source)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("idempotency record vanished after conflict: %s", eventID)
	}
	return winner, true, nil
}
