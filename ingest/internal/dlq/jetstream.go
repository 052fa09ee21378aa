package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging/nats"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
)

type streamClient interface {
	CreateOrUpdateStream(ctx context.Context, cfg nats.StreamConfig) error
	PublishSync(ctx context.Context, subject string, data []byte) error
	StreamState(ctx context.Context, stream string) (nats.StreamState, error)
	PurgeStream(ctx context.Context, stream string) error
}

// JetStreamQueue publishes failed records to the dead-letter stream so every
// ingest instance shares one queue.
type JetStreamQueue struct {
	js      streamClient
	logger  *slog.Logger
	written atomic.Uint64
}

// NewJetStreamQueue makes sure the dead-letter stream exists.
func NewJetStreamQueue(ctx context.Context, js streamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := js.CreateOrUpdateStream(ctx, nats.DeadLetterStream); err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	logger.Info("dlq stream ready", "stream", nats.DeadLetterStream.Name)
	return &JetStreamQueue{js: js, logger: logger}, nil
}

func (q *JetStreamQueue) Write(ctx context.Context, rec *FailedRecord) error {
	if q == nil {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}
	if err := q.js.PublishSync(ctx, messaging.DLQSubject(rec.Reason), data); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish dlq record", "reason", rec.Reason, "error", err)
		return err
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues(rec.Reason).Inc()
	return nil
}

// Stats reports the stream state for health output.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "jetstream"}
	}
	out := map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
	state, err := q.js.StreamState(ctx, nats.DeadLetterStream.Name)
	if err != nil {
		out["error"] = err.Error()
		return out
	}
	out["total_messages"] = state.Msgs
	out["total_bytes"] = state.Bytes
	out["consumer_count"] = state.Consumers
	return out
}

// Purge removes every record from the stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	return q.js.PurgeStream(ctx, nats.DeadLetterStream.Name)
}
