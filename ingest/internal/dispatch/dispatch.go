// Package dispatch hands stored leads to the routing engine, either in
// process or through a JetStream work queue.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging/nats"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/routing"
)

// Modes accepted by dispatch.mode.
const (
	ModeInline = "inline"
	ModeQueued = "queued"
)

// Request asks for one lead to be routed.
type Request struct {
	WorkspaceID string        `json:"workspace_id"`
	LeadID      string        `json:"lead_id"`
	Source      models.Source `json:"source"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Router is implemented by routing.Engine.
type Router interface {
	RouteByID(ctx context.Context, workspaceID, leadID string) (*routing.Result, error)
}

// InlineDispatcher routes synchronously in the caller's goroutine.
type InlineDispatcher struct {
	router Router
	dlq    dlq.Writer
	logger *slog.Logger
}

func NewInlineDispatcher(router Router, dead dlq.Writer, logger *slog.Logger) *InlineDispatcher {
	if dead == nil {
		dead = dlq.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{router: router, dlq: dead, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, req Request) error {
	res, err := d.router.RouteByID(ctx, req.WorkspaceID, req.LeadID)
	if errors.Is(err, routing.ErrIneligible) {
		return nil
	}
	if err == nil && len(res.Errors) > 0 {
		err = fmt.Errorf("partial routing failure: %v", res.Errors)
	}
	if err != nil {
		metrics.DispatchErrors.WithLabelValues(ModeInline).Inc()
		d.logger.WarnContext(ctx, "inline routing failed",
			logging.WorkspaceID(req.WorkspaceID), logging.LeadID(req.LeadID), logging.Error(err))
		rec := dlq.NewRecord(dlq.ReasonRouting, err, req)
		rec.WorkspaceID = req.WorkspaceID
		rec.LeadID = req.LeadID
		rec.Source = req.Source
		_ = d.dlq.Write(ctx, rec)
		return err
	}
	return nil
}

type publisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) error
}

// QueuedDispatcher publishes routing requests to the routing stream;
// Worker consumes them.
type QueuedDispatcher struct {
	pub publisher
}

func NewQueuedDispatcher(pub publisher) *QueuedDispatcher {
	return &QueuedDispatcher{pub: pub}
}

func (d *QueuedDispatcher) Dispatch(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal routing request: %w", err)
	}
	if err := d.pub.PublishSync(ctx, messaging.SubjectLeadsRouteRequested, data); err != nil {
		metrics.DispatchErrors.WithLabelValues(ModeQueued).Inc()
		return fmt.Errorf("enqueue routing request: %w", err)
	}
	return nil
}

// Worker routes leads taken from the routing stream.
type Worker struct {
	router     Router
	dlq        dlq.Writer
	logger     *slog.Logger
	maxDeliver int
}

func NewWorker(router Router, dead dlq.Writer, maxDeliver int, logger *slog.Logger) *Worker {
	if dead == nil {
		dead = dlq.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{router: router, dlq: dead, logger: logger, maxDeliver: maxDeliver}
}

// Handle is the message handler for routing requests. A returned error
// asks the broker to redeliver; on the last delivery the request goes to
// the dead-letter queue and is acknowledged.
func (w *Worker) Handle(ctx context.Context, msg *messaging.Message) error {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed routing request", logging.Error(err))
		_ = w.dlq.Write(ctx, dlq.NewRecord(dlq.ReasonRouting, err, json.RawMessage(msg.Data)))
		return nil
	}

	res, err := w.router.RouteByID(ctx, req.WorkspaceID, req.LeadID)
	if errors.Is(err, routing.ErrIneligible) {
		return nil
	}
	if err == nil && len(res.Errors) > 0 {
		err = fmt.Errorf("partial routing failure: %v", res.Errors)
	}
	if err == nil {
		return nil
	}

	metrics.DispatchErrors.WithLabelValues(ModeQueued).Inc()
	delivered, _ := strconv.Atoi(msg.Metadata["Nats-Num-Delivered"])
	if w.maxDeliver > 0 && delivered >= w.maxDeliver {
		w.logger.ErrorContext(ctx, "routing retries exhausted",
			logging.WorkspaceID(req.WorkspaceID), logging.LeadID(req.LeadID), logging.Error(err))
		rec := dlq.NewRecord(dlq.ReasonRouting, err, req)
		rec.WorkspaceID = req.WorkspaceID
		rec.LeadID = req.LeadID
		rec.Source = req.Source
		rec.Attempts = delivered
		_ = w.dlq.Write(ctx, rec)
		return nil
	}
	return err
}

type consumer interface {
	CreateOrUpdateStream(ctx context.Context, cfg nats.StreamConfig) error
	Consume(ctx context.Context, stream string, cfg nats.ConsumerConfig, handler messaging.MessageHandler) (func(), error)
}

// Start binds the worker to the routing stream. The returned func stops it.
func (w *Worker) Start(ctx context.Context, js consumer) (func(), error) {
	if err := js.CreateOrUpdateStream(ctx, nats.RoutingStream); err != nil {
		return nil, err
	}
	cfg := nats.DefaultConsumerConfig(messaging.QueueRoutingWorkers, messaging.SubjectLeadsRouteRequested)
	if w.maxDeliver > 0 {
		cfg.MaxDeliver = w.maxDeliver
	}
	return js.Consume(ctx, nats.RoutingStream.Name, cfg, w.Handle)
}
