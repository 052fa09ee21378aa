package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/adamwolfe2/leadme-sub019/common/messaging"
)

// JetStreamClient adds durable streams and consumers to Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig describes a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// ConsumerConfig describes a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration
	// MaxDeliver bounds redeliveries; a message that fails every attempt is dropped
	// by the server and must be captured by the handler's own dead-letter path.
	MaxDeliver    int
	MaxAckPending int
	NakDelay      time.Duration
}

// DefaultConsumerConfig returns the consumer settings used by lead workers.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 256,
		NakDelay:      2 * time.Second,
	}
}

// NewJetStreamClient connects to NATS and opens a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream makes sure the stream exists with cfg.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("create or update stream %s: %w", cfg.Name, err)
	}
	return nil
}

// StreamState summarizes the contents of a stream.
type StreamState struct {
	Msgs      uint64
	Bytes     uint64
	Consumers int
}

// StreamState returns the current message and byte counts of stream.
func (c *JetStreamClient) StreamState(ctx context.Context, stream string) (StreamState, error) {
	s, err := c.js.Stream(ctx, stream)
	if err != nil {
		return StreamState{}, fmt.Errorf("get stream %s: %w", stream, err)
	}
	info, err := s.Info(ctx)
	if err != nil {
		return StreamState{}, fmt.Errorf("stream info %s: %w", stream, err)
	}
	return StreamState{
		Msgs:      info.State.Msgs,
		Bytes:     info.State.Bytes,
		Consumers: info.State.Consumers,
	}, nil
}

// PurgeStream removes every message from stream.
func (c *JetStreamClient) PurgeStream(ctx context.Context, stream string) error {
	s, err := c.js.Stream(ctx, stream)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", stream, err)
	}
	if err := s.Purge(ctx); err != nil {
		return fmt.Errorf("purge stream %s: %w", stream, err)
	}
	return nil
}

// PublishSync publishes to JetStream and waits for the server ack.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", subject, err)
	}
	return nil
}

// PublishMsgSync publishes msg with headers and waits for the server ack.
func (c *JetStreamClient) PublishMsgSync(ctx context.Context, msg *messaging.Message) error {
	if _, err := c.js.PublishMsg(ctx, toNATS(msg)); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Consume binds a durable consumer on stream and feeds messages to handler.
// Handler errors nak the message with cfg.NakDelay. The returned func stops consumption.
func (c *JetStreamClient) Consume(ctx context.Context, stream string, cfg ConsumerConfig, handler messaging.MessageHandler) (func(), error) {
	s, err := c.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", stream, err)
	}

	consumer, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create or update consumer %s: %w", cfg.Name, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Metadata:  headerMap(msg.Headers()),
			Timestamp: time.Now(),
		}
		if meta, err := msg.Metadata(); err == nil {
			m.Timestamp = meta.Timestamp
			if m.Metadata == nil {
				m.Metadata = map[string]string{}
			}
			m.Metadata["Nats-Num-Delivered"] = fmt.Sprint(meta.NumDelivered)
		}

		if err := handler(consumeCtx, m); err != nil {
			c.logger.Warn("consumer handler failed, redelivering",
				"consumer", cfg.Name, "subject", m.Subject, "error", err)
			_ = msg.NakWithDelay(cfg.NakDelay)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start consumer %s: %w", cfg.Name, err)
	}

	return func() {
		cancel()
		cc.Stop()
	}, nil
}

// Streams used by the ingestion service.
var (
	// RoutingStream holds routing work for the queued dispatcher.
	RoutingStream = StreamConfig{
		Name:      "LEADS_ROUTING",
		Subjects:  []string{"leads.route.>"},
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		MaxMsgs:   1_000_000,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// LeadEventsStream holds lead.created and lead.routed notifications.
	LeadEventsStream = StreamConfig{
		Name:      "LEADS_EVENTS",
		Subjects:  []string{"leads.events.>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		MaxMsgs:   5_000_000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	// DeadLetterStream holds events that could not be processed.
	DeadLetterStream = StreamConfig{
		Name:      "LEADS_DLQ",
		Subjects:  []string{"leads.dlq.>"},
		MaxAge:    30 * 24 * time.Hour,
		MaxBytes:  512 * 1024 * 1024,
		MaxMsgs:   1_000_000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
