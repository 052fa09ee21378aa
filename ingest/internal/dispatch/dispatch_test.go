package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging/nats"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/routing"
)

type fakeRouter struct {
	err   error
	calls []string
}

func (f *fakeRouter) RouteByID(_ context.Context, _, leadID string) (*routing.Result, error) {
	f.calls = append(f.calls, leadID)
	if f.err != nil {
		return nil, f.err
	}
	return &routing.Result{LeadID: leadID, Matched: true}, nil
}

type memoryDLQ struct{ records []*dlq.FailedRecord }

func (m *memoryDLQ) Write(_ context.Context, rec *dlq.FailedRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type fakeJS struct {
	subject string
	data    []byte
	stream  string
	cfg     nats.ConsumerConfig
}

func (f *fakeJS) PublishSync(_ context.Context, subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func (f *fakeJS) CreateOrUpdateStream(_ context.Context, cfg nats.StreamConfig) error {
	f.stream = cfg.Name
	return nil
}

func (f *fakeJS) Consume(_ context.Context, stream string, cfg nats.ConsumerConfig, _ messaging.MessageHandler) (func(), error) {
	f.stream, f.cfg = stream, cfg
	return func() {}, nil
}

func TestInlineDispatcherRoutesWithEngine(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	require.NoError(t, repo.UpsertRule(ctx, &models.TargetingRule{
		WorkspaceID: "ws-1", RecipientID: "user-1", RecipientKind: models.RecipientUser, IsActive: true,
	}))
	lead := &models.Lead{WorkspaceID: "ws-1", Email: "ann@acme.io"}
	_, err := repo.UpsertLead(ctx, lead)
	require.NoError(t, err)

	d := NewInlineDispatcher(routing.NewEngine(repo, nil, nil), nil, nil)
	require.NoError(t, d.Dispatch(ctx, Request{WorkspaceID: "ws-1", LeadID: lead.ID}))

	assignments, err := repo.ListAssignments(ctx, "ws-1", lead.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 1)
}

func TestInlineDispatcherDeadLettersFailures(t *testing.T) {
	dead := &memoryDLQ{}
	d := NewInlineDispatcher(&fakeRouter{err: errors.New("db down")}, dead, nil)

	err := d.Dispatch(context.Background(), Request{WorkspaceID: "ws-1", LeadID: "lead-1"})
	assert.Error(t, err)
	require.Len(t, dead.records, 1)
	assert.Equal(t, dlq.ReasonRouting, dead.records[0].Reason)
	assert.Equal(t, "lead-1", dead.records[0].LeadID)
}

func TestInlineDispatcherIgnoresIneligible(t *testing.T) {
	d := NewInlineDispatcher(&fakeRouter{err: routing.ErrIneligible}, nil, nil)
	assert.NoError(t, d.Dispatch(context.Background(), Request{LeadID: "lead-1"}))
}

func TestQueuedDispatcherPublishes(t *testing.T) {
	js := &fakeJS{}
	d := NewQueuedDispatcher(js)

	req := Request{WorkspaceID: "ws-1", LeadID: "lead-1", Source: models.SourcePixel}
	require.NoError(t, d.Dispatch(context.Background(), req))
	assert.Equal(t, messaging.SubjectLeadsRouteRequested, js.subject)

	var got Request
	require.NoError(t, json.Unmarshal(js.data, &got))
	assert.Equal(t, req, got)
}

func TestWorkerHandle(t *testing.T) {
	ctx := context.Background()
	body, _ := json.Marshal(Request{WorkspaceID: "ws-1", LeadID: "lead-1"})

	t.Run("success acks", func(t *testing.T) {
		router := &fakeRouter{}
		w := NewWorker(router, nil, 3, nil)
		assert.NoError(t, w.Handle(ctx, &messaging.Message{Data: body}))
		assert.Equal(t, []string{"lead-1"}, router.calls)
	})

	t.Run("failure before last delivery redelivers", func(t *testing.T) {
		dead := &memoryDLQ{}
		w := NewWorker(&fakeRouter{err: errors.New("boom")}, dead, 3, nil)
		msg := &messaging.Message{Data: body, Metadata: map[string]string{"Nats-Num-Delivered": "1"}}
		assert.Error(t, w.Handle(ctx, msg))
		assert.Empty(t, dead.records)
	})

	t.Run("last delivery dead-letters", func(t *testing.T) {
		dead := &memoryDLQ{}
		w := NewWorker(&fakeRouter{err: errors.New("boom")}, dead, 3, nil)
		msg := &messaging.Message{Data: body, Metadata: map[string]string{"Nats-Num-Delivered": "3"}}
		assert.NoError(t, w.Handle(ctx, msg))
		require.Len(t, dead.records, 1)
		assert.Equal(t, 3, dead.records[0].Attempts)
	})

	t.Run("malformed request is dropped", func(t *testing.T) {
		dead := &memoryDLQ{}
		w := NewWorker(&fakeRouter{}, dead, 3, nil)
		assert.NoError(t, w.Handle(ctx, &messaging.Message{Data: []byte("{")}))
		assert.Len(t, dead.records, 1)
	})
}

func TestWorkerStartBindsRoutingStream(t *testing.T) {
	js := &fakeJS{}
	w := NewWorker(&fakeRouter{}, nil, 4, nil)
	stop, err := w.Start(context.Background(), js)
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, nats.RoutingStream.Name, js.stream)
	assert.Equal(t, messaging.QueueRoutingWorkers, js.cfg.Name)
	assert.Equal(t, 4, js.cfg.MaxDeliver)
}
