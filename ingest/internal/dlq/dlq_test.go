package dlq_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwolfe2/leadme-sub019/common/messaging/nats"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

func TestQueue_WriteAndList(t *testing.T) {
	dir := t.TempDir()
	queue, err := dlq.NewQueue(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		rec := dlq.NewRecord(dlq.ReasonImportRow, errors.New("invalid email"), map[string]any{"email": "nope"})
		rec.JobID = "job-1"
		rec.Row = i
		rec.Source = models.SourceBatchExport
		require.NoError(t, queue.Write(ctx, rec))
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	records, err := queue.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].Row)
	assert.Equal(t, "invalid email", records[0].Error)
	assert.JSONEq(t, `{"email":"nope"}`, string(records[0].Record))

	limited, err := queue.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stats := queue.Stats(ctx)
	assert.Equal(t, uint64(3), stats["written"])
	assert.Equal(t, 3, stats["pending_files"])
}

func TestQueue_ConcurrentWrites(t *testing.T) {
	queue, err := dlq.NewQueue(t.TempDir(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, queue.Write(context.Background(), dlq.NewRecord(dlq.ReasonRouting, errors.New("x"), nil)))
		}()
	}
	wg.Wait()

	records, err := queue.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestQueue_Purge(t *testing.T) {
	dir := t.TempDir()
	queue, err := dlq.NewQueue(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, queue.Write(ctx, dlq.NewRecord(dlq.ReasonNormalization, errors.New("x"), nil)))
	require.NoError(t, queue.Purge(ctx))

	records, err := queue.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueue_Nil(t *testing.T) {
	var queue *dlq.Queue
	ctx := context.Background()

	assert.NoError(t, queue.Write(ctx, dlq.NewRecord(dlq.ReasonRouting, errors.New("x"), nil)))
	assert.Equal(t, false, queue.Stats(ctx)["enabled"])
	_, err := queue.List(ctx, 1)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.ErrorIs(t, queue.Purge(ctx), dlq.ErrDisabled)
}

type fakeStream struct {
	mu        sync.Mutex
	created   []string
	published map[string][][]byte
	purged    bool
}

func (f *fakeStream) CreateOrUpdateStream(_ context.Context, cfg nats.StreamConfig) error {
	f.created = append(f.created, cfg.Name)
	return nil
}

func (f *fakeStream) PublishSync(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeStream) StreamState(context.Context, string) (nats.StreamState, error) {
	return nats.StreamState{Msgs: 7, Bytes: 700}, nil
}

func (f *fakeStream) PurgeStream(context.Context, string) error {
	f.purged = true
	return nil
}

func TestJetStreamQueue(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{}

	queue, err := dlq.NewJetStreamQueue(ctx, stream, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{nats.DeadLetterStream.Name}, stream.created)

	require.NoError(t, queue.Write(ctx, dlq.NewRecord(dlq.ReasonRouting, errors.New("x"), nil)))
	assert.Len(t, stream.published["leads.dlq.routing"], 1)

	stats := queue.Stats(ctx)
	assert.Equal(t, uint64(1), stats["written_local"])
	assert.Equal(t, uint64(7), stats["total_messages"])

	require.NoError(t, queue.Purge(ctx))
	assert.True(t, stream.purged)
}

func TestNewJetStreamQueue_NilClient(t *testing.T) {
	_, err := dlq.NewJetStreamQueue(context.Background(), nil, nil)
	assert.Error(t, err)
}
