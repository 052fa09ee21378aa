// Package dlq captures records that could not be normalized or routed so
// they can be inspected and replayed.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

// Failure reasons.
const (
	ReasonNormalization = "normalization"
	ReasonRouting       = "routing"
	ReasonImportRow     = "import_row"
	ReasonPartnerRow    = "partner_row"
)

var ErrDisabled = errors.New("dlq not enabled")

// FailedRecord is one record that could not be processed, with enough
// context to replay it.
type FailedRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Reason      string          `json:"reason"`
	Error       string          `json:"error"`
	Source      models.Source   `json:"source,omitempty"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	EventID     string          `json:"event_id,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	LeadID      string          `json:"lead_id,omitempty"`
	Row         int             `json:"row,omitempty"`
	Record      json.RawMessage `json:"record,omitempty"`
	Attempts    int             `json:"attempts"`
}

// NewRecord builds a FailedRecord for item, which is marshaled as is.
func NewRecord(reason string, err error, item any) *FailedRecord {
	rec := &FailedRecord{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Attempts:  1,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if item != nil {
		if data, merr := json.Marshal(item); merr == nil {
			rec.Record = data
		}
	}
	return rec
}

// Writer accepts failed records. Implementations must be safe for
// concurrent use.
type Writer interface {
	Write(ctx context.Context, rec *FailedRecord) error
}

// StatsReporter is implemented by queues that can describe their backlog.
type StatsReporter interface {
	Stats(ctx context.Context) map[string]any
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(context.Context, *FailedRecord) error { return nil }

// Queue writes failed records to a directory, one JSON file each.
type Queue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

// NewQueue creates a file-backed queue rooted at basePath.
func NewQueue(basePath string, logger *slog.Logger) (*Queue, error) {
	if basePath == "" {
		basePath = "/var/lib/leadme/dlq"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{basePath: basePath, logger: logger}, nil
}

func (q *Queue) Write(ctx context.Context, rec *FailedRecord) error {
	if q == nil {
		return nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_%d.json", time.Now().UnixNano(), q.written)
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		q.logger.ErrorContext(ctx, "failed to write dlq record", "file", filename, "error", err)
		return fmt.Errorf("write dlq record: %w", err)
	}

	q.written++
	metrics.DLQWrites.WithLabelValues(rec.Reason).Inc()
	q.logger.WarnContext(ctx, "record sent to dlq", "file", filename, "reason", rec.Reason)
	return nil
}

// Stats reports queue counters for health output.
func (q *Queue) Stats(context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.filesLocked()
	if err != nil {
		return map[string]any{"enabled": true, "backend": "file", "written": q.written, "error": err.Error()}
	}
	return map[string]any{
		"enabled":       true,
		"backend":       "file",
		"written":       q.written,
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit records, oldest first. limit <= 0 means all.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.filesLocked()
	if err != nil {
		return nil, err
	}

	var out []FailedRecord
	for _, name := range files {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read dlq file", "file", name, "error", err)
			continue
		}
		var rec FailedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq file", "file", name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Purge deletes every stored record.
func (q *Queue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.filesLocked()
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	q.logger.InfoContext(ctx, "dlq purged", "files", len(files))
	return nil
}

func (q *Queue) filesLocked() ([]string, error) {
	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "failed_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
