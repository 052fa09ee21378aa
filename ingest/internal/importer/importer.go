// Package importer runs batch file imports: download, parse, normalize and
// store in bounded batches, then hand eligible leads to routing.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dispatch"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leads"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
)

var (
	ErrInProgress  = errors.New("import already processing")
	ErrNoRows      = errors.New("import file has no data rows")
	ErrTooManyRows = errors.New("import file exceeds the row limit")
	ErrDownload    = errors.New("import file could not be downloaded")
)

type Store interface {
	CreateImportJob(ctx context.Context, job *models.ImportJob) error
	GetImportJob(ctx context.Context, workspaceID, id string) (*models.ImportJob, error)
	GetImportJobByHash(ctx context.Context, workspaceID, hash string) (*models.ImportJob, error)
	UpdateImportProgress(ctx context.Context, workspaceID, id string, processed, failed int) error
	FinishImportJob(ctx context.Context, job *models.ImportJob) error
	AbandonImportJob(ctx context.Context, workspaceID, id string, staleBefore time.Time, reason string) (bool, error)
}

type Downloader interface {
	Fetch(ctx context.Context, rawURL string) (*File, error)
}

type Options struct {
	MaxRows      int
	BatchSize    int
	Concurrency  int
	BatchTimeout time.Duration
	// JobLease is how long a processing job may go without progress before
	// a new submission of the same file takes it over. Defaults to five
	// batch timeouts.
	JobLease time.Duration
}

const abandonedReason = "import abandoned: no progress within the job lease"

type Request struct {
	FileURL     string `json:"fileUrl"`
	AudienceID  string `json:"audienceId,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type Response struct {
	JobID      string              `json:"job_id"`
	Status     models.ImportStatus `json:"status"`
	TotalRows  int                 `json:"total_rows"`
	Stored     int                 `json:"stored"`
	FailedRows int                 `json:"failed_rows"`
	Duplicate  bool                `json:"duplicate"`
}

func responseFor(job *models.ImportJob, duplicate bool) *Response {
	return &Response{
		JobID:      job.ID,
		Status:     job.Status,
		TotalRows:  job.TotalRows,
		Stored:     job.Stored(),
		FailedRows: job.FailedRows,
		Duplicate:  duplicate,
	}
}

// Hash identifies an import request. Re-posting the same file for the same
// audience and workspace maps to the same job.
func Hash(fileURL, audienceID, workspaceID string) string {
	h := sha256.New()
	h.Write([]byte(fileURL))
	h.Write([]byte{0})
	h.Write([]byte(audienceID))
	h.Write([]byte{0})
	h.Write([]byte(workspaceID))
	return hex.EncodeToString(h.Sum(nil))
}

type Importer struct {
	store      Store
	downloader Downloader
	writer     *leads.Writer
	dispatcher dispatch.Dispatcher
	dlq        dlq.Writer
	opts       Options
	now        func() time.Time
	logger     *slog.Logger
}

func New(store Store, downloader Downloader, writer *leads.Writer, dispatcher dispatch.Dispatcher, dead dlq.Writer, opts Options, logger *slog.Logger) *Importer {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 50000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 60 * time.Second
	}
	if opts.JobLease <= 0 {
		opts.JobLease = 5 * opts.BatchTimeout
	}
	if dead == nil {
		dead = dlq.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:      store,
		downloader: downloader,
		writer:     writer,
		dispatcher: dispatcher,
		dlq:        dead,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
}

// Import runs one import to completion. A completed job with the same hash
// is returned as a duplicate without downloading; a processing one yields
// ErrInProgress until it has gone JobLease without progress, after which it
// is marked failed and the import starts over. Parse and row-count failures
// mark the job failed and wrap ErrUnparseable, ErrNoRows or ErrTooManyRows.
func (im *Importer) Import(ctx context.Context, workspaceID string, req Request) (*Response, error) {
	hash := Hash(req.FileURL, req.AudienceID, workspaceID)

	prior, err := im.store.GetImportJobByHash(ctx, workspaceID, hash)
	switch {
	case err == nil && prior.Status == models.ImportCompleted:
		return responseFor(prior, true), nil
	case err == nil && prior.Status == models.ImportProcessing:
		if err := im.takeOver(ctx, prior); err != nil {
			return nil, err
		}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup import job: %w", err)
	}

	job := &models.ImportJob{
		WorkspaceID:     workspaceID,
		IdempotencyHash: hash,
		FileURL:         req.FileURL,
		AudienceID:      req.AudienceID,
		Status:          models.ImportProcessing,
	}
	if err := im.store.CreateImportJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrImportInProgress) {
			return nil, ErrInProgress
		}
		return nil, fmt.Errorf("create import job: %w", err)
	}
	log := im.logger.With(logging.JobID(job.ID), logging.WorkspaceID(workspaceID))
	log.InfoContext(ctx, "import started")

	file, err := im.downloader.Fetch(ctx, req.FileURL)
	if err != nil {
		return nil, im.fail(ctx, job, fmt.Errorf("%w: %v", ErrDownload, err))
	}

	rows, err := Parse(file.Data, file.ContentType, req.FileURL)
	if err != nil {
		return nil, im.fail(ctx, job, err)
	}
	job.TotalRows = len(rows)
	switch {
	case len(rows) == 0:
		return nil, im.fail(ctx, job, ErrNoRows)
	case len(rows) > im.opts.MaxRows:
		return nil, im.fail(ctx, job, fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(rows), im.opts.MaxRows))
	}

	for start := 0; start < len(rows); start += im.opts.BatchSize {
		end := min(start+im.opts.BatchSize, len(rows))
		stored, failed := im.runBatch(ctx, job, rows[start:end], start)
		job.ProcessedRows += stored + failed
		job.FailedRows += failed

		if err := im.store.UpdateImportProgress(ctx, workspaceID, job.ID, job.ProcessedRows, job.FailedRows); err != nil {
			log.WarnContext(ctx, "failed to persist import progress", logging.Error(err))
		}
		if ctx.Err() != nil {
			// client gone; the rows left are counted failed so the job still finishes
			job.FailedRows += len(rows) - end
			job.ProcessedRows = len(rows)
			break
		}
	}

	job.Status = models.ImportCompleted
	if err := im.store.FinishImportJob(context.WithoutCancel(ctx), job); err != nil {
		return nil, fmt.Errorf("finish import job: %w", err)
	}
	metrics.ImportJobs.WithLabelValues(string(models.ImportCompleted)).Inc()
	log.InfoContext(ctx, "import completed",
		slog.Int("total_rows", job.TotalRows),
		slog.Int("stored", job.Stored()),
		slog.Int("failed_rows", job.FailedRows))
	return responseFor(job, false), nil
}

// runBatch stores rows under the batch timeout, then routes the eligible
// leads with bounded parallelism. Rows not reached before the deadline are
// failed. offset is the index of rows[0] in the file.
func (im *Importer) runBatch(ctx context.Context, job *models.ImportJob, rows []Row, offset int) (stored, failed int) {
	bctx, cancel := context.WithTimeout(ctx, im.opts.BatchTimeout)
	defer cancel()

	var eligible []*models.Lead
	for i, row := range rows {
		if bctx.Err() != nil {
			failed += len(rows) - i
			metrics.ImportRows.WithLabelValues("timeout").Add(float64(len(rows) - i))
			im.logger.WarnContext(ctx, "import batch timed out",
				logging.JobID(job.ID), slog.Int("row", offset+i+1))
			break
		}

		meta := leads.Meta{
			WorkspaceID: job.WorkspaceID,
			Source:      models.SourceBatchExport,
			JobID:       job.ID,
			Row:         offset + i + 1,
		}
		if row.Err != nil {
			failed++
			metrics.ImportRows.WithLabelValues("failed").Inc()
			rec := dlq.NewRecord(dlq.ReasonImportRow, row.Err, nil)
			rec.WorkspaceID, rec.JobID, rec.Row, rec.Source = job.WorkspaceID, job.ID, meta.Row, meta.Source
			_ = im.dlq.Write(ctx, rec)
			continue
		}

		out := im.writer.Write(bctx, row.Record, meta)
		if !out.Stored() {
			failed++
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}
		stored++
		metrics.ImportRows.WithLabelValues("stored").Inc()
		if out.Lead.Eligible {
			eligible = append(eligible, out.Lead)
		}
	}

	if im.dispatcher == nil || len(eligible) == 0 {
		return stored, failed
	}

	// all-settled: a routing failure is dead-lettered by the dispatcher and
	// never fails the row, which is already stored
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), im.opts.BatchTimeout)
	defer rcancel()
	g, gctx := errgroup.WithContext(rctx)
	g.SetLimit(im.opts.Concurrency)
	for _, lead := range eligible {
		g.Go(func() error {
			_ = im.dispatcher.Dispatch(gctx, dispatch.Request{
				WorkspaceID: lead.WorkspaceID,
				LeadID:      lead.ID,
				Source:      lead.Source,
			})
			return nil
		})
	}
	_ = g.Wait()
	return stored, failed
}

// takeOver fails a processing job that has outlived its lease. It returns
// ErrInProgress while the job is live or when another submission won the
// takeover.
func (im *Importer) takeOver(ctx context.Context, job *models.ImportJob) error {
	staleBefore := im.now().Add(-im.opts.JobLease)
	if !job.UpdatedAt.Before(staleBefore) {
		return ErrInProgress
	}
	abandoned, err := im.store.AbandonImportJob(ctx, job.WorkspaceID, job.ID, staleBefore, abandonedReason)
	if err != nil {
		return fmt.Errorf("abandon import job: %w", err)
	}
	if !abandoned {
		return ErrInProgress
	}
	metrics.ImportJobs.WithLabelValues(string(models.ImportFailed)).Inc()
	im.logger.WarnContext(ctx, "stale import job abandoned",
		logging.JobID(job.ID),
		logging.WorkspaceID(job.WorkspaceID),
		slog.Time("last_progress", job.UpdatedAt))
	return nil
}

func (im *Importer) fail(ctx context.Context, job *models.ImportJob, cause error) error {
	job.Status = models.ImportFailed
	job.Error = cause.Error()
	if err := im.store.FinishImportJob(context.WithoutCancel(ctx), job); err != nil {
		im.logger.ErrorContext(ctx, "failed to mark import failed", logging.JobID(job.ID), logging.Error(err))
	}
	metrics.ImportJobs.WithLabelValues(string(models.ImportFailed)).Inc()
	im.logger.WarnContext(ctx, "import failed", logging.JobID(job.ID), logging.Error(cause))
	return cause
}

// Status returns the job with id in workspaceID.
func (im *Importer) Status(ctx context.Context, workspaceID, id string) (*models.ImportJob, error) {
	return im.store.GetImportJob(ctx, workspaceID, id)
}
