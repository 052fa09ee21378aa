// Package partner authenticates partner uploads and keeps the commission
// ledger for partner-sourced leads.
package partner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dispatch"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/importer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leads"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

type UploadStore interface {
	IncrementPartnerUploads(ctx context.Context, workspaceID, partnerID string, n int) error
}

// RowError reports a failed data row. Row is 1-indexed, not counting the
// header.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type UploadResult struct {
	Total  int `json:"total"`
	Stored int `json:"stored"`
	// Created counts stored rows that were new leads. Merged rows keep their
	// existing attribution and are not credited to the uploader.
	Created int        `json:"created"`
	Failed  int        `json:"failed"`
	Errors  []RowError `json:"errors"`
}

type Uploader struct {
	store       UploadStore
	writer      *leads.Writer
	dispatcher  dispatch.Dispatcher
	dlq         dlq.Writer
	concurrency int
	maxRows     int
	logger      *slog.Logger
}

func NewUploader(store UploadStore, writer *leads.Writer, dispatcher dispatch.Dispatcher, dead dlq.Writer, concurrency, maxRows int, logger *slog.Logger) *Uploader {
	if concurrency <= 0 {
		concurrency = 8
	}
	if maxRows <= 0 {
		maxRows = 50000
	}
	if dead == nil {
		dead = dlq.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:       store,
		writer:      writer,
		dispatcher:  dispatcher,
		dlq:         dead,
		concurrency: concurrency,
		maxRows:     maxRows,
		logger:      logger,
	}
}

// Upload stores every row of a partner CSV in the partner's workspace,
// attributed to the partner, and dispatches the eligible leads.
func (u *Uploader) Upload(ctx context.Context, p *models.Partner, file io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	rows, err := importer.Parse(data, "text/csv", "")
	if err != nil {
		return nil, err
	}
	switch {
	case len(rows) == 0:
		return nil, importer.ErrNoRows
	case len(rows) > u.maxRows:
		return nil, fmt.Errorf("%w: %d rows, limit %d", importer.ErrTooManyRows, len(rows), u.maxRows)
	}

	log := u.logger.With(logging.PartnerID(p.ID), logging.WorkspaceID(p.WorkspaceID))
	result := &UploadResult{Total: len(rows), Errors: []RowError{}}
	var eligible []*models.Lead

	for i, row := range rows {
		meta := leads.Meta{
			WorkspaceID: p.WorkspaceID,
			Source:      models.SourcePartner,
			PartnerID:   &p.ID,
			Row:         i + 1,
		}
		if row.Err != nil {
			u.rowFailed(result, meta, row.Err)
			rec := dlq.NewRecord(dlq.ReasonPartnerRow, row.Err, nil)
			rec.Source, rec.WorkspaceID, rec.Row = meta.Source, meta.WorkspaceID, meta.Row
			_ = u.dlq.Write(ctx, rec)
			continue
		}
		out := u.writer.Write(ctx, row.Record, meta)
		if !out.Stored() {
			// the writer has already dead-lettered or kept the record
			u.rowFailed(result, meta, out.Err)
			continue
		}
		result.Stored++
		if out.Created {
			result.Created++
		}
		metrics.PartnerRows.WithLabelValues("stored").Inc()
		if out.Lead.Eligible {
			eligible = append(eligible, out.Lead)
		}
	}

	if result.Created > 0 {
		if err := u.store.IncrementPartnerUploads(ctx, p.WorkspaceID, p.ID, result.Created); err != nil {
			log.ErrorContext(ctx, "failed to update partner upload count", logging.Error(err))
		}
	}

	if u.dispatcher != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(u.concurrency)
		for _, lead := range eligible {
			g.Go(func() error {
				_ = u.dispatcher.Dispatch(gctx, dispatch.Request{
					WorkspaceID: lead.WorkspaceID,
					LeadID:      lead.ID,
					Source:      models.SourcePartner,
				})
				return nil
			})
		}
		_ = g.Wait()
	}

	log.InfoContext(ctx, "partner upload processed",
		slog.Int("total", result.Total),
		slog.Int("stored", result.Stored),
		slog.Int("created", result.Created),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (u *Uploader) rowFailed(result *UploadResult, meta leads.Meta, err error) {
	result.Failed++
	result.Errors = append(result.Errors, RowError{Row: meta.Row, Error: err.Error()})
	metrics.PartnerRows.WithLabelValues("failed").Inc()
}
