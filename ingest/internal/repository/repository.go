// Package repository persists ingestion state. Every lead, rule, assignment,
// job and ledger read or write is scoped by workspace.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateEvent        = errors.New("event already recorded")
	ErrImportInProgress      = errors.New("import already processing")
	ErrDuplicateBillingEvent = errors.New("billing event already recorded")
)

type Repository interface {
	Ping(ctx context.Context) error

	// Idempotency ledger
	GetIdempotencyRecord(ctx context.Context, eventID string, source models.Source) (*models.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error

	// Raw events
	InsertRawEvent(ctx context.Context, ev *models.RawEvent) error

	// Tenant mappings
	WorkspacesForExternalID(ctx context.Context, kind models.MappingKind, externalID string) ([]string, error)
	UpsertTenantMapping(ctx context.Context, m *models.TenantMapping) error

	// Leads. UpsertLead dedups by lower(email) within the workspace; on a hit
	// it merges lead into the stored row, copies the stored row back into
	// lead and reports created=false.
	UpsertLead(ctx context.Context, lead *models.Lead) (created bool, err error)
	GetLead(ctx context.Context, workspaceID, leadID string) (*models.Lead, error)
	MarkLeadDelivered(ctx context.Context, workspaceID, leadID string) (first bool, err error)

	// Targeting
	ListActiveRules(ctx context.Context, workspaceID string) ([]*models.TargetingRule, error)
	GetRule(ctx context.Context, workspaceID string, kind models.RecipientKind, recipientID string) (*models.TargetingRule, error)
	UpsertRule(ctx context.Context, rule *models.TargetingRule) error

	// AssignWithinCap atomically checks the (lead, recipient) pair and every
	// configured cap window of rule, then inserts the assignment.
	AssignWithinCap(ctx context.Context, rule *models.TargetingRule, leadID string, now time.Time) (models.AssignOutcome, error)
	ListAssignments(ctx context.Context, workspaceID, leadID string) ([]*models.RoutingAssignment, error)
	CountAssignmentsSince(ctx context.Context, workspaceID, recipientID string, since time.Time) (int, error)

	// Import jobs
	CreateImportJob(ctx context.Context, job *models.ImportJob) error
	GetImportJob(ctx context.Context, workspaceID, id string) (*models.ImportJob, error)
	// GetImportJobByHash returns the most recent job for hash in workspaceID.
	GetImportJobByHash(ctx context.Context, workspaceID, hash string) (*models.ImportJob, error)
	UpdateImportProgress(ctx context.Context, workspaceID, id string, processed, failed int) error
	FinishImportJob(ctx context.Context, job *models.ImportJob) error
	// AbandonImportJob fails a processing job whose last progress is older
	// than staleBefore. It reports false when the job is finished or still
	// live, so only one caller can take over an abandoned job.
	AbandonImportJob(ctx context.Context, workspaceID, id string, staleBefore time.Time, reason string) (bool, error)

	// Partners
	GetPartner(ctx context.Context, id string) (*models.Partner, error)
	CreatePartner(ctx context.Context, p *models.Partner) error
	IncrementPartnerUploads(ctx context.Context, workspaceID, partnerID string, n int) error
	InsertCommission(ctx context.Context, rec *models.CommissionRecord) error
	GetCommission(ctx context.Context, workspaceID, id string) (*models.CommissionRecord, error)
	GetCommissionByBillingEvent(ctx context.Context, workspaceID, billingEventID string) (*models.CommissionRecord, error)
	ListCommissions(ctx context.Context, workspaceID, partnerID string) ([]*models.CommissionRecord, error)
	// AppendCorrection locks the original commission, hands it and its
	// existing corrections to build and inserts the record build returns.
	// Corrections of one original are serialized; an error from build is
	// returned unchanged and nothing is written.
	AppendCorrection(ctx context.Context, workspaceID, commissionID string, build CorrectionFunc) (*models.CommissionRecord, error)
}

// CorrectionFunc derives a compensating record from the original commission
// and the corrections already recorded against it.
type CorrectionFunc func(original *models.CommissionRecord, corrections []*models.CommissionRecord) (*models.CommissionRecord, error)

// stampLead fills the derived columns of a lead about to be written.
func stampLead(lead *models.Lead) {
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = now
	}
	if lead.EnrichmentStatus == "" {
		lead.EnrichmentStatus = models.EnrichmentPending
	}
	if lead.DeliveryStatus == "" {
		lead.DeliveryStatus = models.DeliveryPending
	}
	lead.Email = lead.IdentityKey()
	lead.Eligible = lead.HasIdentity()
}
