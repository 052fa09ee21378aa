package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

// runRepositoryContract exercises behavior both implementations must share.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("idempotency record is unique per event and source", func(t *testing.T) {
		rec := &models.IdempotencyRecord{
			EventID:     "evt-1",
			Source:      models.SourcePixel,
			FirstSeenAt: time.Now().UTC(),
			Summary:     json.RawMessage(`{"stored":1}`),
		}
		require.NoError(t, repo.InsertIdempotencyRecord(ctx, rec))
		assert.ErrorIs(t, repo.InsertIdempotencyRecord(ctx, rec), ErrDuplicateEvent)

		other := *rec
		other.Source = models.SourceMailer
		require.NoError(t, repo.InsertIdempotencyRecord(ctx, &other))

		got, err := repo.GetIdempotencyRecord(ctx, "evt-1", models.SourcePixel)
		require.NoError(t, err)
		assert.JSONEq(t, `{"stored":1}`, string(got.Summary))

		_, err = repo.GetIdempotencyRecord(ctx, "missing", models.SourcePixel)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("tenant mappings", func(t *testing.T) {
		require.NoError(t, repo.UpsertTenantMapping(ctx, &models.TenantMapping{Kind: models.MappingPixel, ExternalID: "px-1", WorkspaceID: "ws-a"}))
		require.NoError(t, repo.UpsertTenantMapping(ctx, &models.TenantMapping{Kind: models.MappingPixel, ExternalID: "px-1", WorkspaceID: "ws-a"}))
		ws, err := repo.WorkspacesForExternalID(ctx, models.MappingPixel, "px-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"ws-a"}, ws)

		require.NoError(t, repo.UpsertTenantMapping(ctx, &models.TenantMapping{Kind: models.MappingPixel, ExternalID: "px-1", WorkspaceID: "ws-b"}))
		ws, err = repo.WorkspacesForExternalID(ctx, models.MappingPixel, "px-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"ws-a", "ws-b"}, ws)

		ws, err = repo.WorkspacesForExternalID(ctx, models.MappingAudience, "px-1")
		require.NoError(t, err)
		assert.Empty(t, ws)
	})

	t.Run("leads dedup by email within a workspace", func(t *testing.T) {
		first := &models.Lead{WorkspaceID: "ws-a", Email: "Dup@X.com", FirstName: "Ann", City: "Fresno", Source: models.SourcePixel}
		created, err := repo.UpsertLead(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "dup@x.com", first.Email)

		second := &models.Lead{WorkspaceID: "ws-a", Email: "dup@x.com", FirstName: "Anna", State: "CA", Source: models.SourceMailer}
		created, err = repo.UpsertLead(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		got, err := repo.GetLead(ctx, "ws-a", first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Anna", got.FirstName)
		assert.Equal(t, "Fresno", got.City)
		assert.Equal(t, "CA", got.State)
		assert.Equal(t, models.SourceMailer, got.Source)

		elsewhere := &models.Lead{WorkspaceID: "ws-b", Email: "dup@x.com", Source: models.SourcePixel}
		created, err = repo.UpsertLead(ctx, elsewhere)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, elsewhere.ID)

		_, err = repo.GetLead(ctx, "ws-b", first.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("partner attribution is kept by the first writer", func(t *testing.T) {
		pa := &models.Partner{WorkspaceID: "ws-attr", Name: "A", APIKeyHash: "x", CommissionRate: 0.1, IsActive: true}
		pb := &models.Partner{WorkspaceID: "ws-attr", Name: "B", APIKeyHash: "x", CommissionRate: 0.1, IsActive: true}
		require.NoError(t, repo.CreatePartner(ctx, pa))
		require.NoError(t, repo.CreatePartner(ctx, pb))

		lead := &models.Lead{WorkspaceID: "ws-attr", Email: "ann@acme.io", Source: models.SourcePartner, PartnerID: &pa.ID}
		_, err := repo.UpsertLead(ctx, lead)
		require.NoError(t, err)

		again := &models.Lead{WorkspaceID: "ws-attr", Email: "ann@acme.io", FirstName: "Ann", Source: models.SourcePartner, PartnerID: &pb.ID}
		created, err := repo.UpsertLead(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, again.PartnerID)
		assert.Equal(t, pa.ID, *again.PartnerID)
		assert.Equal(t, "Ann", again.FirstName)

		organic := &models.Lead{WorkspaceID: "ws-attr", Email: "org@acme.io", Source: models.SourcePixel}
		_, err = repo.UpsertLead(ctx, organic)
		require.NoError(t, err)
		claimed := &models.Lead{WorkspaceID: "ws-attr", Email: "org@acme.io", Source: models.SourcePartner, PartnerID: &pb.ID}
		_, err = repo.UpsertLead(ctx, claimed)
		require.NoError(t, err)
		require.NotNil(t, claimed.PartnerID)
		assert.Equal(t, pb.ID, *claimed.PartnerID)
	})

	t.Run("leads without identity are stored ineligible", func(t *testing.T) {
		lead := &models.Lead{WorkspaceID: "ws-a", FirstName: "Nobody", Source: models.SourcePixel}
		created, err := repo.UpsertLead(ctx, lead)
		require.NoError(t, err)
		assert.True(t, created)
		assert.False(t, lead.Eligible)
	})

	t.Run("assignments respect caps and are idempotent", func(t *testing.T) {
		two := 2
		rule := &models.TargetingRule{
			WorkspaceID:   "ws-cap",
			RecipientID:   "recipient-1",
			RecipientKind: models.RecipientUser,
			Industries:    []string{"solar"},
			DailyCap:      &two,
			IsActive:      true,
		}
		require.NoError(t, repo.UpsertRule(ctx, rule))
		require.NotEmpty(t, rule.ID)

		now := time.Now().UTC()
		var ids []string
		for i := 0; i < 3; i++ {
			lead := &models.Lead{WorkspaceID: "ws-cap", Email: string(rune('a'+i)) + "@cap.com", Source: models.SourcePixel}
			_, err := repo.UpsertLead(ctx, lead)
			require.NoError(t, err)
			ids = append(ids, lead.ID)
		}

		outcome, err := repo.AssignWithinCap(ctx, rule, ids[0], now)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAssigned, outcome)

		outcome, err = repo.AssignWithinCap(ctx, rule, ids[0], now)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAlreadyAssigned, outcome)

		outcome, err = repo.AssignWithinCap(ctx, rule, ids[1], now)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAssigned, outcome)

		outcome, err = repo.AssignWithinCap(ctx, rule, ids[2], now)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCapped, outcome)

		// The daily window rolls forward.
		outcome, err = repo.AssignWithinCap(ctx, rule, ids[2], now.Add(25*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAssigned, outcome)

		assignments, err := repo.ListAssignments(ctx, "ws-cap", ids[0])
		require.NoError(t, err)
		assert.Len(t, assignments, 1)

		n, err := repo.CountAssignmentsSince(ctx, "ws-cap", "recipient-1", now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("assignments are keyed by recipient kind", func(t *testing.T) {
		one := 1
		user := &models.TargetingRule{WorkspaceID: "ws-kind", RecipientID: "shared-id", RecipientKind: models.RecipientUser, DailyCap: &one, IsActive: true}
		profile := &models.TargetingRule{WorkspaceID: "ws-kind", RecipientID: "shared-id", RecipientKind: models.RecipientClientProfile, DailyCap: &one, IsActive: true}
		require.NoError(t, repo.UpsertRule(ctx, user))
		require.NoError(t, repo.UpsertRule(ctx, profile))

		lead := &models.Lead{WorkspaceID: "ws-kind", Email: "kind@x.com", Source: models.SourcePixel}
		_, err := repo.UpsertLead(ctx, lead)
		require.NoError(t, err)

		now := time.Now().UTC()
		outcome, err := repo.AssignWithinCap(ctx, user, lead.ID, now)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAssigned, outcome)

		outcome, err = repo.AssignWithinCap(ctx, profile, lead.ID, now)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAssigned, outcome, "a cap of one per recipient is not shared across kinds")

		assignments, err := repo.ListAssignments(ctx, "ws-kind", lead.ID)
		require.NoError(t, err)
		assert.Len(t, assignments, 2)
	})

	t.Run("inactive rules are not listed", func(t *testing.T) {
		require.NoError(t, repo.UpsertRule(ctx, &models.TargetingRule{
			WorkspaceID: "ws-rules", RecipientID: "r-active", RecipientKind: models.RecipientClientProfile, IsActive: true,
		}))
		require.NoError(t, repo.UpsertRule(ctx, &models.TargetingRule{
			WorkspaceID: "ws-rules", RecipientID: "r-inactive", RecipientKind: models.RecipientUser, IsActive: false,
		}))

		rules, err := repo.ListActiveRules(ctx, "ws-rules")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "r-active", rules[0].RecipientID)

		got, err := repo.GetRule(ctx, "ws-rules", models.RecipientUser, "r-inactive")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("one processing import job per hash", func(t *testing.T) {
		job := &models.ImportJob{WorkspaceID: "ws-a", IdempotencyHash: "hash-1", FileURL: "https://x/f.csv", Status: models.ImportProcessing}
		require.NoError(t, repo.CreateImportJob(ctx, job))

		dup := &models.ImportJob{WorkspaceID: "ws-a", IdempotencyHash: "hash-1", FileURL: "https://x/f.csv", Status: models.ImportProcessing}
		assert.ErrorIs(t, repo.CreateImportJob(ctx, dup), ErrImportInProgress)

		require.NoError(t, repo.UpdateImportProgress(ctx, "ws-a", job.ID, 100, 3))
		assert.ErrorIs(t, repo.UpdateImportProgress(ctx, "ws-other", job.ID, 1, 0), ErrNotFound)
		job.Status = models.ImportCompleted
		job.TotalRows, job.ProcessedRows, job.FailedRows = 120, 120, 3
		require.NoError(t, repo.FinishImportJob(ctx, job))

		got, err := repo.GetImportJobByHash(ctx, "ws-a", "hash-1")
		require.NoError(t, err)
		assert.Equal(t, models.ImportCompleted, got.Status)
		assert.Equal(t, 117, got.Stored())
		assert.NotNil(t, got.CompletedAt)

		_, err = repo.GetImportJob(ctx, "ws-other", job.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetImportJobByHash(ctx, "ws-other", "hash-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale processing import job can be abandoned once", func(t *testing.T) {
		job := &models.ImportJob{WorkspaceID: "ws-a", IdempotencyHash: "hash-stale", FileURL: "https://x/s.csv", Status: models.ImportProcessing}
		require.NoError(t, repo.CreateImportJob(ctx, job))

		won, err := repo.AbandonImportJob(ctx, "ws-a", job.ID, job.UpdatedAt.Add(-time.Minute), "stale")
		require.NoError(t, err)
		assert.False(t, won, "job made progress after the cutoff")

		won, err = repo.AbandonImportJob(ctx, "ws-other", job.ID, time.Now().Add(time.Hour), "stale")
		require.NoError(t, err)
		assert.False(t, won)

		won, err = repo.AbandonImportJob(ctx, "ws-a", job.ID, time.Now().Add(time.Hour), "stale")
		require.NoError(t, err)
		assert.True(t, won)

		got, err := repo.GetImportJob(ctx, "ws-a", job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ImportFailed, got.Status)
		assert.Equal(t, "stale", got.Error)

		next := &models.ImportJob{WorkspaceID: "ws-a", IdempotencyHash: "hash-stale", FileURL: "https://x/s.csv", Status: models.ImportProcessing}
		require.NoError(t, repo.CreateImportJob(ctx, next))
	})

	t.Run("partner uploads, deliveries and commissions", func(t *testing.T) {
		partner := &models.Partner{WorkspaceID: "ws-p", Name: "Acme Leads", APIKeyHash: "x", CommissionRate: 0.1, IsActive: true}
		require.NoError(t, repo.CreatePartner(ctx, partner))
		require.NoError(t, repo.IncrementPartnerUploads(ctx, "ws-p", partner.ID, 2))
		assert.ErrorIs(t, repo.IncrementPartnerUploads(ctx, "ws-other", partner.ID, 1), ErrNotFound)

		lead := &models.Lead{WorkspaceID: "ws-p", Email: "p@x.com", Source: models.SourcePartner, PartnerID: &partner.ID}
		_, err := repo.UpsertLead(ctx, lead)
		require.NoError(t, err)

		first, err := repo.MarkLeadDelivered(ctx, "ws-p", lead.ID)
		require.NoError(t, err)
		assert.True(t, first)
		first, err = repo.MarkLeadDelivered(ctx, "ws-p", lead.ID)
		require.NoError(t, err)
		assert.False(t, first)

		got, err := repo.GetPartner(ctx, partner.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.LeadsUploaded)
		assert.Equal(t, 1, got.LeadsDelivered)

		rec := &models.CommissionRecord{
			LeadID: lead.ID, PartnerID: partner.ID, WorkspaceID: "ws-p", BillingEventID: "bill-1",
			SaleAmount: 10000, CommissionRate: 0.1, CommissionAmount: 1000, ComputedAt: time.Now().UTC(),
		}
		require.NoError(t, repo.InsertCommission(ctx, rec))
		again := *rec
		again.ID = ""
		assert.ErrorIs(t, repo.InsertCommission(ctx, &again), ErrDuplicateBillingEvent)

		correction := &models.CommissionRecord{
			LeadID: lead.ID, PartnerID: partner.ID, WorkspaceID: "ws-p", SaleAmount: -2000,
			CommissionRate: 0.1, CommissionAmount: -200, CorrectsID: &rec.ID, Reason: "refund",
			ComputedAt: rec.ComputedAt.Add(time.Second),
		}
		require.NoError(t, repo.InsertCommission(ctx, correction))

		byBilling, err := repo.GetCommissionByBillingEvent(ctx, "ws-p", "bill-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, byBilling.ID)

		fix, err := repo.AppendCorrection(ctx, "ws-p", rec.ID,
			func(original *models.CommissionRecord, corrections []*models.CommissionRecord) (*models.CommissionRecord, error) {
				assert.Equal(t, rec.ID, original.ID)
				require.Len(t, corrections, 1)
				assert.Equal(t, int64(-2000), corrections[0].SaleAmount)
				return &models.CommissionRecord{
					LeadID: lead.ID, PartnerID: partner.ID, WorkspaceID: "ws-p", SaleAmount: 1000,
					CommissionRate: 0.1, CommissionAmount: 100, CorrectsID: &original.ID, Reason: "rebill",
					ComputedAt: rec.ComputedAt.Add(2 * time.Second),
				}, nil
			})
		require.NoError(t, err)
		assert.NotEmpty(t, fix.ID)

		_, err = repo.AppendCorrection(ctx, "ws-other", rec.ID,
			func(*models.CommissionRecord, []*models.CommissionRecord) (*models.CommissionRecord, error) {
				t.Fatal("build must not run for a commission outside the workspace")
				return nil, nil
			})
		assert.ErrorIs(t, err, ErrNotFound)

		ledger, err := repo.ListCommissions(ctx, "ws-p", partner.ID)
		require.NoError(t, err)
		require.Len(t, ledger, 3)
		assert.Equal(t, rec.ID, ledger[0].ID)
		assert.Equal(t, int64(-200), ledger[1].CommissionAmount)
		require.NotNil(t, ledger[1].CorrectsID)
		assert.Equal(t, rec.ID, *ledger[1].CorrectsID)
		assert.Equal(t, fix.ID, ledger[2].ID)

		elsewhere := &models.Partner{WorkspaceID: "ws-q", Name: "Other", APIKeyHash: "x", CommissionRate: 0.2, IsActive: true}
		require.NoError(t, repo.CreatePartner(ctx, elsewhere))
		otherLead := &models.Lead{WorkspaceID: "ws-q", Email: "q@x.com", Source: models.SourcePartner, PartnerID: &elsewhere.ID}
		_, err = repo.UpsertLead(ctx, otherLead)
		require.NoError(t, err)
		sameBilling := &models.CommissionRecord{
			LeadID: otherLead.ID, PartnerID: elsewhere.ID, WorkspaceID: "ws-q", BillingEventID: "bill-1",
			SaleAmount: 500, CommissionRate: 0.2, CommissionAmount: 100, ComputedAt: time.Now().UTC(),
		}
		require.NoError(t, repo.InsertCommission(ctx, sameBilling), "billing ids are unique per workspace")
		scoped, err := repo.GetCommissionByBillingEvent(ctx, "ws-q", "bill-1")
		require.NoError(t, err)
		assert.Equal(t, sameBilling.ID, scoped.ID)
	})
}
