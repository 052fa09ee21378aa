package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
)

var (
	ErrNotAttributed     = errors.New("lead is not attributed to a partner")
	ErrCorrectCorrection = errors.New("corrections apply to original records only")
	ErrNoChange          = errors.New("correction does not change the sale amount")
	ErrInvalidAmount     = errors.New("sale amount must be a non-negative number")
)

type LedgerStore interface {
	GetLead(ctx context.Context, workspaceID, leadID string) (*models.Lead, error)
	GetPartner(ctx context.Context, id string) (*models.Partner, error)
	InsertCommission(ctx context.Context, rec *models.CommissionRecord) error
	GetCommissionByBillingEvent(ctx context.Context, workspaceID, billingEventID string) (*models.CommissionRecord, error)
	ListCommissions(ctx context.Context, workspaceID, partnerID string) ([]*models.CommissionRecord, error)
	AppendCorrection(ctx context.Context, workspaceID, commissionID string, build repository.CorrectionFunc) (*models.CommissionRecord, error)
}

// CommissionRequest is the body of POST /api/v1/partners/commissions.
// SaleAmount is in currency units.
type CommissionRequest struct {
	LeadID         string  `json:"leadId"`
	BillingEventID string  `json:"billingEventId"`
	SaleAmount     float64 `json:"saleAmount"`
}

type CorrectionRequest struct {
	SaleAmount float64 `json:"saleAmount"`
	Reason     string  `json:"reason"`
}

// Statement is a partner's ledger with its running balance in cents.
type Statement struct {
	PartnerID    string                     `json:"partner_id"`
	Records      []*models.CommissionRecord `json:"records"`
	SalesCents   int64                      `json:"sales_cents"`
	BalanceCents int64                      `json:"balance_cents"`
}

// ToCents converts a currency amount to cents, rounding half away from zero.
func ToCents(amount float64) (int64, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	return int64(math.Round(amount * 100)), nil
}

// Commission is rate × sale rounded to the cent.
func Commission(rate float64, saleCents int64) int64 {
	return int64(math.Round(rate * float64(saleCents)))
}

type Ledger struct {
	store  LedgerStore
	now    func() time.Time
	logger *slog.Logger
}

func NewLedger(store LedgerStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, now: time.Now, logger: logger}
}

// Record writes the commission for one billing event. Posting the same
// billing event again returns the existing record with created=false.
func (l *Ledger) Record(ctx context.Context, workspaceID string, req CommissionRequest) (rec *models.CommissionRecord, created bool, err error) {
	saleCents, err := ToCents(req.SaleAmount)
	if err != nil {
		return nil, false, err
	}
	billingID := strings.TrimSpace(req.BillingEventID)

	existing, err := l.store.GetCommissionByBillingEvent(ctx, workspaceID, billingID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup billing event: %w", err)
	}

	lead, err := l.store.GetLead(ctx, workspaceID, req.LeadID)
	if err != nil {
		return nil, false, err
	}
	if lead.PartnerID == nil {
		return nil, false, ErrNotAttributed
	}
	p, err := l.store.GetPartner(ctx, *lead.PartnerID)
	if err != nil {
		return nil, false, err
	}
	if p.WorkspaceID != workspaceID {
		return nil, false, repository.ErrNotFound
	}

	rec = &models.CommissionRecord{
		LeadID:           lead.ID,
		PartnerID:        p.ID,
		WorkspaceID:      workspaceID,
		BillingEventID:   billingID,
		SaleAmount:       saleCents,
		CommissionRate:   p.CommissionRate,
		CommissionAmount: Commission(p.CommissionRate, saleCents),
		ComputedAt:       l.now().UTC(),
	}
	if err := l.store.InsertCommission(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateBillingEvent) {
			winner, gerr := l.store.GetCommissionByBillingEvent(ctx, workspaceID, billingID)
			if gerr != nil {
				return nil, false, fmt.Errorf("load concurrent commission: %w", gerr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("insert commission: %w", err)
	}

	metrics.Commissions.WithLabelValues("commission").Inc()
	l.logger.InfoContext(ctx, "commission recorded",
		logging.WorkspaceID(workspaceID),
		logging.PartnerID(p.ID),
		logging.LeadID(lead.ID),
		slog.Int64("commission_cents", rec.CommissionAmount))
	return rec, true, nil
}

// Correct appends a compensating record so that the original plus all of
// its corrections add up to the corrected sale. The original is never
// edited, and corrections of the same original are applied one at a time.
func (l *Ledger) Correct(ctx context.Context, workspaceID, commissionID string, req CorrectionRequest) (*models.CommissionRecord, error) {
	correctedCents, err := ToCents(req.SaleAmount)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)

	rec, err := l.store.AppendCorrection(ctx, workspaceID, commissionID,
		func(original *models.CommissionRecord, corrections []*models.CommissionRecord) (*models.CommissionRecord, error) {
			if original.CorrectsID != nil {
				return nil, ErrCorrectCorrection
			}
			sale, commission := original.SaleAmount, original.CommissionAmount
			for _, c := range corrections {
				sale += c.SaleAmount
				commission += c.CommissionAmount
			}
			saleDelta := correctedCents - sale
			if saleDelta == 0 {
				return nil, ErrNoChange
			}
			id := original.ID
			return &models.CommissionRecord{
				LeadID:           original.LeadID,
				PartnerID:        original.PartnerID,
				WorkspaceID:      workspaceID,
				SaleAmount:       saleDelta,
				CommissionRate:   original.CommissionRate,
				CommissionAmount: Commission(original.CommissionRate, correctedCents) - commission,
				CorrectsID:       &id,
				Reason:           reason,
				ComputedAt:       l.now().UTC(),
			}, nil
		})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrCorrectCorrection), errors.Is(err, ErrNoChange):
			return nil, err
		}
		return nil, fmt.Errorf("append correction: %w", err)
	}

	metrics.Commissions.WithLabelValues("correction").Inc()
	l.logger.InfoContext(ctx, "commission corrected",
		logging.WorkspaceID(workspaceID),
		logging.PartnerID(rec.PartnerID),
		slog.String("corrects", commissionID),
		slog.Int64("delta_cents", rec.CommissionAmount))
	return rec, nil
}

// Statement lists the partner's ledger in workspaceID.
func (l *Ledger) Statement(ctx context.Context, workspaceID, partnerID string) (*Statement, error) {
	p, err := l.store.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if p.WorkspaceID != workspaceID {
		return nil, repository.ErrNotFound
	}

	records, err := l.store.ListCommissions(ctx, workspaceID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	st := &Statement{PartnerID: partnerID, Records: records}
	if st.Records == nil {
		st.Records = []*models.CommissionRecord{}
	}
	for _, r := range records {
		st.SalesCents += r.SaleAmount
		st.BalanceCents += r.CommissionAmount
	}
	return st, nil
}
