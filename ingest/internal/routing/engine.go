// Package routing assigns leads to the client profiles and users of their
// workspace whose targeting rules they satisfy.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/events"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

var ErrIneligible = errors.New("lead is not eligible for routing")

// Store is the slice of the repository the engine needs.
type Store interface {
	GetLead(ctx context.Context, workspaceID, leadID string) (*models.Lead, error)
	ListActiveRules(ctx context.Context, workspaceID string) ([]*models.TargetingRule, error)
	AssignWithinCap(ctx context.Context, rule *models.TargetingRule, leadID string, now time.Time) (models.AssignOutcome, error)
	MarkLeadDelivered(ctx context.Context, workspaceID, leadID string) (bool, error)
}

// Decision is the outcome for one matching recipient.
type Decision struct {
	RecipientID   string               `json:"recipient_id"`
	RecipientKind models.RecipientKind `json:"recipient_kind"`
	Outcome       models.AssignOutcome `json:"outcome"`
}

type Result struct {
	LeadID string `json:"lead_id"`
	// Matched is true when the lead is assigned to at least one recipient,
	// whether by this call or an earlier one.
	Matched    bool       `json:"matched"`
	AssignedTo []string   `json:"assigned_to"`
	Decisions  []Decision `json:"decisions,omitempty"`
	// NewAssignments counts rows inserted by this call.
	NewAssignments int      `json:"new_assignments"`
	Errors         []string `json:"errors,omitempty"`
}

// evaluation order of the recipient subsystems
var kinds = []models.RecipientKind{models.RecipientClientProfile, models.RecipientUser}

type Engine struct {
	store   Store
	emitter events.Emitter
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(store Store, emitter events.Emitter, logger *slog.Logger) *Engine {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		emitter: emitter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RouteByID loads the lead and routes it.
func (e *Engine) RouteByID(ctx context.Context, workspaceID, leadID string) (*Result, error) {
	lead, err := e.store.GetLead(ctx, workspaceID, leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	return e.Route(ctx, lead)
}

// Route evaluates every active rule of the lead's workspace. Client
// profiles are evaluated before users, each ordered by recipient id; a
// failure in one subsystem is recorded on the result and does not stop the
// other. Repeated calls are idempotent.
func (e *Engine) Route(ctx context.Context, lead *models.Lead) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.RoutingDuration.Observe(time.Since(start).Seconds())
	}()

	res := &Result{LeadID: lead.ID, AssignedTo: []string{}}
	if !lead.Eligible || lead.ArchivedAt != nil {
		return res, ErrIneligible
	}

	rules, err := e.store.ListActiveRules(ctx, lead.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	byKind := make(map[models.RecipientKind][]*models.TargetingRule, len(kinds))
	for _, rule := range rules {
		// never trust a rule from another workspace
		if rule.WorkspaceID != lead.WorkspaceID || !rule.IsActive {
			continue
		}
		byKind[rule.RecipientKind] = append(byKind[rule.RecipientKind], rule)
	}

	var recipients []events.Recipient
	for _, kind := range kinds {
		group := byKind[kind]
		sort.Slice(group, func(i, j int) bool { return group[i].RecipientID < group[j].RecipientID })

		decisions, err := e.evaluate(ctx, kind, lead, group)
		res.Decisions = append(res.Decisions, decisions...)
		if err != nil {
			metrics.RoutingFailures.WithLabelValues(string(kind)).Inc()
			e.logger.ErrorContext(ctx, "routing subsystem failed",
				slog.String("recipient_kind", string(kind)),
				logging.WorkspaceID(lead.WorkspaceID),
				logging.LeadID(lead.ID),
				logging.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", kind, err))
		}
	}

	for _, d := range res.Decisions {
		switch d.Outcome {
		case models.OutcomeAssigned:
			res.NewAssignments++
			recipients = append(recipients, events.Recipient{ID: d.RecipientID, Kind: d.RecipientKind})
			fallthrough
		case models.OutcomeAlreadyAssigned:
			res.AssignedTo = append(res.AssignedTo, d.RecipientID)
		}
	}
	res.Matched = len(res.AssignedTo) > 0

	if res.NewAssignments > 0 {
		if _, err := e.store.MarkLeadDelivered(ctx, lead.WorkspaceID, lead.ID); err != nil {
			e.logger.WarnContext(ctx, "failed to mark lead delivered",
				logging.LeadID(lead.ID), logging.Error(err))
		} else {
			lead.DeliveryStatus = models.DeliveryDelivered
		}

		ev := events.New(events.LeadRouted, lead)
		ev.Recipients = recipients
		// emit failures are logged by the emitter; the assignments stand
		_ = e.emitter.Emit(ctx, ev)
	}

	return res, nil
}

// evaluate assigns lead within one recipient subsystem. A panic is turned
// into an error so the caller can continue with the next subsystem.
func (e *Engine) evaluate(ctx context.Context, kind models.RecipientKind, lead *models.Lead, rules []*models.TargetingRule) (decisions []Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.ErrorContext(ctx, "panic in routing subsystem",
				slog.String("recipient_kind", string(kind)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	now := e.now()
	var errs []error
	for _, rule := range rules {
		if !Matches(rule, lead) {
			continue
		}
		outcome, aerr := e.store.AssignWithinCap(ctx, rule, lead.ID, now)
		if aerr != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", rule.RecipientID, aerr))
			continue
		}
		metrics.RoutingOutcomes.WithLabelValues(string(kind), string(outcome)).Inc()
		decisions = append(decisions, Decision{
			RecipientID:   rule.RecipientID,
			RecipientKind: kind,
			Outcome:       outcome,
		})
	}
	return decisions, errors.Join(errs...)
}
