package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

type idemKey struct {
	eventID string
	source  models.Source
}

type leadKey struct {
	workspaceID string
	email       string
}

type assignKey struct {
	leadID        string
	recipientKind models.RecipientKind
	recipientID   string
}

// InMemoryRepository keeps all state in process memory. A single mutex makes
// every method atomic, which gives AssignWithinCap the same guarantees as the
// advisory lock in Postgres.
type InMemoryRepository struct {
	mu sync.RWMutex

	idempotency map[idemKey]*models.IdempotencyRecord
	rawEvents   []*models.RawEvent
	mappings    map[models.MappingKind]map[string]map[string]struct{}
	leads       map[string]*models.Lead
	leadsByKey  map[leadKey]string
	rules       map[string]*models.TargetingRule
	assignments map[assignKey]*models.RoutingAssignment
	jobs        map[string]*models.ImportJob
	partners    map[string]*models.Partner
	commissions map[string]*models.CommissionRecord
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		idempotency: make(map[idemKey]*models.IdempotencyRecord),
		mappings:    make(map[models.MappingKind]map[string]map[string]struct{}),
		leads:       make(map[string]*models.Lead),
		leadsByKey:  make(map[leadKey]string),
		rules:       make(map[string]*models.TargetingRule),
		assignments: make(map[assignKey]*models.RoutingAssignment),
		jobs:        make(map[string]*models.ImportJob),
		partners:    make(map[string]*models.Partner),
		commissions: make(map[string]*models.CommissionRecord),
	}
}

func (r *InMemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func (r *InMemoryRepository) GetIdempotencyRecord(ctx context.Context, eventID string, source models.Source) (*models.IdempotencyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.idempotency[idemKey{eventID, source}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *InMemoryRepository) InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := idemKey{rec.EventID, rec.Source}
	if _, exists := r.idempotency[key]; exists {
		return ErrDuplicateEvent
	}
	cp := *rec
	r.idempotency[key] = &cp
	return nil
}

// =============================================================================
// RAW EVENTS & TENANT MAPPINGS
// =============================================================================

func (r *InMemoryRepository) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	cp := *ev
	r.rawEvents = append(r.rawEvents, &cp)
	return nil
}

// RawEvents returns a snapshot of stored raw events.
func (r *InMemoryRepository) RawEvents() []*models.RawEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.RawEvent, len(r.rawEvents))
	copy(out, r.rawEvents)
	return out
}

func (r *InMemoryRepository) WorkspacesForExternalID(ctx context.Context, kind models.MappingKind, externalID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for ws := range r.mappings[kind][externalID] {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out, nil
}

func (r *InMemoryRepository) UpsertTenantMapping(ctx context.Context, m *models.TenantMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.mappings[m.Kind]
	if !ok {
		byID = make(map[string]map[string]struct{})
		r.mappings[m.Kind] = byID
	}
	if byID[m.ExternalID] == nil {
		byID[m.ExternalID] = make(map[string]struct{})
	}
	byID[m.ExternalID][m.WorkspaceID] = struct{}{}
	return nil
}

// =============================================================================
// LEADS
// =============================================================================

func (r *InMemoryRepository) UpsertLead(ctx context.Context, lead *models.Lead) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = time.Now().UTC()
	}
	if key := lead.IdentityKey(); key != "" {
		if id, ok := r.leadsByKey[leadKey{lead.WorkspaceID, key}]; ok {
			existing := r.leads[id]
			existing.MergeFrom(lead)
			*lead = *cloneLead(existing)
			return false, nil
		}
	}

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	stampLead(lead)
	stored := cloneLead(lead)
	r.leads[lead.ID] = stored
	if key := lead.IdentityKey(); key != "" {
		r.leadsByKey[leadKey{lead.WorkspaceID, key}] = lead.ID
	}
	return true, nil
}

func (r *InMemoryRepository) GetLead(ctx context.Context, workspaceID, leadID string) (*models.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[leadID]
	if !ok || lead.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return cloneLead(lead), nil
}

// CountLeads returns the number of leads stored for workspaceID.
func (r *InMemoryRepository) CountLeads(workspaceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, l := range r.leads {
		if l.WorkspaceID == workspaceID {
			n++
		}
	}
	return n
}

func (r *InMemoryRepository) MarkLeadDelivered(ctx context.Context, workspaceID, leadID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[leadID]
	if !ok || lead.WorkspaceID != workspaceID {
		return false, ErrNotFound
	}
	if lead.DeliveryStatus == models.DeliveryDelivered {
		return false, nil
	}
	lead.DeliveryStatus = models.DeliveryDelivered
	lead.UpdatedAt = time.Now().UTC()
	if lead.PartnerID != nil {
		if p, ok := r.partners[*lead.PartnerID]; ok && p.WorkspaceID == workspaceID {
			p.LeadsDelivered++
		}
	}
	return true, nil
}

func cloneLead(l *models.Lead) *models.Lead {
	cp := *l
	if l.RawExtras != nil {
		cp.RawExtras = make(map[string]any, len(l.RawExtras))
		for k, v := range l.RawExtras {
			cp.RawExtras[k] = v
		}
	}
	return &cp
}

// =============================================================================
// TARGETING & ASSIGNMENTS
// =============================================================================

func ruleKey(workspaceID string, kind models.RecipientKind, recipientID string) string {
	return workspaceID + "|" + string(kind) + "|" + recipientID
}

func (r *InMemoryRepository) ListActiveRules(ctx context.Context, workspaceID string) ([]*models.TargetingRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.TargetingRule
	for _, rule := range r.rules {
		if rule.WorkspaceID == workspaceID && rule.IsActive {
			cp := *rule
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (r *InMemoryRepository) GetRule(ctx context.Context, workspaceID string, kind models.RecipientKind, recipientID string) (*models.TargetingRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleKey(workspaceID, kind, recipientID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (r *InMemoryRepository) UpsertRule(ctx context.Context, rule *models.TargetingRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ruleKey(rule.WorkspaceID, rule.RecipientKind, rule.RecipientID)
	now := time.Now().UTC()
	if existing, ok := r.rules[key]; ok {
		rule.ID = existing.ID
		rule.CreatedAt = existing.CreatedAt
	} else {
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	cp := *rule
	r.rules[key] = &cp
	return nil
}

func (r *InMemoryRepository) AssignWithinCap(ctx context.Context, rule *models.TargetingRule, leadID string, now time.Time) (models.AssignOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignKey{leadID, rule.RecipientKind, rule.RecipientID}
	if _, ok := r.assignments[key]; ok {
		return models.OutcomeAlreadyAssigned, nil
	}
	for _, w := range rule.CapWindows() {
		n := 0
		since := now.Add(-w.Period)
		for _, a := range r.assignments {
			if a.WorkspaceID == rule.WorkspaceID && a.RecipientKind == rule.RecipientKind &&
				a.RecipientID == rule.RecipientID && a.MatchedAt.After(since) {
				n++
			}
		}
		if n >= w.Limit {
			return models.OutcomeCapped, nil
		}
	}

	r.assignments[key] = &models.RoutingAssignment{
		ID:            uuid.NewString(),
		WorkspaceID:   rule.WorkspaceID,
		LeadID:        leadID,
		RecipientID:   rule.RecipientID,
		RecipientKind: rule.RecipientKind,
		MatchedAt:     now,
	}
	return models.OutcomeAssigned, nil
}

func (r *InMemoryRepository) ListAssignments(ctx context.Context, workspaceID, leadID string) ([]*models.RoutingAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.RoutingAssignment
	for _, a := range r.assignments {
		if a.WorkspaceID == workspaceID && a.LeadID == leadID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (r *InMemoryRepository) CountAssignmentsSince(ctx context.Context, workspaceID, recipientID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.assignments {
		if a.WorkspaceID == workspaceID && a.RecipientID == recipientID && a.MatchedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// IMPORT JOBS
// =============================================================================

func (r *InMemoryRepository) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if j.IdempotencyHash == job.IdempotencyHash && j.Status == models.ImportProcessing {
			return ErrImportInProgress
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetImportJob(ctx context.Context, workspaceID, id string) (*models.ImportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok || job.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *InMemoryRepository) GetImportJobByHash(ctx context.Context, workspaceID, hash string) (*models.ImportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.ImportJob
	for _, j := range r.jobs {
		if j.WorkspaceID != workspaceID || j.IdempotencyHash != hash {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *InMemoryRepository) UpdateImportProgress(ctx context.Context, workspaceID, id string, processed, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	job.ProcessedRows, job.FailedRows = processed, failed
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) AbandonImportJob(ctx context.Context, workspaceID, id string, staleBefore time.Time, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.WorkspaceID != workspaceID ||
		job.Status != models.ImportProcessing || !job.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = models.ImportFailed
	job.Error = reason
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (r *InMemoryRepository) FinishImportJob(ctx context.Context, job *models.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok || stored.WorkspaceID != job.WorkspaceID {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.UpdatedAt = now
	job.CompletedAt = &now
	stored.Status = job.Status
	stored.TotalRows = job.TotalRows
	stored.ProcessedRows = job.ProcessedRows
	stored.FailedRows = job.FailedRows
	stored.Error = job.Error
	stored.UpdatedAt = now
	stored.CompletedAt = &now
	return nil
}

// =============================================================================
// PARTNERS & COMMISSIONS
// =============================================================================

func (r *InMemoryRepository) GetPartner(ctx context.Context, id string) (*models.Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.partners[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryRepository) CreatePartner(ctx context.Context, p *models.Partner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	r.partners[p.ID] = &cp
	return nil
}

func (r *InMemoryRepository) IncrementPartnerUploads(ctx context.Context, workspaceID, partnerID string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.partners[partnerID]
	if !ok || p.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	p.LeadsUploaded += n
	return nil
}

func (r *InMemoryRepository) InsertCommission(ctx context.Context, rec *models.CommissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertCommissionLocked(rec)
}

func (r *InMemoryRepository) insertCommissionLocked(rec *models.CommissionRecord) error {
	if rec.BillingEventID != "" {
		for _, c := range r.commissions {
			if c.WorkspaceID == rec.WorkspaceID && c.BillingEventID == rec.BillingEventID {
				return ErrDuplicateBillingEvent
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := *rec
	r.commissions[rec.ID] = &cp
	return nil
}

func (r *InMemoryRepository) AppendCorrection(ctx context.Context, workspaceID, commissionID string, build CorrectionFunc) (*models.CommissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	original, ok := r.commissions[commissionID]
	if !ok || original.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	var corrections []*models.CommissionRecord
	for _, c := range r.commissions {
		if c.WorkspaceID == workspaceID && c.CorrectsID != nil && *c.CorrectsID == commissionID {
			cp := *c
			corrections = append(corrections, &cp)
		}
	}
	sort.Slice(corrections, func(i, j int) bool {
		if corrections[i].ComputedAt.Equal(corrections[j].ComputedAt) {
			return corrections[i].ID < corrections[j].ID
		}
		return corrections[i].ComputedAt.Before(corrections[j].ComputedAt)
	})

	cp := *original
	rec, err := build(&cp, corrections)
	if err != nil {
		return nil, err
	}
	if err := r.insertCommissionLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *InMemoryRepository) GetCommission(ctx context.Context, workspaceID, id string) (*models.CommissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.commissions[id]
	if !ok || c.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryRepository) GetCommissionByBillingEvent(ctx context.Context, workspaceID, billingEventID string) (*models.CommissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.commissions {
		if c.BillingEventID == billingEventID && c.WorkspaceID == workspaceID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListCommissions(ctx context.Context, workspaceID, partnerID string) ([]*models.CommissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.CommissionRecord
	for _, c := range r.commissions {
		if c.WorkspaceID == workspaceID && c.PartnerID == partnerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ComputedAt.Equal(out[j].ComputedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].ComputedAt.Before(out[j].ComputedAt)
	})
	return out, nil
}
