package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adamwolfe2/leadme-sub019/common/database"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a pool of at most maxConns connections; zero
// keeps the default of 25.
func NewPostgresRepository(ctx context.Context, connString string, maxConns int32) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func (r *PostgresRepository) GetIdempotencyRecord(ctx context.Context, eventID string, source models.Source) (*models.IdempotencyRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var (
		rec     models.IdempotencyRecord
		summary []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT event_id, source, first_seen_at, summary
		FROM idempotency_records
		WHERE event_id = $1 AND source = $2
	`, eventID, string(source)).Scan(&rec.EventID, &rec.Source, &rec.FirstSeenAt, &summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	rec.Summary = summary
	return &rec, nil
}

func (r *PostgresRepository) InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_records (event_id, source, first_seen_at, summary)
		VALUES ($1, $2, $3, $4)
	`, rec.EventID, string(rec.Source), rec.FirstSeenAt, []byte(rec.Summary))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

// =============================================================================
// RAW EVENTS & TENANT MAPPINGS
// =============================================================================

func (r *PostgresRepository) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	headers := ev.ReceivedHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO raw_events (id, event_id, source, received_headers, raw_body, received_at, workspace_id, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.EventID, string(ev.Source), headers, []byte(ev.RawBody), ev.ReceivedAt,
		ev.WorkspaceID, string(ev.Status), ev.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert raw event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) WorkspacesForExternalID(ctx context.Context, kind models.MappingKind, externalID string) ([]string, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT workspace_id FROM tenant_mappings
		WHERE kind = $1 AND external_id = $2
		ORDER BY workspace_id
	`, string(kind), externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant mappings: %w", err)
	}
	workspaces, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant mappings: %w", err)
	}
	return workspaces, nil
}

func (r *PostgresRepository) UpsertTenantMapping(ctx context.Context, m *models.TenantMapping) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_mappings (kind, external_id, workspace_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, external_id, workspace_id) DO NOTHING
	`, string(m.Kind), m.ExternalID, m.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant mapping: %w", err)
	}
	return nil
}

// =============================================================================
// LEADS
// =============================================================================

const leadColumns = `id, workspace_id, first_name, last_name, full_name, email, phone, linkedin_url,
	company_name, company_domain, company_industry, company_size,
	city, state, postal_code, country,
	source, enrichment_status, delivery_status, partner_id, raw_extras, eligible,
	created_at, updated_at, archived_at`

func scanLead(row pgx.Row, extra ...any) (*models.Lead, error) {
	var l models.Lead
	dest := []any{
		&l.ID, &l.WorkspaceID, &l.FirstName, &l.LastName, &l.FullName, &l.Email, &l.Phone, &l.LinkedInURL,
		&l.CompanyName, &l.CompanyDomain, &l.CompanyIndustry, &l.CompanySize,
		&l.City, &l.State, &l.PostalCode, &l.Country,
		&l.Source, &l.EnrichmentStatus, &l.DeliveryStatus, &l.PartnerID, &l.RawExtras, &l.Eligible,
		&l.CreatedAt, &l.UpdatedAt, &l.ArchivedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PostgresRepository) UpsertLead(ctx context.Context, lead *models.Lead) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	stampLead(lead)
	extras := lead.RawExtras
	if extras == nil {
		extras = map[string]any{}
	}

	args := []any{
		lead.ID, lead.WorkspaceID, lead.FirstName, lead.LastName, lead.FullName, lead.Email, lead.Phone, lead.LinkedInURL,
		lead.CompanyName, lead.CompanyDomain, lead.CompanyIndustry, lead.CompanySize,
		lead.City, lead.State, lead.PostalCode, lead.Country,
		string(lead.Source), string(lead.EnrichmentStatus), string(lead.DeliveryStatus), lead.PartnerID, extras, lead.Eligible,
		lead.CreatedAt, lead.UpdatedAt,
	}
	insert := `
		INSERT INTO leads (id, workspace_id, first_name, last_name, full_name, email, phone, linkedin_url,
			company_name, company_domain, company_industry, company_size,
			city, state, postal_code, country,
			source, enrichment_status, delivery_status, partner_id, raw_extras, eligible,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`

	if lead.Email == "" {
		stored, err := scanLead(r.pool.QueryRow(ctx, insert+` RETURNING `+leadColumns, args...))
		if err != nil {
			return false, fmt.Errorf("failed to insert lead: %w", err)
		}
		*lead = *stored
		return true, nil
	}

	// Latest non-empty value wins; identity, creation time, delivery state and
	// the first partner attribution are kept.
	query := insert + `
		ON CONFLICT (workspace_id, lower(email)) WHERE email <> '' DO UPDATE SET
			first_name       = COALESCE(NULLIF(EXCLUDED.first_name, ''), leads.first_name),
			last_name        = COALESCE(NULLIF(EXCLUDED.last_name, ''), leads.last_name),
			full_name        = COALESCE(NULLIF(EXCLUDED.full_name, ''), leads.full_name),
			phone            = COALESCE(NULLIF(EXCLUDED.phone, ''), leads.phone),
			linkedin_url     = COALESCE(NULLIF(EXCLUDED.linkedin_url, ''), leads.linkedin_url),
			company_name     = COALESCE(NULLIF(EXCLUDED.company_name, ''), leads.company_name),
			company_domain   = COALESCE(NULLIF(EXCLUDED.company_domain, ''), leads.company_domain),
			company_industry = COALESCE(NULLIF(EXCLUDED.company_industry, ''), leads.company_industry),
			company_size     = COALESCE(NULLIF(EXCLUDED.company_size, ''), leads.company_size),
			city             = COALESCE(NULLIF(EXCLUDED.city, ''), leads.city),
			state            = COALESCE(NULLIF(EXCLUDED.state, ''), leads.state),
			postal_code      = COALESCE(NULLIF(EXCLUDED.postal_code, ''), leads.postal_code),
			country          = COALESCE(NULLIF(EXCLUDED.country, ''), leads.country),
			source           = EXCLUDED.source,
			partner_id       = COALESCE(leads.partner_id, EXCLUDED.partner_id),
			raw_extras       = leads.raw_extras || EXCLUDED.raw_extras,
			eligible         = TRUE,
			updated_at       = EXCLUDED.updated_at
		RETURNING ` + leadColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	stored, err := scanLead(r.pool.QueryRow(ctx, query, args...), &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert lead: %w", err)
	}
	*lead = *stored
	return inserted, nil
}

func (r *PostgresRepository) GetLead(ctx context.Context, workspaceID, leadID string) (*models.Lead, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	lead, err := scanLead(r.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE workspace_id = $1 AND id = $2`,
		workspaceID, leadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

func (r *PostgresRepository) MarkLeadDelivered(ctx context.Context, workspaceID, leadID string) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var partnerID *string
	err := r.pool.QueryRow(ctx, `
		UPDATE leads SET delivery_status = 'delivered', updated_at = NOW()
		WHERE workspace_id = $1 AND id = $2 AND delivery_status <> 'delivered'
		RETURNING partner_id
	`, workspaceID, leadID).Scan(&partnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark lead delivered: %w", err)
	}

	if partnerID != nil {
		if _, err := r.pool.Exec(ctx,
			`UPDATE partners SET leads_delivered = leads_delivered + 1 WHERE workspace_id = $1 AND id = $2`,
			workspaceID, *partnerID); err != nil {
			return true, fmt.Errorf("failed to count partner delivery: %w", err)
		}
	}
	return true, nil
}

// =============================================================================
// TARGETING & ASSIGNMENTS
// =============================================================================

const ruleColumns = `id, workspace_id, recipient_id, recipient_kind, industries, states, cities, postal_codes,
	daily_cap, weekly_cap, monthly_cap, is_active, created_at, updated_at`

func scanRule(row pgx.Row) (*models.TargetingRule, error) {
	var rule models.TargetingRule
	err := row.Scan(&rule.ID, &rule.WorkspaceID, &rule.RecipientID, &rule.RecipientKind,
		&rule.Industries, &rule.States, &rule.Cities, &rule.PostalCodes,
		&rule.DailyCap, &rule.WeeklyCap, &rule.MonthlyCap, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *PostgresRepository) ListActiveRules(ctx context.Context, workspaceID string) ([]*models.TargetingRule, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM targeting_rules
		WHERE workspace_id = $1 AND is_active
		ORDER BY recipient_id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list targeting rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.TargetingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan targeting rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *PostgresRepository) GetRule(ctx context.Context, workspaceID string, kind models.RecipientKind, recipientID string) (*models.TargetingRule, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rule, err := scanRule(r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM targeting_rules
		WHERE workspace_id = $1 AND recipient_kind = $2 AND recipient_id = $3
	`, workspaceID, string(kind), recipientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get targeting rule: %w", err)
	}
	return rule, nil
}

func (r *PostgresRepository) UpsertRule(ctx context.Context, rule *models.TargetingRule) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	stored, err := scanRule(r.pool.QueryRow(ctx, `
		INSERT INTO targeting_rules (id, workspace_id, recipient_id, recipient_kind, industries, states, cities,
			postal_codes, daily_cap, weekly_cap, monthly_cap, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (workspace_id, recipient_kind, recipient_id) DO UPDATE SET
			industries   = EXCLUDED.industries,
			states       = EXCLUDED.states,
			cities       = EXCLUDED.cities,
			postal_codes = EXCLUDED.postal_codes,
			daily_cap    = EXCLUDED.daily_cap,
			weekly_cap   = EXCLUDED.weekly_cap,
			monthly_cap  = EXCLUDED.monthly_cap,
			is_active    = EXCLUDED.is_active,
			updated_at   = NOW()
		RETURNING `+ruleColumns,
		rule.ID, rule.WorkspaceID, rule.RecipientID, string(rule.RecipientKind),
		nonNil(rule.Industries), nonNil(rule.States), nonNil(rule.Cities), nonNil(rule.PostalCodes),
		rule.DailyCap, rule.WeeklyCap, rule.MonthlyCap, rule.IsActive))
	if err != nil {
		return fmt.Errorf("failed to upsert targeting rule: %w", err)
	}
	*rule = *stored
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// AssignWithinCap serializes assignments per recipient with a transaction
// scoped advisory lock so the cap count and the insert see the same state.
func (r *PostgresRepository) AssignWithinCap(ctx context.Context, rule *models.TargetingRule, leadID string, now time.Time) (models.AssignOutcome, error) {
	ctx, cancel := database.BatchContext(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin assignment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		rule.WorkspaceID+":"+string(rule.RecipientKind)+":"+rule.RecipientID); err != nil {
		return "", fmt.Errorf("failed to lock recipient: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM routing_assignments
			WHERE lead_id = $1 AND recipient_kind = $2 AND recipient_id = $3
		)
	`, leadID, string(rule.RecipientKind), rule.RecipientID).Scan(&exists); err != nil {
		return "", fmt.Errorf("failed to check assignment: %w", err)
	}
	if exists {
		return models.OutcomeAlreadyAssigned, nil
	}

	for _, w := range rule.CapWindows() {
		var count int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM routing_assignments
			WHERE workspace_id = $1 AND recipient_kind = $2 AND recipient_id = $3 AND matched_at > $4
		`, rule.WorkspaceID, string(rule.RecipientKind), rule.RecipientID, now.Add(-w.Period)).Scan(&count); err != nil {
			return "", fmt.Errorf("failed to count %s assignments: %w", w.Name, err)
		}
		if count >= w.Limit {
			return models.OutcomeCapped, nil
		}
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO routing_assignments (id, workspace_id, lead_id, recipient_id, recipient_kind, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (lead_id, recipient_kind, recipient_id) DO NOTHING
	`, uuid.NewString(), rule.WorkspaceID, leadID, rule.RecipientID, string(rule.RecipientKind), now)
	if err != nil {
		return "", fmt.Errorf("failed to insert assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.OutcomeAlreadyAssigned, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit assignment: %w", err)
	}
	return models.OutcomeAssigned, nil
}

func (r *PostgresRepository) ListAssignments(ctx context.Context, workspaceID, leadID string) ([]*models.RoutingAssignment, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, lead_id, recipient_id, recipient_kind, matched_at
		FROM routing_assignments
		WHERE workspace_id = $1 AND lead_id = $2
		ORDER BY recipient_id
	`, workspaceID, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.RoutingAssignment
	for rows.Next() {
		var a models.RoutingAssignment
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.LeadID, &a.RecipientID, &a.RecipientKind, &a.MatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountAssignmentsSince(ctx context.Context, workspaceID, recipientID string, since time.Time) (int, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM routing_assignments
		WHERE workspace_id = $1 AND recipient_id = $2 AND matched_at > $3
	`, workspaceID, recipientID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

// =============================================================================
// IMPORT JOBS
// =============================================================================

const jobColumns = `id, workspace_id, idempotency_hash, file_url, audience_id, status,
	total_rows, processed_rows, failed_rows, error, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.ImportJob, error) {
	var j models.ImportJob
	err := row.Scan(&j.ID, &j.WorkspaceID, &j.IdempotencyHash, &j.FileURL, &j.AudienceID, &j.Status,
		&j.TotalRows, &j.ProcessedRows, &j.FailedRows, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *PostgresRepository) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (id, workspace_id, idempotency_hash, file_url, audience_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, job.ID, job.WorkspaceID, job.IdempotencyHash, job.FileURL, job.AudienceID, string(job.Status)).
		Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrImportInProgress
		}
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetImportJob(ctx context.Context, workspaceID, id string) (*models.ImportJob, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	job, err := scanJob(r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE workspace_id = $1 AND id = $2`, workspaceID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) GetImportJobByHash(ctx context.Context, workspaceID, hash string) (*models.ImportJob, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	job, err := scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE workspace_id = $1 AND idempotency_hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, workspaceID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import job by hash: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) UpdateImportProgress(ctx context.Context, workspaceID, id string, processed, failed int) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE import_jobs SET processed_rows = $3, failed_rows = $4, updated_at = NOW()
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id, processed, failed)
	if err != nil {
		return fmt.Errorf("failed to update import progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) FinishImportJob(ctx context.Context, job *models.ImportJob) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		UPDATE import_jobs
		SET status = $3, total_rows = $4, processed_rows = $5, failed_rows = $6, error = $7,
			updated_at = NOW(), completed_at = NOW()
		WHERE workspace_id = $1 AND id = $2
		RETURNING updated_at, completed_at
	`, job.WorkspaceID, job.ID, string(job.Status), job.TotalRows, job.ProcessedRows, job.FailedRows, job.Error).
		Scan(&job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AbandonImportJob(ctx context.Context, workspaceID, id string, staleBefore time.Time, reason string) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = 'failed', error = $4, updated_at = NOW(), completed_at = NOW()
		WHERE workspace_id = $1 AND id = $2 AND status = 'processing' AND updated_at < $3
	`, workspaceID, id, staleBefore, reason)
	if err != nil {
		return false, fmt.Errorf("failed to abandon import job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =============================================================================
// PARTNERS & COMMISSIONS
// =============================================================================

func (r *PostgresRepository) GetPartner(ctx context.Context, id string) (*models.Partner, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var p models.Partner
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, name, api_key_hash, commission_rate, leads_uploaded, leads_delivered, is_active, created_at
		FROM partners WHERE id = $1
	`, id).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.APIKeyHash, &p.CommissionRate,
		&p.LeadsUploaded, &p.LeadsDelivered, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePartner(ctx context.Context, p *models.Partner) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO partners (id, workspace_id, name, api_key_hash, commission_rate, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, p.ID, p.WorkspaceID, p.Name, p.APIKeyHash, p.CommissionRate, p.IsActive).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IncrementPartnerUploads(ctx context.Context, workspaceID, partnerID string, n int) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE partners SET leads_uploaded = leads_uploaded + $3
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, partnerID, n)
	if err != nil {
		return fmt.Errorf("failed to increment partner uploads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const commissionColumns = `id, lead_id, partner_id, workspace_id, COALESCE(billing_event_id, ''),
	sale_amount, commission_rate, commission_amount, corrects_id, reason, computed_at`

func scanCommission(row pgx.Row) (*models.CommissionRecord, error) {
	var c models.CommissionRecord
	err := row.Scan(&c.ID, &c.LeadID, &c.PartnerID, &c.WorkspaceID, &c.BillingEventID,
		&c.SaleAmount, &c.CommissionRate, &c.CommissionAmount, &c.CorrectsID, &c.Reason, &c.ComputedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *PostgresRepository) InsertCommission(ctx context.Context, rec *models.CommissionRecord) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	return insertCommission(ctx, r.pool, rec)
}

func insertCommission(ctx context.Context, db execer, rec *models.CommissionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO partner_commissions (id, lead_id, partner_id, workspace_id, billing_event_id,
			sale_amount, commission_rate, commission_amount, corrects_id, reason, computed_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.LeadID, rec.PartnerID, rec.WorkspaceID, rec.BillingEventID,
		rec.SaleAmount, rec.CommissionRate, rec.CommissionAmount, rec.CorrectsID, rec.Reason, rec.ComputedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateBillingEvent
		}
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	return nil
}

// AppendCorrection holds a row lock on the original for the whole
// read-compute-insert so concurrent corrections see each other's deltas.
func (r *PostgresRepository) AppendCorrection(ctx context.Context, workspaceID, commissionID string, build CorrectionFunc) (*models.CommissionRecord, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	original, err := scanCommission(tx.QueryRow(ctx,
		`SELECT `+commissionColumns+` FROM partner_commissions WHERE workspace_id = $1 AND id = $2 FOR UPDATE`,
		workspaceID, commissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock commission: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+commissionColumns+` FROM partner_commissions
		WHERE workspace_id = $1 AND corrects_id = $2
		ORDER BY computed_at, id
	`, workspaceID, commissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	var corrections []*models.CommissionRecord
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		corrections = append(corrections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}

	rec, err := build(original, corrections)
	if err != nil {
		return nil, err
	}
	if err := insertCommission(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit correction: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) GetCommission(ctx context.Context, workspaceID, id string) (*models.CommissionRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	c, err := scanCommission(r.pool.QueryRow(ctx,
		`SELECT `+commissionColumns+` FROM partner_commissions WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) GetCommissionByBillingEvent(ctx context.Context, workspaceID, billingEventID string) (*models.CommissionRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	c, err := scanCommission(r.pool.QueryRow(ctx,
		`SELECT `+commissionColumns+` FROM partner_commissions WHERE workspace_id = $1 AND billing_event_id = $2`,
		workspaceID, billingEventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission by billing event: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListCommissions(ctx context.Context, workspaceID, partnerID string) ([]*models.CommissionRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT `+commissionColumns+` FROM partner_commissions
		WHERE workspace_id = $1 AND partner_id = $2
		ORDER BY computed_at, id
	`, workspaceID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer rows.Close()

	var out []*models.CommissionRecord
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
