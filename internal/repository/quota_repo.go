package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/models"
)

// SQLiteQuotaRepository implements QuotaRepository for SQLite/libsql.
type SQLiteQuotaRepository struct {
	db *sql.DB
}

// NewSQLiteQuotaRepository creates a new SQLite quota repository.
func NewSQLiteQuotaRepository(db *sql.DB) *SQLiteQuotaRepository {
	return &SQLiteQuotaRepository{db: db}
}

func (r *SQLiteQuotaRepository) GetByTenantID(ctx context.Context, tenantID string) (*models.TenantQuota, error) {
	query := `
		SELECT tenant_id, tier, monthly_audits_limit, monthly_audits_used, billing_cycle_start,
			max_concurrent_audits, max_pages_per_audit, max_ai_prompts_per_audit, created_at, updated_at
		FROM tenant_quotas WHERE tenant_id = ?
	`
	var quota models.TenantQuota
	var cycleStart, createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&quota.TenantID, &quota.Tier, &quota.MonthlyAuditsLimit, &quota.MonthlyAuditsUsed,
		&cycleStart, &quota.MaxConcurrentAudits, &quota.MaxPagesPerAudit,
		&quota.MaxAIPromptsPerAudit, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant quota: %w", err)
	}
	quota.BillingCycleStart, _ = time.Parse(time.RFC3339, cycleStart)
	quota.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	quota.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &quota, nil
}

func (r *SQLiteQuotaRepository) Create(ctx context.Context, quota *models.TenantQuota) error {
	query := `
		INSERT INTO tenant_quotas (tenant_id, tier, monthly_audits_limit, monthly_audits_used,
			billing_cycle_start, max_concurrent_audits, max_pages_per_audit,
			max_ai_prompts_per_audit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		quota.TenantID,
		quota.Tier,
		quota.MonthlyAuditsLimit,
		quota.MonthlyAuditsUsed,
		quota.BillingCycleStart.UTC().Format(time.RFC3339),
		quota.MaxConcurrentAudits,
		quota.MaxPagesPerAudit,
		quota.MaxAIPromptsPerAudit,
		quota.CreatedAt.UTC().Format(time.RFC3339),
		quota.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant quota: %w", err)
	}
	return nil
}

func (r *SQLiteQuotaRepository) Update(ctx context.Context, quota *models.TenantQuota) error {
	quota.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE tenant_quotas
		SET tier = ?, monthly_audits_limit = ?, monthly_audits_used = ?, billing_cycle_start = ?,
			max_concurrent_audits = ?, max_pages_per_audit = ?, max_ai_prompts_per_audit = ?, updated_at = ?
		WHERE tenant_id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		quota.Tier,
		quota.MonthlyAuditsLimit,
		quota.MonthlyAuditsUsed,
		quota.BillingCycleStart.UTC().Format(time.RFC3339),
		quota.MaxConcurrentAudits,
		quota.MaxPagesPerAudit,
		quota.MaxAIPromptsPerAudit,
		quota.UpdatedAt.Format(time.RFC3339),
		quota.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant quota: %w", err)
	}
	return nil
}

// IncrementUsed bumps the monthly counter in a single statement so two
// concurrent submissions cannot lose an increment.
func (r *SQLiteQuotaRepository) IncrementUsed(ctx context.Context, tenantID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE tenant_quotas
		SET monthly_audits_used = monthly_audits_used + 1, updated_at = ?
		WHERE tenant_id = ?
	`, now, tenantID)
	if err != nil {
		return fmt.Errorf("failed to increment quota usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no quota record for tenant %s", tenantID)
	}
	return nil
}

// ResetCycle zeroes the monthly counter and advances the cycle start.
func (r *SQLiteQuotaRepository) ResetCycle(ctx context.Context, tenantID string, cycleStart time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenant_quotas
		SET monthly_audits_used = 0, billing_cycle_start = ?, updated_at = ?
		WHERE tenant_id = ?
	`, cycleStart.UTC().Format(time.RFC3339), now, tenantID)
	if err != nil {
		return fmt.Errorf("failed to reset quota cycle: %w", err)
	}
	return nil
}
