package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/models"
)

// SQLiteAuditRepository implements AuditRepository for SQLite/libsql.
type SQLiteAuditRepository struct {
	db *sql.DB
}

// NewSQLiteAuditRepository creates a new SQLite audit repository.
func NewSQLiteAuditRepository(db *sql.DB) *SQLiteAuditRepository {
	return &SQLiteAuditRepository{db: db}
}

const auditColumns = `id, tenant_id, url, company_name, tier, status, score, grade, report_path, created_at, updated_at`

func (r *SQLiteAuditRepository) Create(ctx context.Context, audit *models.Audit) error {
	query := `
		INSERT INTO audits (id, tenant_id, url, company_name, tier, status, score, grade, report_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		audit.ID,
		audit.TenantID,
		audit.URL,
		nullString(audit.CompanyName),
		audit.Tier,
		audit.Status,
		audit.Score,
		nullString(audit.Grade),
		nullString(audit.ReportPath),
		audit.CreatedAt.UTC().Format(time.RFC3339),
		audit.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit: %w", err)
	}
	return nil
}

func (r *SQLiteAuditRepository) GetByID(ctx context.Context, id string) (*models.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE id = ?`
	audit, err := scanAuditFields(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit: %w", err)
	}
	return audit, nil
}

func (r *SQLiteAuditRepository) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var audits []*models.Audit
	for rows.Next() {
		audit, err := scanAuditFields(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		audits = append(audits, audit)
	}
	return audits, rows.Err()
}

func (r *SQLiteAuditRepository) Update(ctx context.Context, audit *models.Audit) error {
	audit.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE audits
		SET url = ?, company_name = ?, tier = ?, status = ?, score = ?, grade = ?, report_path = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		audit.URL,
		nullString(audit.CompanyName),
		audit.Tier,
		audit.Status,
		audit.Score,
		nullString(audit.Grade),
		nullString(audit.ReportPath),
		audit.UpdatedAt.Format(time.RFC3339),
		audit.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit: %w", err)
	}
	return nil
}

func scanAuditFields(scan func(dest ...any) error) (*models.Audit, error) {
	var audit models.Audit
	var companyName, grade, reportPath sql.NullString
	var createdAt, updatedAt string

	err := scan(
		&audit.ID, &audit.TenantID, &audit.URL, &companyName, &audit.Tier,
		&audit.Status, &audit.Score, &grade, &reportPath, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	audit.CompanyName = companyName.String
	audit.Grade = grade.String
	audit.ReportPath = reportPath.String
	audit.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	audit.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &audit, nil
}
