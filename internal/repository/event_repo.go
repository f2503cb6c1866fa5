package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/seoatlas/seoatlas-api/internal/models"
)

// SQLiteEventRepository implements EventRepository for SQLite/libsql.
// The table is append-only; there are no update or delete methods.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a new SQLite event repository.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_events (id, job_id, audit_id, event_type, message, progress_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.JobID,
		nullString(event.AuditID),
		event.EventType,
		nullString(event.Message),
		event.ProgressPct,
		event.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) GetByJobID(ctx context.Context, jobID string) ([]*models.AuditEvent, error) {
	// ULIDs sort lexicographically by creation time, so ordering by id
	// gives stable insertion order even within one timestamp second.
	query := `
		SELECT id, job_id, audit_id, event_type, message, progress_pct, created_at
		FROM audit_events WHERE job_id = ? ORDER BY id ASC
	`
	return r.queryEvents(ctx, query, jobID)
}

func (r *SQLiteEventRepository) GetByAuditID(ctx context.Context, auditID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, job_id, audit_id, event_type, message, progress_pct, created_at
		FROM audit_events WHERE audit_id = ? ORDER BY id ASC
	`
	return r.queryEvents(ctx, query, auditID)
}

func (r *SQLiteEventRepository) queryEvents(ctx context.Context, query string, arg any) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		var auditID, message sql.NullString
		var createdAt string
		if err := rows.Scan(&event.ID, &event.JobID, &auditID, &event.EventType, &message, &event.ProgressPct, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.AuditID = auditID.String
		event.Message = message.String
		event.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &event)
	}
	return events, rows.Err()
}
