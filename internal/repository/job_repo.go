package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/constants"
	"github.com/seoatlas/seoatlas-api/internal/models"
)

// SQLiteJobRepository implements JobRepository for SQLite/libsql.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

const jobColumns = `id, tenant_id, audit_id, type, status, attempt, max_attempts,
	queued_at, started_at, finished_at, locked_until, locked_by,
	idempotency_key, payload_json, last_error, created_at, updated_at`

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = constants.DefaultMaxAttempts
	}
	query := `
		INSERT INTO jobs (id, tenant_id, audit_id, type, status, attempt, max_attempts,
			queued_at, started_at, finished_at, locked_until, locked_by,
			idempotency_key, payload_json, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.TenantID,
		nullString(job.AuditID),
		job.Type,
		job.Status,
		job.Attempt,
		job.MaxAttempts,
		job.QueuedAt.UTC().Format(time.RFC3339),
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
		nullTime(job.LockedUntil),
		nullString(job.LockedBy),
		nullString(job.IdempotencyKey),
		nullString(job.PayloadJSON),
		nullString(job.LastError),
		job.CreatedAt.UTC().Format(time.RFC3339),
		job.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteJobRepository) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim atomically takes the oldest eligible job in a single statement.
// Eligible means: attempts remain, and the job is either queued with its
// eligibility time reached, or running with an expired lease (worker
// died). The claim bumps attempt and stamps the new lease, so a reclaimed
// row is immediately invisible to other claimers.
func (r *SQLiteJobRepository) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	query := `
		UPDATE jobs
		SET status = 'running',
			attempt = attempt + 1,
			started_at = ?,
			locked_by = ?,
			locked_until = ?,
			updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE attempt < max_attempts
			AND (
				(status = 'queued' AND queued_at <= ?)
				OR (status = 'running' AND locked_until IS NOT NULL AND locked_until < ?)
			)
			ORDER BY queued_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := r.scanJob(tx.QueryRowContext(ctx, query,
		nowStr,
		workerID,
		now.Add(lease).Format(time.RFC3339),
		nowStr,
		nowStr,
		nowStr,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		// Nothing eligible; this is the common case, not an error
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	committed = true

	return job, nil
}

// RenewLease extends the lease on a held job. The locked_by predicate
// makes this a fencing check: zero rows means another worker took the job.
func (r *SQLiteJobRepository) RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET locked_until = ?, updated_at = ?
		WHERE id = ? AND locked_by = ? AND status = 'running'
	`, now.Add(lease).Format(time.RFC3339), now.Format(time.RFC3339), jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *SQLiteJobRepository) MarkDone(ctx context.Context, jobID, workerID string) error {
	return r.finish(ctx, jobID, workerID, models.JobStatusDone, "")
}

func (r *SQLiteJobRepository) MarkFailed(ctx context.Context, jobID, workerID, lastError string) error {
	return r.finish(ctx, jobID, workerID, models.JobStatusFailed, lastError)
}

func (r *SQLiteJobRepository) finish(ctx context.Context, jobID, workerID string, status models.JobStatus, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, finished_at = ?, locked_until = NULL, locked_by = NULL,
			last_error = ?, updated_at = ?
		WHERE id = ? AND locked_by = ? AND status = 'running'
	`, status, now, nullString(lastError), now, jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RequeueWithBackoff returns a transiently failed job to the queue. The
// delay grows exponentially with the attempt count from a 30s base, is
// capped at an hour, and carries up to 10% random jitter so a batch of
// jobs failed by one outage doesn't stampede back together.
func (r *SQLiteJobRepository) RequeueWithBackoff(ctx context.Context, jobID, workerID, lastError string) (time.Duration, error) {
	job, err := r.GetByID(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job == nil {
		return 0, fmt.Errorf("job %s not found", jobID)
	}

	delay := backoffDelay(job.Attempt)
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', queued_at = ?, locked_until = NULL, locked_by = NULL,
			last_error = ?, updated_at = ?
		WHERE id = ? AND locked_by = ? AND status = 'running'
	`, now.Add(delay).Format(time.RFC3339), nullString(lastError), now.Format(time.RFC3339), jobID, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return 0, ErrLeaseLost
	}
	return delay, nil
}

// backoffDelay computes base * 2^(attempt-1), capped, plus up to 10% jitter.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(constants.RequeueBackoffBase) * math.Pow(2, float64(attempt-1)))
	if delay > constants.RequeueBackoffCap {
		delay = constants.RequeueBackoffCap
	}
	jitter := time.Duration(rand.Float64() * constants.RequeueJitterFraction * float64(delay))
	return delay + jitter
}

func (r *SQLiteJobRepository) GetActiveByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE idempotency_key = ? AND status IN ('queued', 'running')`
	return r.scanJob(r.db.QueryRowContext(ctx, query, key))
}

func (r *SQLiteJobRepository) CountActiveByTenantID(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE tenant_id = ? AND status IN ('queued', 'running')
	`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

func (r *SQLiteJobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// FailExhaustedJobs terminally fails running jobs whose lease expired
// after the final attempt. Claim skips them (attempt = max_attempts), so
// without this sweep they would sit in running forever.
func (r *SQLiteJobRepository) FailExhaustedJobs(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', finished_at = ?, locked_until = NULL, locked_by = NULL,
			last_error = 'lease expired with no attempts remaining', updated_at = ?
		WHERE status = 'running' AND locked_until IS NOT NULL AND locked_until < ?
			AND attempt >= max_attempts
	`, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fail exhausted jobs: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteJobRepository) scanJob(row *sql.Row) (*models.Job, error) {
	job, err := scanJobFields(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

func (r *SQLiteJobRepository) scanJobFromRows(rows *sql.Rows) (*models.Job, error) {
	job, err := scanJobFields(rows.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

func scanJobFields(scan func(dest ...any) error) (*models.Job, error) {
	var job models.Job
	var auditID, lockedBy, idempotencyKey, payloadJSON, lastError sql.NullString
	var queuedAt, createdAt, updatedAt string
	var startedAt, finishedAt, lockedUntil sql.NullString

	err := scan(
		&job.ID, &job.TenantID, &auditID, &job.Type, &job.Status,
		&job.Attempt, &job.MaxAttempts,
		&queuedAt, &startedAt, &finishedAt, &lockedUntil, &lockedBy,
		&idempotencyKey, &payloadJSON, &lastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.AuditID = auditID.String
	job.LockedBy = lockedBy.String
	job.IdempotencyKey = idempotencyKey.String
	job.PayloadJSON = payloadJSON.String
	job.LastError = lastError.String
	job.QueuedAt, _ = time.Parse(time.RFC3339, queuedAt)
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		job.FinishedAt = &t
	}
	if lockedUntil.Valid {
		t, _ := time.Parse(time.RFC3339, lockedUntil.String)
		job.LockedUntil = &t
	}

	return &job, nil
}

// Helper functions shared by the SQLite repositories
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
