// Package repository provides data access interfaces and SQLite implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/models"
)

// ErrLeaseLost is returned when a worker tries to act on a job it no
// longer holds: the lease expired and another worker claimed the row.
var ErrLeaseLost = errors.New("job lease lost")

// JobRepository handles the durable job queue.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Job, error)

	// Claim atomically takes the oldest eligible job: queued and due, or
	// running with an expired lease. Returns nil when nothing is eligible.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error)

	// RenewLease extends the claim. Returns ErrLeaseLost if the job is no
	// longer held by workerID.
	RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error

	// MarkDone and MarkFailed finish a job. Both are guarded by workerID
	// so a worker whose lease was stolen cannot overwrite the thief's state.
	MarkDone(ctx context.Context, jobID, workerID string) error
	MarkFailed(ctx context.Context, jobID, workerID, lastError string) error

	// RequeueWithBackoff returns a transiently failed job to the queue
	// with a future eligibility time and reports the applied delay.
	RequeueWithBackoff(ctx context.Context, jobID, workerID, lastError string) (time.Duration, error)

	// GetActiveByIdempotencyKey returns the queued or running job carrying
	// the key, or nil.
	GetActiveByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)

	// CountActiveByTenantID counts queued plus running jobs for a tenant.
	CountActiveByTenantID(ctx context.Context, tenantID string) (int, error)

	// CountByStatus returns the number of jobs in each status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)

	// FailExhaustedJobs terminally fails running jobs whose lease expired
	// with no attempts left. Run at startup and periodically.
	FailExhaustedJobs(ctx context.Context) (int64, error)
}

// AuditRepository handles audit records.
type AuditRepository interface {
	Create(ctx context.Context, audit *models.Audit) error
	GetByID(ctx context.Context, id string) (*models.Audit, error)
	GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Audit, error)
	Update(ctx context.Context, audit *models.Audit) error
}

// EventRepository is the append-only progress sink.
type EventRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.AuditEvent, error)
	GetByAuditID(ctx context.Context, auditID string) ([]*models.AuditEvent, error)
}

// WebhookRepository handles webhook endpoint configuration.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	GetByTenantID(ctx context.Context, tenantID string) ([]*models.Webhook, error)
	GetActiveByTenantID(ctx context.Context, tenantID string) ([]*models.Webhook, error)
	Update(ctx context.Context, webhook *models.Webhook) error
	Delete(ctx context.Context, id string) error
}

// WebhookDeliveryRepository tracks webhook delivery attempts.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *models.WebhookDelivery) error
	Update(ctx context.Context, delivery *models.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error)
	GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error)
	GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error)
}

// QuotaRepository handles per-tenant usage limits.
type QuotaRepository interface {
	GetByTenantID(ctx context.Context, tenantID string) (*models.TenantQuota, error)
	Create(ctx context.Context, quota *models.TenantQuota) error
	Update(ctx context.Context, quota *models.TenantQuota) error
	IncrementUsed(ctx context.Context, tenantID string) error
	ResetCycle(ctx context.Context, tenantID string, cycleStart time.Time) error
}

// Repositories bundles all repository implementations.
type Repositories struct {
	Jobs              JobRepository
	Audits            AuditRepository
	Events            EventRepository
	Webhooks          WebhookRepository
	WebhookDeliveries WebhookDeliveryRepository
	Quotas            QuotaRepository
}

// NewRepositories creates all SQLite repositories from a database connection.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Jobs:              NewSQLiteJobRepository(db),
		Audits:            NewSQLiteAuditRepository(db),
		Events:            NewSQLiteEventRepository(db),
		Webhooks:          NewSQLiteWebhookRepository(db),
		WebhookDeliveries: NewSQLiteWebhookDeliveryRepository(db),
		Quotas:            NewSQLiteQuotaRepository(db),
	}
}
