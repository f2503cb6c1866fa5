// Package models defines the domain models for the application.
// Tenant identity and billing live in external systems; the tenant_id
// fields here reference those external tenant IDs.
package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal reports whether the status is done or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// JobType selects which registered handler processes the job.
type JobType string

const (
	JobTypeAudit JobType = "audit"
)

// Job is a row in the durable job queue. queued_at doubles as the
// eligibility time: a requeued job carries a future queued_at and is
// invisible to claimers until then.
type Job struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	AuditID        string     `json:"audit_id,omitempty"`
	Type           JobType    `json:"type"`
	Status         JobStatus  `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	QueuedAt       time.Time  `json:"queued_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LockedBy       string     `json:"locked_by,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	PayloadJSON    string     `json:"payload_json,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AuditStatus represents the user-visible state of an audit.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)

// Audit is the unit of work customers pay for: one full SEO audit of a
// site. The heavy results live in object storage at ReportPath; the row
// keeps only the summary.
type Audit struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	URL         string      `json:"url"`
	CompanyName string      `json:"company_name,omitempty"`
	Tier        string      `json:"tier"`
	Status      AuditStatus `json:"status"`
	Score       float64     `json:"score"`
	Grade       string      `json:"grade,omitempty"`
	ReportPath  string      `json:"report_path,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AuditStage is the coarse progress stage written to the event sink and
// surfaced to clients while an audit runs.
type AuditStage string

const (
	StageInitializing      AuditStage = "initializing"
	StageTechnicalAudit    AuditStage = "technical_audit"
	StageContentAudit      AuditStage = "content_audit"
	StageAIVisibilityAudit AuditStage = "ai_visibility_audit"
	StageGeneratingReport  AuditStage = "generating_report"
	StageCompleted         AuditStage = "completed"
	StageFailed            AuditStage = "failed"
)

// AuditEvent is an append-only progress record. Messages are redacted
// before they are written; rows are never updated.
type AuditEvent struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	AuditID     string    `json:"audit_id,omitempty"`
	EventType   string    `json:"event_type"`
	Message     string    `json:"message,omitempty"`
	ProgressPct int       `json:"progress_pct"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookEventType represents the type of webhook event.
type WebhookEventType string

const (
	WebhookEventAll            WebhookEventType = "*"
	WebhookEventAuditStarted   WebhookEventType = "audit.started"
	WebhookEventAuditCompleted WebhookEventType = "audit.completed"
	WebhookEventAuditFailed    WebhookEventType = "audit.failed"
)

// Webhook represents a tenant-defined webhook endpoint.
type Webhook struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	URL             string    `json:"url"`
	SecretEncrypted string    `json:"-"`      // Encrypted webhook secret for HMAC signing
	Events          []string  `json:"events"` // Event types to subscribe to (["*"] for all)
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// WebhookDeliveryStatus represents the status of a webhook delivery.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending   WebhookDeliveryStatus = "pending"
	WebhookDeliveryStatusDelivered WebhookDeliveryStatus = "delivered"
	WebhookDeliveryStatusFailed    WebhookDeliveryStatus = "failed"
)

// WebhookDelivery tracks one webhook event against one endpoint across
// all of its attempts. The ID is a UUID and is also the delivery_id in
// the wire envelope.
type WebhookDelivery struct {
	ID           string                `json:"id"`
	WebhookID    string                `json:"webhook_id"`
	TenantID     string                `json:"tenant_id"`
	EventType    string                `json:"event_type"`
	PayloadJSON  string                `json:"payload_json"`
	Status       WebhookDeliveryStatus `json:"status"`
	Attempts     int                   `json:"attempts"`
	MaxAttempts  int                   `json:"max_attempts"`
	NextRetryAt  *time.Time            `json:"next_retry_at,omitempty"`
	ResponseCode *int                  `json:"response_code,omitempty"`
	ResponseBody string                `json:"response_body,omitempty"` // truncated
	ErrorMessage string                `json:"error_message,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	DeliveredAt  *time.Time            `json:"delivered_at,omitempty"`
}

// TenantQuota holds the per-tenant usage limits and the monthly counter.
// MonthlyAuditsLimit of -1 means unlimited. Concurrent usage is not
// stored here; it is computed live from the jobs table.
type TenantQuota struct {
	TenantID             string    `json:"tenant_id"`
	Tier                 string    `json:"tier"`
	MonthlyAuditsLimit   int       `json:"monthly_audits_limit"`
	MonthlyAuditsUsed    int       `json:"monthly_audits_used"`
	BillingCycleStart    time.Time `json:"billing_cycle_start"`
	MaxConcurrentAudits  int       `json:"max_concurrent_audits"`
	MaxPagesPerAudit     int       `json:"max_pages_per_audit"`
	MaxAIPromptsPerAudit int       `json:"max_ai_prompts_per_audit"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
