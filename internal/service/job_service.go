package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/repository"
)

// ErrInvalidAuditURL is returned when an audit request carries an
// unusable target URL.
var ErrInvalidAuditURL = errors.New("audit URL must be a valid http or https URL")

// AuditRequest is a tenant's request to audit a site.
type AuditRequest struct {
	URL         string         `json:"url"`
	CompanyName string         `json:"company_name,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// AuditPayload is the job payload handed to the audit handler.
type AuditPayload struct {
	AuditID     string         `json:"audit_id"`
	URL         string         `json:"url"`
	CompanyName string         `json:"company_name,omitempty"`
	Tier        string         `json:"tier"`
	Options     map[string]any `json:"options,omitempty"`
}

// JobService enqueues audits onto the durable job queue. Submission is
// idempotent: an identical request while a matching job is still queued
// or running returns that job instead of creating a duplicate.
type JobService struct {
	logger *slog.Logger
	jobs   repository.JobRepository
	audits repository.AuditRepository
	events repository.EventRepository
	quota  *QuotaService
}

// NewJobService creates a new job service.
func NewJobService(logger *slog.Logger, repos *repository.Repositories, quota *QuotaService) *JobService {
	return &JobService{
		logger: logger,
		jobs:   repos.Jobs,
		audits: repos.Audits,
		events: repos.Events,
		quota:  quota,
	}
}

// EnqueueAudit validates, deduplicates, reserves quota, and enqueues an
// audit job. Returns the audit and its job; for a collapsed duplicate the
// returned job is the already-active one and no quota is consumed.
func (s *JobService) EnqueueAudit(ctx context.Context, tenantID, tier string, req *AuditRequest) (*models.Audit, *models.Job, error) {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, nil, ErrInvalidAuditURL
	}

	key := IdempotencyKey(tenantID, req.URL, req.Options)
	if existing, err := s.jobs.GetActiveByIdempotencyKey(ctx, key); err != nil {
		return nil, nil, err
	} else if existing != nil {
		audit, err := s.audits.GetByID(ctx, existing.AuditID)
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("audit request collapsed onto active job",
			"tenant_id", tenantID,
			"job_id", existing.ID,
		)
		return audit, existing, nil
	}

	if err := s.quota.CheckAndConsume(ctx, tenantID, tier); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	audit := &models.Audit{
		ID:          ulid.Make().String(),
		TenantID:    tenantID,
		URL:         req.URL,
		CompanyName: req.CompanyName,
		Tier:        tier,
		Status:      models.AuditStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.audits.Create(ctx, audit); err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(AuditPayload{
		AuditID:     audit.ID,
		URL:         req.URL,
		CompanyName: req.CompanyName,
		Tier:        tier,
		Options:     req.Options,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &models.Job{
		ID:             ulid.Make().String(),
		TenantID:       tenantID,
		AuditID:        audit.ID,
		Type:           models.JobTypeAudit,
		Status:         models.JobStatusQueued,
		QueuedAt:       now,
		IdempotencyKey: key,
		PayloadJSON:    string(payload),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// Two identical requests can race past the active-key lookup; the
		// partial unique index catches the loser. Return the winner's job.
		if existing, lookupErr := s.jobs.GetActiveByIdempotencyKey(ctx, key); lookupErr == nil && existing != nil {
			winner, auditErr := s.audits.GetByID(ctx, existing.AuditID)
			if auditErr != nil {
				return nil, nil, auditErr
			}
			return winner, existing, nil
		}
		return nil, nil, err
	}

	s.logger.Info("audit enqueued",
		"tenant_id", tenantID,
		"audit_id", audit.ID,
		"job_id", job.ID,
		"url", req.URL,
	)
	return audit, job, nil
}

// GetAudit returns the audit if it belongs to the tenant.
func (s *JobService) GetAudit(ctx context.Context, tenantID, auditID string) (*models.Audit, error) {
	audit, err := s.audits.GetByID(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit == nil || audit.TenantID != tenantID {
		return nil, nil
	}
	return audit, nil
}

// ListAudits returns the tenant's audits, newest first.
func (s *JobService) ListAudits(ctx context.Context, tenantID string, limit, offset int) ([]*models.Audit, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.audits.GetByTenantID(ctx, tenantID, limit, offset)
}

// GetAuditEvents returns the progress events for a tenant's audit in
// append order.
func (s *JobService) GetAuditEvents(ctx context.Context, tenantID, auditID string) ([]*models.AuditEvent, error) {
	audit, err := s.GetAudit(ctx, tenantID, auditID)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, nil
	}
	return s.events.GetByAuditID(ctx, auditID)
}

// IdempotencyKey derives the deduplication key for an audit request:
// SHA-256 over the tenant, URL, and the canonical form of the options.
// Two requests that differ only in option ordering share a key.
func IdempotencyKey(tenantID, url string, options map[string]any) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + url + "|" + canonicalOptions(options)))
	return hex.EncodeToString(sum[:])
}

// canonicalOptions serializes options deterministically. Map keys are
// sorted by json.Marshal; nil and empty collapse to the same form.
func canonicalOptions(options map[string]any) string {
	if len(options) == 0 {
		return "{}"
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "{}"
	}
	return string(data)
}
