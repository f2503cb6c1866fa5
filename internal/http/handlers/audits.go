package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/service"
)

// AuditsHandler handles audit endpoints.
type AuditsHandler struct {
	jobSvc     *service.JobService
	storageSvc *service.StorageService
}

// NewAuditsHandler creates a new audits handler.
func NewAuditsHandler(jobSvc *service.JobService, storageSvc *service.StorageService) *AuditsHandler {
	return &AuditsHandler{jobSvc: jobSvc, storageSvc: storageSvc}
}

// CreateAuditInput represents an audit submission.
type CreateAuditInput struct {
	Body struct {
		URL         string         `json:"url" doc:"Site URL to audit"`
		CompanyName string         `json:"company_name,omitempty" doc:"Company name shown on the report"`
		Options     map[string]any `json:"options,omitempty" doc:"Audit options; identical submissions are deduplicated"`
	}
}

// CreateAuditOutput represents the accepted audit.
type CreateAuditOutput struct {
	Body struct {
		AuditID  string    `json:"audit_id" doc:"Audit ID"`
		JobID    string    `json:"job_id" doc:"Queued job ID"`
		Status   string    `json:"status" doc:"Audit status"`
		QueuedAt time.Time `json:"queued_at" doc:"When the job became eligible to run"`
	}
}

// CreateAudit accepts an audit for asynchronous processing. Duplicate
// submissions return the already active audit rather than a new one.
func (h *AuditsHandler) CreateAudit(ctx context.Context, input *CreateAuditInput) (*CreateAuditOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	audit, job, err := h.jobSvc.EnqueueAudit(ctx, tenantID, getTenantTier(ctx), &service.AuditRequest{
		URL:         input.Body.URL,
		CompanyName: input.Body.CompanyName,
		Options:     input.Body.Options,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAuditURL):
			return nil, huma.Error422UnprocessableEntity("url must be an absolute http or https URL")
		case errors.Is(err, service.ErrQuotaExceeded):
			return nil, huma.Error429TooManyRequests(err.Error())
		case errors.Is(err, service.ErrConcurrencyLimitReached):
			return nil, huma.Error429TooManyRequests(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to enqueue audit")
		}
	}

	out := &CreateAuditOutput{}
	out.Body.AuditID = audit.ID
	out.Body.JobID = job.ID
	out.Body.Status = string(audit.Status)
	out.Body.QueuedAt = job.QueuedAt
	return out, nil
}

// GetAuditInput represents an audit lookup.
type GetAuditInput struct {
	ID string `path:"id" doc:"Audit ID"`
}

// GetAuditOutput represents a single audit.
type GetAuditOutput struct {
	Body models.Audit
}

// GetAudit returns one of the tenant's audits.
func (h *AuditsHandler) GetAudit(ctx context.Context, input *GetAuditInput) (*GetAuditOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	audit, err := h.jobSvc.GetAudit(ctx, tenantID, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get audit")
	}
	if audit == nil {
		return nil, huma.Error404NotFound("audit not found")
	}
	return &GetAuditOutput{Body: *audit}, nil
}

// ListAuditsInput represents audit list parameters.
type ListAuditsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Max audits to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Pagination offset"`
}

// ListAuditsOutput represents the audit list.
type ListAuditsOutput struct {
	Body struct {
		Audits []*models.Audit `json:"audits"`
	}
}

// ListAudits returns the tenant's audits, newest first.
func (h *AuditsHandler) ListAudits(ctx context.Context, input *ListAuditsInput) (*ListAuditsOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	audits, err := h.jobSvc.ListAudits(ctx, tenantID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list audits")
	}

	out := &ListAuditsOutput{}
	out.Body.Audits = audits
	if out.Body.Audits == nil {
		out.Body.Audits = []*models.Audit{}
	}
	return out, nil
}

// GetAuditEventsInput represents an audit event stream lookup.
type GetAuditEventsInput struct {
	ID string `path:"id" doc:"Audit ID"`
}

// GetAuditEventsOutput represents the audit's progress events.
type GetAuditEventsOutput struct {
	Body struct {
		Events []*models.AuditEvent `json:"events"`
	}
}

// GetAuditEvents returns the audit's progress events in insertion order.
func (h *AuditsHandler) GetAuditEvents(ctx context.Context, input *GetAuditEventsInput) (*GetAuditEventsOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	events, err := h.jobSvc.GetAuditEvents(ctx, tenantID, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get audit events")
	}
	if events == nil {
		return nil, huma.Error404NotFound("audit not found")
	}

	out := &GetAuditEventsOutput{}
	out.Body.Events = events
	return out, nil
}

// GetAuditReportInput represents a report download request.
type GetAuditReportInput struct {
	ID string `path:"id" doc:"Audit ID"`
}

// GetAuditReportOutput represents a presigned report link.
type GetAuditReportOutput struct {
	Body struct {
		URL       string    `json:"url" doc:"Presigned download URL"`
		ExpiresAt time.Time `json:"expires_at" doc:"When the URL expires"`
	}
}

// GetAuditReport returns a time-limited download URL for the stored
// report.
func (h *AuditsHandler) GetAuditReport(ctx context.Context, input *GetAuditReportInput) (*GetAuditReportOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	audit, err := h.jobSvc.GetAudit(ctx, tenantID, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get audit")
	}
	if audit == nil {
		return nil, huma.Error404NotFound("audit not found")
	}
	if audit.Status != models.AuditStatusCompleted || audit.ReportPath == "" {
		return nil, huma.Error404NotFound("report not available")
	}
	if !h.storageSvc.IsEnabled() {
		return nil, huma.Error503ServiceUnavailable("report storage is not configured")
	}

	const expiry = 15 * time.Minute
	url, err := h.storageSvc.GetReportPresignedURL(ctx, tenantID, audit.ID, expiry)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to generate report link")
	}

	out := &GetAuditReportOutput{}
	out.Body.URL = url
	out.Body.ExpiresAt = time.Now().UTC().Add(expiry)
	return out, nil
}
