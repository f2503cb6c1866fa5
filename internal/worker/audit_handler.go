package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/constants"
	"github.com/seoatlas/seoatlas-api/internal/fetch"
	"github.com/seoatlas/seoatlas-api/internal/logging"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/redact"
	"github.com/seoatlas/seoatlas-api/internal/repository"
	"github.com/seoatlas/seoatlas-api/internal/service"
)

// stageProgress maps each audit stage to its progress percentage.
var stageProgress = map[models.AuditStage]int{
	models.StageInitializing:      0,
	models.StageTechnicalAudit:    10,
	models.StageContentAudit:      30,
	models.StageAIVisibilityAudit: 50,
	models.StageGeneratingReport:  80,
	models.StageCompleted:         100,
}

// AuditHandler runs SEO audits claimed off the job queue. It walks the
// fixed stage sequence, records progress events after each stage, stores
// the report, and notifies the tenant's webhooks.
type AuditHandler struct {
	logger     *slog.Logger
	audits     repository.AuditRepository
	events     repository.EventRepository
	webhookSvc *service.WebhookService
	storageSvc *service.StorageService
	fetchOpts  fetch.Options
}

// NewAuditHandler creates the audit job handler.
func NewAuditHandler(
	logger *slog.Logger,
	repos *repository.Repositories,
	webhookSvc *service.WebhookService,
	storageSvc *service.StorageService,
	fetchOpts fetch.Options,
) *AuditHandler {
	return &AuditHandler{
		logger:     logger.With("component", "audit-handler"),
		audits:     repos.Audits,
		events:     repos.Events,
		webhookSvc: webhookSvc,
		storageSvc: storageSvc,
		fetchOpts:  fetchOpts,
	}
}

// Handle runs one audit job end to end.
func (h *AuditHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload service.AuditPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return Permanent(fmt.Errorf("invalid audit payload: %w", err))
	}

	audit, err := h.audits.GetByID(ctx, payload.AuditID)
	if err != nil {
		return err
	}
	if audit == nil {
		return Permanent(fmt.Errorf("audit %s not found", payload.AuditID))
	}

	audit.Status = models.AuditStatusRunning
	if err := h.audits.Update(ctx, audit); err != nil {
		return err
	}
	h.emit(ctx, job, audit, models.StageInitializing, "audit started")

	if err := h.webhookSvc.FireEvent(ctx, audit.TenantID, string(models.WebhookEventAuditStarted), map[string]any{
		"audit_id": audit.ID,
		"url":      audit.URL,
		"status":   string(audit.Status),
		"attempt":  job.Attempt,
	}); err != nil {
		logging.FromContext(ctx, h.logger).Warn("failed to fire started webhooks", "audit_id", audit.ID, "error", err)
	}

	// The fetcher is paced per the tenant's tier
	limits := constants.GetTierLimits(payload.Tier)
	opts := h.fetchOpts
	opts.Limiter = fetch.NewLimiterForTier(payload.Tier)
	if opts.Timeout == 0 {
		opts.Timeout = limits.FetchTimeout
	}
	fetcher := fetch.New(opts)

	result, err := fetcher.Fetch(ctx, payload.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", payload.URL, err)
	}
	if result.StatusCode >= 400 {
		statusErr := &fetch.StatusError{StatusCode: result.StatusCode, URL: payload.URL}
		// 429 and 5xx can clear up on a later attempt; other 4xx will not
		if result.StatusCode == http.StatusTooManyRequests || result.StatusCode >= 500 {
			return statusErr
		}
		return Permanent(statusErr)
	}

	page := string(result.Body)

	technical := h.technicalAudit(result, page)
	h.emit(ctx, job, audit, models.StageTechnicalAudit, "technical checks complete")

	content := h.contentAudit(page)
	h.emit(ctx, job, audit, models.StageContentAudit, "content checks complete")

	visibility := h.aiVisibilityAudit(page)
	h.emit(ctx, job, audit, models.StageAIVisibilityAudit, "ai visibility checks complete")

	sections := []service.ReportSection{technical, content, visibility}
	score := overallScore(sections)
	grade := gradeFor(score)

	h.emit(ctx, job, audit, models.StageGeneratingReport, "generating report")
	reportPath, err := h.storageSvc.StoreReport(ctx, &service.AuditReport{
		AuditID:     audit.ID,
		TenantID:    audit.TenantID,
		URL:         result.FinalURL,
		Score:       score,
		Grade:       grade,
		Sections:    sections,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}

	audit.Status = models.AuditStatusCompleted
	audit.Score = score
	audit.Grade = grade
	audit.ReportPath = reportPath
	if err := h.audits.Update(ctx, audit); err != nil {
		return err
	}
	h.emit(ctx, job, audit, models.StageCompleted, fmt.Sprintf("audit completed with score %.1f (%s)", score, grade))

	if err := h.webhookSvc.FireEvent(ctx, audit.TenantID, string(models.WebhookEventAuditCompleted), map[string]any{
		"audit_id":    audit.ID,
		"url":         audit.URL,
		"status":      string(audit.Status),
		"score":       score,
		"grade":       grade,
		"report_path": reportPath,
	}); err != nil {
		// The audit succeeded; webhook delivery has its own retry loop
		logging.FromContext(ctx, h.logger).Warn("failed to fire completion webhooks", "audit_id", audit.ID, "error", err)
	}

	return nil
}

// HandleFailure marks the audit failed and notifies webhooks after the
// job fails terminally.
func (h *AuditHandler) HandleFailure(ctx context.Context, job *models.Job, cause string) {
	var payload service.AuditPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return
	}
	audit, err := h.audits.GetByID(ctx, payload.AuditID)
	if err != nil || audit == nil {
		return
	}

	audit.Status = models.AuditStatusFailed
	if err := h.audits.Update(ctx, audit); err != nil {
		h.logger.Error("failed to mark audit failed", "audit_id", audit.ID, "error", err)
	}
	h.emit(ctx, job, audit, models.StageFailed, cause)

	if err := h.webhookSvc.FireEvent(ctx, audit.TenantID, string(models.WebhookEventAuditFailed), map[string]any{
		"audit_id": audit.ID,
		"url":      audit.URL,
		"status":   string(models.AuditStatusFailed),
		"error":    redact.String(cause),
	}); err != nil {
		h.logger.Warn("failed to fire failure webhooks", "audit_id", audit.ID, "error", err)
	}
}

// emit appends a progress event. Messages are redacted before storage
// and failures never interrupt the audit.
func (h *AuditHandler) emit(ctx context.Context, job *models.Job, audit *models.Audit, stage models.AuditStage, message string) {
	event := &models.AuditEvent{
		JobID:       job.ID,
		AuditID:     audit.ID,
		EventType:   string(stage),
		Message:     redact.String(message),
		ProgressPct: stageProgress[stage],
	}
	if err := h.events.Append(ctx, event); err != nil {
		logging.FromContext(ctx, h.logger).Error("failed to append audit event", "stage", stage, "error", err)
	}
}

// technicalAudit scores transport and markup level signals.
func (h *AuditHandler) technicalAudit(result *fetch.Result, page string) service.ReportSection {
	checks := map[string]bool{
		"https":            strings.HasPrefix(result.FinalURL, "https://"),
		"html_content":     strings.Contains(result.ContentType, "text/html"),
		"title_tag":        containsTag(page, "<title"),
		"meta_description": strings.Contains(strings.ToLower(page), `name="description"`),
		"viewport":         strings.Contains(strings.ToLower(page), `name="viewport"`),
		"canonical":        strings.Contains(strings.ToLower(page), `rel="canonical"`),
	}
	return sectionFromChecks("technical", checks)
}

// contentAudit scores on-page content signals.
func (h *AuditHandler) contentAudit(page string) service.ReportSection {
	lower := strings.ToLower(page)
	checks := map[string]bool{
		"h1_heading":       containsTag(page, "<h1"),
		"subheadings":      containsTag(page, "<h2"),
		"images_with_alt":  !containsTag(page, "<img") || strings.Contains(lower, "alt="),
		"sufficient_text":  len(page) > 2048,
		"internal_links":   strings.Contains(lower, "<a "),
		"structured_lists": containsTag(page, "<ul") || containsTag(page, "<ol"),
	}
	return sectionFromChecks("content", checks)
}

// aiVisibilityAudit scores signals that help AI assistants and crawlers
// interpret the site.
func (h *AuditHandler) aiVisibilityAudit(page string) service.ReportSection {
	lower := strings.ToLower(page)
	checks := map[string]bool{
		"structured_data": strings.Contains(lower, "application/ld+json"),
		"open_graph":      strings.Contains(lower, `property="og:`),
		"twitter_card":    strings.Contains(lower, `name="twitter:`),
		"semantic_html":   containsTag(page, "<article") || containsTag(page, "<main") || containsTag(page, "<section"),
	}
	return sectionFromChecks("ai_visibility", checks)
}

func containsTag(page, tag string) bool {
	return strings.Contains(strings.ToLower(page), tag)
}

func sectionFromChecks(name string, checks map[string]bool) service.ReportSection {
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	score := 100 * float64(passed) / float64(len(checks))
	findings, _ := json.Marshal(checks)
	return service.ReportSection{
		Name:     name,
		Score:    score,
		Findings: findings,
	}
}

func overallScore(sections []service.ReportSection) float64 {
	if len(sections) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sections {
		sum += s.Score
	}
	return sum / float64(len(sections))
}

func gradeFor(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
