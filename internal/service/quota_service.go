package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/constants"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/repository"
)

// ErrQuotaExceeded is returned when a tenant has used its monthly audit allowance.
var ErrQuotaExceeded = errors.New("monthly audit quota exceeded")

// ErrConcurrencyLimitReached is returned when a tenant already has the
// maximum number of audits queued or running.
var ErrConcurrencyLimitReached = errors.New("concurrent audit limit reached")

// Quota limit kinds carried on QuotaExceededError.
const (
	QuotaKindMonthly    = "monthly_audits"
	QuotaKindConcurrent = "concurrent_audits"
)

// QuotaExceededError reports which limit was hit and where usage stood
// when it was. It unwraps to ErrQuotaExceeded or ErrConcurrencyLimitReached
// so existing errors.Is call sites keep working.
type QuotaExceededError struct {
	Kind  string
	Tier  string
	Limit int
	Used  int
}

func (e *QuotaExceededError) Error() string {
	if e.Kind == QuotaKindConcurrent {
		return constants.ConcurrentAuditLimitMessage(e.Tier)
	}
	return constants.QuotaExceededMessage(e.Tier)
}

func (e *QuotaExceededError) Unwrap() error {
	if e.Kind == QuotaKindConcurrent {
		return ErrConcurrencyLimitReached
	}
	return ErrQuotaExceeded
}

// QuotaService enforces per-tenant usage limits. The monthly counter is
// stored; concurrent usage is computed live from the jobs table so a
// crashed worker can never leak a permanently-held slot.
type QuotaService struct {
	logger *slog.Logger
	quotas repository.QuotaRepository
	jobs   repository.JobRepository
}

// NewQuotaService creates a new quota service.
func NewQuotaService(logger *slog.Logger, quotas repository.QuotaRepository, jobs repository.JobRepository) *QuotaService {
	return &QuotaService{logger: logger, quotas: quotas, jobs: jobs}
}

// EnsureQuota returns the tenant's quota row, creating it from the
// tier's defaults when missing, and resetting the counter if the billing
// cycle has rolled over.
func (s *QuotaService) EnsureQuota(ctx context.Context, tenantID, tier string) (*models.TenantQuota, error) {
	quota, err := s.quotas.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		limits := constants.GetTierLimits(tier)
		now := time.Now().UTC()
		quota = &models.TenantQuota{
			TenantID:             tenantID,
			Tier:                 tier,
			MonthlyAuditsLimit:   limits.MonthlyAudits,
			BillingCycleStart:    now,
			MaxConcurrentAudits:  limits.MaxConcurrentAudits,
			MaxPagesPerAudit:     limits.MaxPagesPerAudit,
			MaxAIPromptsPerAudit: limits.MaxAIPromptsPerAudit,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.quotas.Create(ctx, quota); err != nil {
			return nil, err
		}
		s.logger.Info("quota initialized", "tenant_id", tenantID, "tier", tier)
		return quota, nil
	}

	if rolled := rollForward(quota.BillingCycleStart, time.Now().UTC()); rolled.After(quota.BillingCycleStart) {
		if err := s.quotas.ResetCycle(ctx, tenantID, rolled); err != nil {
			return nil, err
		}
		quota.MonthlyAuditsUsed = 0
		quota.BillingCycleStart = rolled
		s.logger.Info("billing cycle rolled over", "tenant_id", tenantID, "cycle_start", rolled)
	}

	return quota, nil
}

// CheckAndConsume verifies the tenant may start a new audit and consumes
// one unit of the monthly allowance. The concurrent check counts jobs the
// caller has not yet created, so callers must create the job after this
// returns; the window between check and create is accepted.
func (s *QuotaService) CheckAndConsume(ctx context.Context, tenantID, tier string) error {
	quota, err := s.EnsureQuota(ctx, tenantID, tier)
	if err != nil {
		return err
	}

	if quota.MonthlyAuditsLimit != constants.Unlimited && quota.MonthlyAuditsUsed >= quota.MonthlyAuditsLimit {
		return &QuotaExceededError{
			Kind:  QuotaKindMonthly,
			Tier:  quota.Tier,
			Limit: quota.MonthlyAuditsLimit,
			Used:  quota.MonthlyAuditsUsed,
		}
	}

	if quota.MaxConcurrentAudits != constants.Unlimited {
		active, err := s.jobs.CountActiveByTenantID(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to count active jobs: %w", err)
		}
		if active >= quota.MaxConcurrentAudits {
			return &QuotaExceededError{
				Kind:  QuotaKindConcurrent,
				Tier:  quota.Tier,
				Limit: quota.MaxConcurrentAudits,
				Used:  active,
			}
		}
	}

	return s.quotas.IncrementUsed(ctx, tenantID)
}

// UsageSnapshot is the view served by the usage endpoint. Remaining is
// Unlimited (-1) when the tier has no monthly cap; CanStart reports
// whether a new audit submitted now would pass both quota checks.
type UsageSnapshot struct {
	Tier               string    `json:"tier"`
	MonthlyAuditsLimit int       `json:"monthly_audits_limit"`
	MonthlyAuditsUsed  int       `json:"monthly_audits_used"`
	MonthlyRemaining   int       `json:"monthly_audits_remaining"`
	BillingCycleStart  time.Time `json:"billing_cycle_start"`
	NextReset          time.Time `json:"next_reset"`
	ActiveAudits       int       `json:"active_audits"`
	MaxConcurrent      int       `json:"max_concurrent_audits"`
	CanStart           bool      `json:"can_start"`
}

// Usage returns the tenant's current consumption against its limits.
func (s *QuotaService) Usage(ctx context.Context, tenantID, tier string) (*UsageSnapshot, error) {
	quota, err := s.EnsureQuota(ctx, tenantID, tier)
	if err != nil {
		return nil, err
	}
	active, err := s.jobs.CountActiveByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	remaining := constants.Unlimited
	monthlyOK := true
	if quota.MonthlyAuditsLimit != constants.Unlimited {
		remaining = quota.MonthlyAuditsLimit - quota.MonthlyAuditsUsed
		if remaining < 0 {
			remaining = 0
		}
		monthlyOK = remaining > 0
	}
	concurrentOK := quota.MaxConcurrentAudits == constants.Unlimited || active < quota.MaxConcurrentAudits

	return &UsageSnapshot{
		Tier:               quota.Tier,
		MonthlyAuditsLimit: quota.MonthlyAuditsLimit,
		MonthlyAuditsUsed:  quota.MonthlyAuditsUsed,
		MonthlyRemaining:   remaining,
		BillingCycleStart:  quota.BillingCycleStart,
		NextReset:          quota.BillingCycleStart.AddDate(0, 1, 0),
		ActiveAudits:       active,
		MaxConcurrent:      quota.MaxConcurrentAudits,
		CanStart:           monthlyOK && concurrentOK,
	}, nil
}

// rollForward advances cycleStart by whole months until it is the start
// of the cycle containing now. Returns cycleStart unchanged if the cycle
// has not ended yet.
func rollForward(cycleStart, now time.Time) time.Time {
	current := cycleStart
	for {
		next := current.AddDate(0, 1, 0)
		if next.After(now) {
			return current
		}
		current = next
	}
}
