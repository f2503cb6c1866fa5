// Package constants defines centralized configuration for tier limits,
// crawl pacing, and user-facing messages. Change values here to update
// limits across the entire application.
package constants

import (
	"fmt"
	"sync"
	"time"
)

// tiersMu protects concurrent access to the Tiers map.
var tiersMu sync.RWMutex

// Tier names
const (
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Unlimited marks a quota with no cap. Stored as-is in tenant_quotas so a
// tenant row can be upgraded without schema changes.
const Unlimited = -1

// TierLimits defines the numeric limits for a subscription tier.
type TierLimits struct {
	// DisplayName is the user-facing name for this tier.
	DisplayName string
	// Order controls the display order in pricing tables (lower = first).
	Order int
	// MonthlyAudits is the max audits per billing cycle (Unlimited = no cap).
	MonthlyAudits int
	// MaxConcurrentAudits is the max audits queued or running at once.
	MaxConcurrentAudits int
	// MaxPagesPerAudit caps how many pages the crawler visits per audit.
	MaxPagesPerAudit int
	// MaxAIPromptsPerAudit caps AI visibility probes per audit.
	MaxAIPromptsPerAudit int
	// FetchConcurrency is the number of simultaneous page fetches an
	// audit may hold.
	FetchConcurrency int
	// FetchPerHostDelay is the minimum spacing between requests to the
	// same host.
	FetchPerHostDelay time.Duration
	// FetchRequestsPerMinute caps total outbound fetches per minute
	// across all hosts (0 = uncapped).
	FetchRequestsPerMinute int
	// FetchTimeout is the per-request timeout for audited pages.
	FetchTimeout time.Duration
	// RequestsPerMinute is the API rate limit for this tier (0 = unlimited).
	RequestsPerMinute int
}

// Tiers defines limits for each subscription tier.
// To change tier limits, modify this map.
var Tiers = map[string]TierLimits{
	TierBasic: {
		DisplayName:            "Basic",
		Order:                  0,
		MonthlyAudits:          10,
		MaxConcurrentAudits:    2,
		MaxPagesPerAudit:       50,
		MaxAIPromptsPerAudit:   10,
		FetchConcurrency:       3,
		FetchPerHostDelay:      1 * time.Second,
		FetchRequestsPerMinute: 30,
		FetchTimeout:           30 * time.Second,
		RequestsPerMinute:      60,
	},
	TierPro: {
		DisplayName:            "Pro",
		Order:                  1,
		MonthlyAudits:          50,
		MaxConcurrentAudits:    5,
		MaxPagesPerAudit:       200,
		MaxAIPromptsPerAudit:   50,
		FetchConcurrency:       5,
		FetchPerHostDelay:      500 * time.Millisecond,
		FetchRequestsPerMinute: 60,
		FetchTimeout:           60 * time.Second,
		RequestsPerMinute:      300,
	},
	TierEnterprise: {
		DisplayName:            "Enterprise",
		Order:                  2,
		MonthlyAudits:          Unlimited,
		MaxConcurrentAudits:    20,
		MaxPagesPerAudit:       1000,
		MaxAIPromptsPerAudit:   200,
		FetchConcurrency:       10,
		FetchPerHostDelay:      250 * time.Millisecond,
		FetchRequestsPerMinute: 120,
		FetchTimeout:           120 * time.Second,
		RequestsPerMinute:      1000,
	},
}

// GetTierLimits returns the limits for a tier, defaulting to basic.
// Thread-safe for concurrent access.
func GetTierLimits(tier string) TierLimits {
	tiersMu.RLock()
	defer tiersMu.RUnlock()

	if limits, ok := Tiers[tier]; ok {
		return limits
	}
	return Tiers[TierBasic]
}

// Global rate limiting defaults for the HTTP edge
const (
	// GlobalIPRateLimitPerMinute is the fallback rate limit for unauthenticated requests
	GlobalIPRateLimitPerMinute = 100
	// GlobalConcurrencyLimit is the max concurrent requests the server will handle
	GlobalConcurrencyLimit = 100
	// MaxRequestBodySize is the max request body size in bytes (1MB)
	MaxRequestBodySize = 1 * 1024 * 1024
)

// Job processing defaults
const (
	// DefaultMaxAttempts is how many times a job may be claimed before it
	// is terminally failed.
	DefaultMaxAttempts = 5
	// DefaultWorkerConcurrency is the default number of worker goroutines
	DefaultWorkerConcurrency = 3
	// RequeueBackoffBase is the starting delay when a transient failure
	// sends a job back to the queue.
	RequeueBackoffBase = 30 * time.Second
	// RequeueBackoffCap bounds the exponential requeue delay.
	RequeueBackoffCap = 1 * time.Hour
	// RequeueJitterFraction is the random fraction added to requeue
	// delays so crashed batches don't thunder back together.
	RequeueJitterFraction = 0.10
)

// Webhook delivery defaults
const (
	// WebhookMaxAttempts is the total delivery attempts per webhook event.
	WebhookMaxAttempts = 5
	// WebhookResponseBodyLimit is how much of the receiver's response we
	// keep for debugging.
	WebhookResponseBodyLimit = 1024
)

// WebhookRetrySchedule is the delay before each retry attempt, indexed by
// the number of attempts already made (attempt 1 failed -> wait 60s, ...).
var WebhookRetrySchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	14400 * time.Second,
}

// QuotaExceededMessage returns a user-friendly message for monthly quota exceeded.
func QuotaExceededMessage(tier string) string {
	limits := GetTierLimits(tier)
	switch tier {
	case TierBasic:
		return fmt.Sprintf("You've reached your Basic plan limit of %d audits this billing cycle. Upgrade to Pro for %d monthly audits.",
			limits.MonthlyAudits, Tiers[TierPro].MonthlyAudits)
	case TierPro:
		return fmt.Sprintf("You've reached your Pro plan limit of %d audits this billing cycle. Upgrade to Enterprise for unlimited audits.",
			limits.MonthlyAudits)
	default:
		return "You've reached your monthly audit limit. Please contact support or upgrade your plan."
	}
}

// ConcurrentAuditLimitMessage returns a user-friendly message for the
// concurrent audit limit being exceeded.
func ConcurrentAuditLimitMessage(tier string) string {
	limits := GetTierLimits(tier)
	switch tier {
	case TierBasic:
		return fmt.Sprintf("You can only run %d audits at a time on the Basic plan. Wait for an audit to complete or upgrade to Pro for %d concurrent audits.",
			limits.MaxConcurrentAudits, Tiers[TierPro].MaxConcurrentAudits)
	case TierPro:
		return fmt.Sprintf("You've reached your Pro plan limit of %d concurrent audits. Wait for an audit to complete or upgrade to Enterprise for %d concurrent audits.",
			limits.MaxConcurrentAudits, Tiers[TierEnterprise].MaxConcurrentAudits)
	default:
		return fmt.Sprintf("You've reached your limit of %d concurrent audits. Wait for an audit to complete.",
			limits.MaxConcurrentAudits)
	}
}
