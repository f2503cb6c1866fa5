package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/seoatlas/seoatlas-api/internal/constants"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// TierLimits maps tier names to their requests per minute limit.
	// A value of 0 means unlimited (no rate limiting applied).
	TierLimits map[string]int
	// IPRequestsPerMinute is a fallback rate limit by IP for requests
	// without tenant claims.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns defaults from the constants package.
func DefaultRateLimitConfig() RateLimitConfig {
	tierLimits := make(map[string]int)
	for _, tier := range []string{constants.TierBasic, constants.TierPro, constants.TierEnterprise} {
		tierLimits[tier] = constants.GetTierLimits(tier).RequestsPerMinute
	}
	return RateLimitConfig{
		TierLimits:          tierLimits,
		IPRequestsPerMinute: constants.GlobalIPRateLimitPerMinute,
	}
}

// RateLimitByTenant returns a middleware that rate limits by tenant ID.
// Apply AFTER the auth middleware. Requests without claims fall back to
// IP-based limiting, and a tier limit of 0 means unlimited.
func RateLimitByTenant(cfg RateLimitConfig) func(http.Handler) http.Handler {
	tierLimiters := make(map[string]*httprate.RateLimiter)
	for tier, limit := range cfg.TierLimits {
		if limit > 0 {
			tierLimiters[tier] = httprate.NewRateLimiter(
				limit,
				time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					claims := GetTenantClaims(r.Context())
					if claims == nil || claims.TenantID == "" {
						return httprate.KeyByIP(r)
					}
					return "tenant:" + claims.TenantID, nil
				}),
			)
		}
	}

	fallbackLimiter := httprate.NewRateLimiter(
		cfg.IPRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := constants.TierBasic
			if claims := GetTenantClaims(r.Context()); claims != nil && claims.Tier != "" {
				tier = claims.Tier
			}

			if limit, ok := cfg.TierLimits[tier]; ok && limit == 0 {
				next.ServeHTTP(w, r)
				return
			}

			limiter, ok := tierLimiters[tier]
			if !ok {
				limiter = fallbackLimiter
			}
			limiter.Handler(next).ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Useful for public endpoints or as a global fallback.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
