package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/constants"
)

// Limiter bounds outbound crawl pressure three ways: a semaphore caps
// the number of in-flight fetches, a per-host ledger enforces minimum
// spacing between requests to the same host, and a global ledger caps
// total requests per minute.
type Limiter struct {
	sem            chan struct{}
	perHostDelay   time.Duration
	requestSpacing time.Duration

	mu         sync.Mutex
	nextSlot   map[string]time.Time
	nextGlobal time.Time
}

// NewLimiter creates a Limiter allowing concurrency simultaneous
// fetches, at most one request per host every perHostDelay, and at most
// perMinute requests per minute overall (0 = uncapped).
func NewLimiter(concurrency int, perHostDelay time.Duration, perMinute int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}
	var spacing time.Duration
	if perMinute > 0 {
		spacing = time.Minute / time.Duration(perMinute)
	}
	return &Limiter{
		sem:            make(chan struct{}, concurrency),
		perHostDelay:   perHostDelay,
		requestSpacing: spacing,
		nextSlot:       make(map[string]time.Time),
	}
}

// NewLimiterForTier creates a Limiter with the tier's crawl pacing.
func NewLimiterForTier(tier string) *Limiter {
	limits := constants.GetTierLimits(tier)
	return NewLimiter(limits.FetchConcurrency, limits.FetchPerHostDelay, limits.FetchRequestsPerMinute)
}

// Acquire blocks until a concurrency slot is free, the host's spacing
// window has passed, and the per-minute budget allows another request.
// On success the caller must Release.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wait := l.reserve(host)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		<-l.sem
		return ctx.Err()
	}
}

// Release returns the concurrency slot.
func (l *Limiter) Release() {
	<-l.sem
}

// reserve claims the host's next request slot plus a global slot and
// returns how long the caller must wait for both. Claiming under the
// lock keeps concurrent fetchers spaced even before they sleep.
func (l *Limiter) reserve(host string) time.Duration {
	if l.perHostDelay <= 0 && l.requestSpacing <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var wait time.Duration

	if l.perHostDelay > 0 {
		slot := l.nextSlot[host]
		if slot.Before(now) {
			slot = now
		}
		l.nextSlot[host] = slot.Add(l.perHostDelay)
		wait = slot.Sub(now)
	}

	if l.requestSpacing > 0 {
		slot := l.nextGlobal
		if slot.Before(now) {
			slot = now
		}
		l.nextGlobal = slot.Add(l.requestSpacing)
		if w := slot.Sub(now); w > wait {
			wait = w
		}
	}

	return wait
}
