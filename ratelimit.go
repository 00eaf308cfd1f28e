package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// MinRequestSpacing is the minimum delay between requests to the same provider
const MinRequestSpacing = 100 * time.Millisecond

// rateLimitInfo is quota feedback learned from a provider's response headers.
type rateLimitInfo struct {
	remaining    int
	hasRemaining bool
	limit        int
	hasLimit     bool
	resetAt      float64
	lastUpdated  time.Time
}

// providerLimitState tracks pacing state for one provider. Each provider has
// its own mutex so unrelated providers never serialize on each other.
type providerLimitState struct {
	mu          sync.Mutex
	lastRequest time.Time
	info        rateLimitInfo
	hasInfo     bool
}

// AdaptiveRateLimiter paces outbound calls per provider. Pacing adapts to
// quota feedback from response headers; rate-limit rejections get exponential
// backoff with jitter. State is shared across all concurrent sessions.
type AdaptiveRateLimiter struct {
	mu        sync.Mutex
	providers map[string]*providerLimitState

	lowWater    float64
	base        time.Duration
	maxAttempts int

	// sleep is stubbed in tests to avoid real delays
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdaptiveRateLimiter creates a rate limiter from the council configuration.
func NewAdaptiveRateLimiter(cfg *CouncilConfig) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		providers:   make(map[string]*providerLimitState),
		lowWater:    cfg.RateLimitLowWater,
		base:        cfg.BackoffBase(),
		maxAttempts: cfg.Backoff.MaxAttempts,
		sleep:       sleepContext,
	}
}

// state returns the per-provider state, creating it on first use.
func (l *AdaptiveRateLimiter) state(provider string) *providerLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.providers[provider]
	if !ok {
		st = &providerLimitState{}
		l.providers[provider] = st
	}
	return st
}

// Acquire blocks until a call to the provider is permitted. When the last
// known remaining quota is at or below the low-water mark it inserts a
// proactive delay; otherwise it only enforces minimum request spacing.
// Without any quota signal no artificial delay is added.
func (l *AdaptiveRateLimiter) Acquire(ctx context.Context, provider string) error {
	st := l.state(provider)

	st.mu.Lock()
	now := time.Now()
	var delay time.Duration

	if st.hasInfo && st.info.hasRemaining {
		limit := 100
		if st.info.hasLimit {
			limit = st.info.limit
		}
		if float64(st.info.remaining) <= float64(limit)*l.lowWater {
			// Close to the quota: back off 1-1.5s before the next call.
			delay = time.Second + time.Duration(rand.Float64()*float64(500*time.Millisecond))
			log.Printf("Rate limit low for %s: %d/%d remaining, adding %v delay",
				provider, st.info.remaining, limit, delay.Round(time.Millisecond))
		}
	}

	if delay == 0 && !st.lastRequest.IsZero() {
		if elapsed := now.Sub(st.lastRequest); elapsed < MinRequestSpacing {
			delay = MinRequestSpacing - elapsed
		}
	}

	// Reserve the slot before sleeping so concurrent acquirers for the same
	// provider space out behind this one.
	st.lastRequest = now.Add(delay)
	st.mu.Unlock()

	if delay > 0 {
		return l.sleep(ctx, delay)
	}
	return nil
}

// Observe records quota feedback from a provider's response headers.
// Recognizes X-RateLimit-Remaining / X-RateLimit-Limit / X-RateLimit-Reset
// (header lookup is case-insensitive, so the unprefixed RateLimit-* variants
// need their own lookups only for the name difference).
func (l *AdaptiveRateLimiter) Observe(provider string, headers http.Header) {
	info := rateLimitInfo{lastUpdated: time.Now()}

	if v := headerValue(headers, "X-RateLimit-Remaining", "RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.remaining = n
			info.hasRemaining = true
		}
	}
	if v := headerValue(headers, "X-RateLimit-Limit", "RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.limit = n
			info.hasLimit = true
		}
	}
	if v := headerValue(headers, "X-RateLimit-Reset", "RateLimit-Reset"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			info.resetAt = f
		}
	}

	if !info.hasRemaining && !info.hasLimit && info.resetAt == 0 {
		return
	}

	st := l.state(provider)
	st.mu.Lock()
	st.info = info
	st.hasInfo = true
	st.mu.Unlock()

	if info.hasRemaining {
		log.Printf("Rate limit update for %s: %d/%d remaining", provider, info.remaining, info.limit)
	}
}

// BackoffBaseDelay returns the pre-jitter backoff delay for the given
// 0-indexed attempt: base * 2^attempt.
func (l *AdaptiveRateLimiter) BackoffBaseDelay(attempt int) time.Duration {
	return l.base << uint(attempt)
}

// BackoffDelay returns the backoff delay for a retried call: the base delay
// plus uniform jitter in [0, base/2) to avoid synchronized retries.
func (l *AdaptiveRateLimiter) BackoffDelay(attempt int) time.Duration {
	base := l.BackoffBaseDelay(attempt)
	jitter := time.Duration(rand.Float64() * float64(base) / 2)
	return base + jitter
}

// OnRejected handles a rate-limit rejection for the given 0-indexed attempt.
// It sleeps for the computed backoff (or the provider's Retry-After if that is
// longer) and reports whether the caller should retry. Exceeding the attempt
// ceiling returns false without sleeping.
func (l *AdaptiveRateLimiter) OnRejected(ctx context.Context, provider string, attempt int, retryAfter time.Duration) (bool, error) {
	if attempt >= l.maxAttempts {
		log.Printf("Max retries (%d) exceeded for %s, giving up", l.maxAttempts, provider)
		return false, nil
	}

	delay := l.BackoffDelay(attempt)
	if retryAfter > delay {
		delay = retryAfter
	}

	log.Printf("Rate limit hit for %s, retry %d/%d in %v",
		provider, attempt+1, l.maxAttempts, delay.Round(time.Millisecond))

	if err := l.sleep(ctx, delay); err != nil {
		return false, err
	}
	return true, nil
}

func headerValue(headers http.Header, names ...string) string {
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
