package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/fursona/pkg/auth"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate (token bucket only)
	BurstSize int
}

// PerMinute returns a config allowing n requests a minute
func PerMinute(n int) *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-memory token bucket limiter
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = PerMinute(60)
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// tokensFor returns the tokens refilled over d
func (rl *RateLimiter) tokensFor(d time.Duration) float64 {
	return float64(d) * float64(rl.config.RequestsPerWindow) / float64(rl.config.WindowDuration)
}

// durationFor returns the time needed to refill n tokens
func (rl *RateLimiter) durationFor(n float64) time.Duration {
	return time.Duration(n * float64(rl.config.WindowDuration) / float64(rl.config.RequestsPerWindow))
}

// Allow takes one token from key's bucket
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}

	// refill
	b.tokens = math.Min(rl.capacity(), b.tokens+rl.tokensFor(now.Sub(b.lastUpdate)))
	b.lastUpdate = now

	d := Decision{Limit: rl.config.RequestsPerWindow}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d, nil
	}

	d.RetryAfter = rl.durationFor(1 - b.tokens)
	return d, nil
}

// Cleanup removes buckets that have been full for a while
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// KeyFunc derives the rate limit key of a request
type KeyFunc func(r *http.Request) string

// UserOrIPKey keys authenticated requests by user and others by client IP
func UserOrIPKey(r *http.Request) string {
	if id, ok := UserID(r); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + auth.ClientIP(r)
}

// RateLimit limits requests with limiter, keyed by UserOrIPKey. name labels
// the metric. metrics may be nil.
func RateLimit(name string, limiter Limiter, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return RateLimitWithKey(name, limiter, UserOrIPKey, metrics)
}

// RateLimitWithKey is RateLimit with a custom key function
func RateLimitWithKey(name string, limiter Limiter, keyFn KeyFunc, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), keyFn(r))
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("limiter", name).
					Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				if metrics != nil {
					metrics.RateLimitedTotal.WithLabelValues(name).Inc()
				}
				retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteErrorFields(w, http.StatusTooManyRequests, "Too many requests", map[string]interface{}{
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
