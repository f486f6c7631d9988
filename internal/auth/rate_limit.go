package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"citeo/internal/observability"
)

const defaultRateLimitMemory = 5000

// EndpointToken is the limiter key for token exchange, counted per client IP.
const EndpointToken = "auth.token"

// Limit is a ceiling of Max requests per fixed Window.
type Limit struct {
	Max    int
	Window time.Duration
}

func (l Limit) normalized() Limit {
	if l.Max <= 0 {
		l.Max = 10
	}
	if l.Window <= 0 {
		l.Window = time.Minute
	}
	return l
}

type counterKey struct {
	caller   string
	endpoint string
}

type windowCounter struct {
	start time.Time
	count int
}

// RateLimiter counts requests per (caller, endpoint) in fixed windows aligned
// to the window length. A boundary can admit up to twice the ceiling in a
// short span; that is acceptable for an abuse guard.
type RateLimiter struct {
	mu        sync.Mutex
	fallback  Limit
	limits    map[string]Limit
	counters  map[counterKey]*windowCounter
	maxMemory int
	now       func() time.Time
}

func NewRateLimiter(fallback Limit, perEndpoint map[string]Limit) *RateLimiter {
	limits := make(map[string]Limit, len(perEndpoint))
	for endpoint, limit := range perEndpoint {
		limits[endpoint] = limit.normalized()
	}

	return &RateLimiter{
		fallback:  fallback.normalized(),
		limits:    limits,
		counters:  make(map[counterKey]*windowCounter),
		maxMemory: defaultRateLimitMemory,
		now:       time.Now,
	}
}

func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Allow counts one request. When the ceiling is reached it returns false and
// the time left until the window resets.
func (l *RateLimiter) Allow(caller, endpoint string) (bool, time.Duration) {
	limit := l.limitFor(endpoint)
	now := l.now()
	start := now.Truncate(limit.Window)
	key := counterKey{caller: caller, endpoint: endpoint}

	l.mu.Lock()
	defer l.mu.Unlock()

	counter, ok := l.counters[key]
	if !ok || !counter.start.Equal(start) {
		l.counters[key] = &windowCounter{start: start, count: 1}
		if len(l.counters) > l.maxMemory {
			l.sweepLocked(now)
		}
		return true, 0
	}

	if counter.count < limit.Max {
		counter.count++
		return true, 0
	}

	return false, start.Add(limit.Window).Sub(now)
}

// RetryAfterSeconds reports how long caller must wait on endpoint, or 0 when
// the next request would be allowed. It does not count a request.
func (l *RateLimiter) RetryAfterSeconds(caller, endpoint string) int {
	limit := l.limitFor(endpoint)
	now := l.now()
	start := now.Truncate(limit.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	counter, ok := l.counters[counterKey{caller: caller, endpoint: endpoint}]
	if !ok || !counter.start.Equal(start) || counter.count < limit.Max {
		return 0
	}
	return ceilSeconds(start.Add(limit.Window).Sub(now))
}

// Purge drops counters whose window has ended.
func (l *RateLimiter) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sweepLocked(l.now())
}

func (l *RateLimiter) limitFor(endpoint string) Limit {
	if limit, ok := l.limits[endpoint]; ok {
		return limit
	}
	return l.fallback
}

func (l *RateLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, counter := range l.counters {
		if !now.Before(counter.start.Add(l.limitFor(key.endpoint).Window)) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// LimitByClientIP guards a public endpoint, where no identity exists yet,
// by client address. trustProxy should only be set behind a proxy that
// appends to X-Forwarded-For.
func LimitByClientIP(limiter *RateLimiter, endpoint string, trustProxy bool, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := limiter.Allow(observability.ClientIP(r, trustProxy), endpoint)
		if !allowed {
			metrics.RecordRateLimited(endpoint)
			writeRateLimited(w, RateLimitedError{Endpoint: endpoint, RetryAfter: retryAfter})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, err RateLimitedError) {
	seconds := err.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": seconds,
	})
}
