package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of counting one request against a limit.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key. Implementations may be shared between
// API replicas.
type Limiter interface {
	Take(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of one counting window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. ClientKey when nil.
	KeyFunc func(*http.Request) string
	// Limiter counts requests. An in-process sliding window when nil.
	Limiter Limiter
}

// RateLimit returns a middleware that rejects requests over the limit with
// 429 and the API error envelope. Every counted response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
//
// Limiter errors fail open: the request is served and the error logged.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewMemoryLimiter(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			d, err := cfg.Limiter.Take(ctx, cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(ctx).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithCleanup is RateLimit with an in-process limiter whose stale
// keys are swept until ctx is done. A configured Limiter is used as is.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		m := NewMemoryLimiter(cfg.Max, cfg.Window)
		go m.Run(ctx)
		cfg.Limiter = m
	}
	return RateLimit(cfg)
}

// window counts requests of one key in the current and previous window.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// MemoryLimiter is a sliding window limiter local to the process. The
// previous window's count is weighted by how much of it the sliding window
// still covers.
type MemoryLimiter struct {
	max    int
	period time.Duration

	mu   sync.Mutex
	keys map[string]*window
}

// NewMemoryLimiter allows limit requests per period and key.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: limit, period: period, keys: make(map[string]*window)}
}

// Take counts one request for key at now.
func (m *MemoryLimiter) Take(_ context.Context, key string, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := now.Truncate(m.period)
	w, ok := m.keys[key]
	switch {
	case !ok:
		w = &window{start: start}
		m.keys[key] = w
	case start.Sub(w.start) == m.period:
		w.prev, w.curr, w.start = w.curr, 0, start
	case start.After(w.start):
		w.prev, w.curr, w.start = 0, 0, start
	}

	covered := 1 - float64(now.Sub(start))/float64(m.period)
	used := w.prev*covered + w.curr
	d := Decision{ResetAt: start.Add(m.period)}
	if used+1 > float64(m.max) {
		return d, nil
	}
	w.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(m.max)-used-1), 0)
	return d, nil
}

// Sweep forgets keys idle for two full periods.
func (m *MemoryLimiter) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, w := range m.keys {
		if now.Sub(w.start) >= 2*m.period {
			delete(m.keys, key)
		}
	}
}

// Run sweeps every two periods until ctx is done.
func (m *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// ClientKey limits API key holders per key and anonymous callers per IP.
// Only a digest of the key is kept.
func ClientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + clientIP(r)
}

// clientIP returns the first X-Forwarded-For hop, X-Real-IP or the peer
// address, in that order.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
