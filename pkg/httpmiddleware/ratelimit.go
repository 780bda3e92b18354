package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window for one key.
	Max    int
	Window time.Duration
	// KeyFunc picks the bucket of a request. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Now defaults to time.Now.
	Now func() time.Time
}

// counter approximates a sliding window from two fixed windows: the
// previous count is weighted by how much of it still overlaps.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

func (c *counter) advance(now time.Time, window time.Duration) {
	switch elapsed := now.Sub(c.start); {
	case elapsed < window:
		return
	case elapsed < 2*window:
		c.prev = c.curr
	default:
		c.prev = 0
	}
	c.curr = 0
	c.start = now.Truncate(window)
}

func (c *counter) estimate(now time.Time, window time.Duration) float64 {
	overlap := 1 - now.Sub(c.start).Seconds()/window.Seconds()
	return c.prev*max(overlap, 0) + c.curr
}

// limiter holds per-key counters.
type limiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &limiter{cfg: cfg, counters: make(map[string]*counter)}
}

// take consumes one request for key if the limit allows it.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counters[key]
	if c == nil {
		c = &counter{start: now.Truncate(l.cfg.Window)}
		l.counters[key] = c
	}
	c.advance(now, l.cfg.Window)

	used := c.estimate(now, l.cfg.Window)
	reset = c.start.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	c.curr++
	return max(l.cfg.Max-int(math.Ceil(used+1)), 0), reset, true
}

// evict drops counters idle for two windows.
func (l *limiter) evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.cfg.Window {
			delete(l.counters, key)
			n++
		}
	}
	return n
}

func (l *limiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// RateLimit limits requests per key and answers 429 with Retry-After once a
// key is over the limit. Every response carries the X-RateLimit-* headers.
// Idle counters are evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.runEviction(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := l.cfg.Now()
			remaining, reset, ok := l.take(l.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(reset.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
