package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func serve(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	clock := newClock()
	h := RateLimit(t.Context(), RateLimitConfig{Max: 5, Window: time.Minute, Now: clock.Now})(okHandler())

	for i := range 5 {
		w := serve(h, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, itoa(4-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	clock := newClock()
	h := RateLimit(t.Context(), RateLimitConfig{Max: 2, Window: time.Minute, Now: clock.Now})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:9999").Code)
	}

	w := serve(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:9999").Code)
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	clock := newClock()
	h := RateLimit(t.Context(), RateLimitConfig{Max: 4, Window: time.Minute, Now: clock.Now})(okHandler())

	for range 4 {
		require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:1").Code)

	// Half a window into the next window, the previous count weighs 50%.
	clock.Advance(90 * time.Second)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:1").Code)

	// Two full windows later everything is forgotten.
	clock.Advance(3 * time.Minute)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
}

func TestRateLimit_KeyFunc(t *testing.T) {
	clock := newClock()
	h := RateLimit(t.Context(), RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		Now:     clock.Now,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") },
	})(okHandler())

	req := func(key string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("api_key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, req("a"))
	assert.Equal(t, http.StatusTooManyRequests, req("a"))
	assert.Equal(t, http.StatusOK, req("b"))
}

func TestLimiter_Evict(t *testing.T) {
	clock := newClock()
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Now: clock.Now})
	l.take("a", clock.Now())
	l.take("b", clock.Now())

	assert.Zero(t, l.evict(clock.Now().Add(time.Minute)))
	assert.Equal(t, 2, l.evict(clock.Now().Add(2*time.Minute)))
	assert.Empty(t, l.counters)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded list", headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, remote: "9.9.9.9:1", want: "1.1.1.1"},
		{name: "forwarded single", headers: map[string]string{"X-Forwarded-For": " 3.3.3.3 "}, remote: "9.9.9.9:1", want: "3.3.3.3"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "4.4.4.4"}, remote: "9.9.9.9:1", want: "4.4.4.4"},
		{name: "remote addr", remote: "5.5.5.5:8080", want: "5.5.5.5"},
		{name: "remote without port", remote: "6.6.6.6", want: "6.6.6.6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}
