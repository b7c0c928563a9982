package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 2, 0)
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "other clients have their own bucket")
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 1, 0)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1:1234").Code)

	w := do("192.0.2.1:5678")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded. Please try again later."}`, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2:1234").Code)
}

func TestIPRateLimiter_RemoveIdle(t *testing.T) {
	l := NewIPRateLimiter(0, 0, 0)
	defer l.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(limiterIdleTimeout / 2)
	l.Allow("10.0.0.2")
	now = now.Add(limiterIdleTimeout/2 + time.Second)

	l.removeIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "10.0.0.1")
	assert.Contains(t, l.clients, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remote         string
		forwardedFor   []string
		trustedProxies int
		want           string
	}{
		{name: "ipv4", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "no port", remote: "garbage", want: "garbage"},
		{
			name:         "header ignored without trusted proxies",
			remote:       "10.0.0.1:1234",
			forwardedFor: []string{"198.51.100.7"},
			want:         "10.0.0.1",
		},
		{
			name:           "one proxy",
			remote:         "10.0.0.1:1234",
			forwardedFor:   []string{"203.0.113.9, 198.51.100.7"},
			trustedProxies: 1,
			want:           "198.51.100.7",
		},
		{
			name:           "two proxies across headers",
			remote:         "10.0.0.1:1234",
			forwardedFor:   []string{"203.0.113.9, 198.51.100.7", "10.0.0.2"},
			trustedProxies: 2,
			want:           "198.51.100.7",
		},
		{
			name:           "fewer hops than proxies",
			remote:         "10.0.0.1:1234",
			forwardedFor:   []string{"198.51.100.7"},
			trustedProxies: 3,
			want:           "198.51.100.7",
		},
		{
			name:           "invalid entry",
			remote:         "10.0.0.1:1234",
			forwardedFor:   []string{"not-an-ip"},
			trustedProxies: 1,
			want:           "10.0.0.1",
		},
		{
			name:           "missing header",
			remote:         "10.0.0.1:1234",
			trustedProxies: 1,
			want:           "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.forwardedFor {
				r.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, clientIP(r, tt.trustedProxies))
		})
	}
}

func TestIPRateLimiter_MiddlewareBehindProxy(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 1, 1)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(client string) int {
		r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("198.51.100.7"))
	assert.Equal(t, http.StatusNoContent, do("198.51.100.8"), "clients behind the same proxy have their own bucket")
	assert.Equal(t, http.StatusTooManyRequests, do("198.51.100.7"))
}
