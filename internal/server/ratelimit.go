package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultAuthRate is the sustained per-IP request rate on auth routes.
	DefaultAuthRate = rate.Limit(1)
	// DefaultAuthBurst is the per-IP burst on auth routes.
	DefaultAuthBurst = 10

	limiterIdleTimeout     = 10 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipLimiter
	limit   rate.Limit
	burst   int
	proxies int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates a limiter and starts its idle sweep. Non-positive
// values fall back to DefaultAuthRate and DefaultAuthBurst. trustedProxies
// is the number of reverse proxies in front of the server whose
// X-Forwarded-For entries are trusted; zero keys on the remote address.
func NewIPRateLimiter(limit rate.Limit, burst, trustedProxies int) *IPRateLimiter {
	if limit <= 0 {
		limit = DefaultAuthRate
	}
	if burst <= 0 {
		burst = DefaultAuthBurst
	}

	l := &IPRateLimiter{
		clients: make(map[string]*ipLimiter),
		limit:   limit,
		burst:   burst,
		proxies: max(trustedProxies, 0),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = l.now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r, l.proxies)) {
			w.Header().Set("Retry-After", "1")
			writeErrorMessage(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the idle sweep.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.removeIdle()
		}
	}
}

func (l *IPRateLimiter) removeIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTimeout {
			delete(l.clients, ip)
		}
	}
}

// clientIP returns the address of the client that sent r. With trusted
// proxies, each appends the address it received the request from to
// X-Forwarded-For, so the client is the entry added by the outermost one.
// Without them, or when the header does not hold a valid address there,
// it is the host part of the remote address.
func clientIP(r *http.Request, trustedProxies int) string {
	if trustedProxies > 0 {
		var hops []string
		for _, header := range r.Header.Values("X-Forwarded-For") {
			for _, hop := range strings.Split(header, ",") {
				hops = append(hops, strings.TrimSpace(hop))
			}
		}
		if i := len(hops) - trustedProxies; len(hops) > 0 {
			if ip := net.ParseIP(hops[max(i, 0)]); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
