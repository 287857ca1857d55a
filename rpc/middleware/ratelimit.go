package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"brokerfund/observability"
)

// RateLimit bounds the request rate of a single client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client. Authenticated callers are
// keyed by address, anonymous ones by IP.
type RateLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
	idleTTL  time.Duration
}

// NewRateLimiter returns a limiter enforcing limit.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
		idleTTL:  5 * time.Minute,
	}
}

// Middleware rejects requests once the client exhausts its bucket.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		if !r.allow(clientID(req)) {
			observability.ModuleMetrics().RecordThrottle("api", "rate_limit")
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) allow(id string) bool {
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictIdle(now)
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := r.limit.RequestsPerMinute / 60.0
		burst := r.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (r *RateLimiter) evictIdle(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if caller, ok := Caller(r.Context()); ok {
		return "addr:" + string(caller[:])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
