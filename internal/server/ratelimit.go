package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const bucketTTL = 5 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	buckets   map[string]*bucket
	swept     time.Time
	now       func() time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &rateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		buckets:   map[string]*bucket{},
		now:       time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > bucketTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP keys on the peer address. Forwarding headers only count when
// middleware.RealIP runs ahead of the limiter.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
