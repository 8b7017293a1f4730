package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for IPs
type RateLimiter struct {
	ips   map[string]*visitor
	mu    sync.Mutex
	limit rate.Limit
	burst int
	now   func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per IP
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return newRateLimiter(rate.Limit(rps), burst)
}

// NewPerMinuteLimiter creates a limiter allowing perMinute requests per
// minute per IP
func NewPerMinuteLimiter(perMinute float64, burst int) *RateLimiter {
	return newRateLimiter(rate.Limit(perMinute/60), burst)
}

func newRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		ips:   make(map[string]*visitor),
		limit: limit,
		burst: burst,
		now:   time.Now,
	}
}

// GetLimiter returns a limiter for an IP
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.ips[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.ips[ip] = v
	}
	v.lastSeen = rl.now()

	return v.limiter
}

// Prune drops limiters not used for longer than idle
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	n := 0
	for ip, v := range rl.ips {
		if v.lastSeen.Before(cutoff) {
			delete(rl.ips, ip)
			n++
		}
	}
	return n
}

// Run prunes idle limiters every interval until ctx is done
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(interval)
		}
	}
}

// RateLimitMiddleware creates a middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.GetLimiter(getClientIP(r))
			if !limiter.Allow() {
				if rl.limit > 0 {
					retry := time.Duration(float64(time.Second) / float64(rl.limit))
					w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				}
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
