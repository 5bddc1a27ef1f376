/*
Package limiter throttles new connections per client IP with a token bucket.

Each address gets its own rate.Limiter; a background sweep forgets addresses
whose bucket has refilled so the map does not grow without bound.
*/
package limiter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

const sweepInterval = 3 * time.Minute

// IPRateLimiter hands out one token bucket per client address.
type IPRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter

	r rate.Limit
	b int
}

// NewIPRateLimiter returns a limiter allowing r events per second with burst b
// per address. The idle sweep runs until ctx is cancelled.
func NewIPRateLimiter(ctx context.Context, r rate.Limit, b int) *IPRateLimiter {
	l := &IPRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
	}

	go l.sweep(ctx)

	return l
}

// Allow consumes a token for ip and reports whether the event may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.limiter(ip).Allow()
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limits[ip] = lim
	}
	return lim
}

// Len returns the number of tracked addresses.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limits)
}

func (l *IPRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, remaining := l.forgetIdle(now)
			logx.Info("connect limiter sweep finished", "removed", removed, "remaining", remaining)
		}
	}
}

// forgetIdle drops every address whose bucket is full at now.
func (l *IPRateLimiter) forgetIdle(now time.Time) (removed, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, lim := range l.limits {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limits, ip)
			removed++
		}
	}
	return removed, len(l.limits)
}

// ClientIP returns the host part of r.RemoteAddr, which chi's RealIP
// middleware has already rewritten when a proxy header is present.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if ip == "" {
		return "unknown_ip"
	}
	return ip
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !l.Allow(ip) {
			logx.Warn("connection attempt rejected: rate limit exceeded", "remote_ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
