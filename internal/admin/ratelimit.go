package admin

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	// cleanupInterval is how often the background goroutine sweeps stale entries.
	cleanupInterval = 1 * time.Minute
)

// endpointLimit defines rate limit parameters for an endpoint pattern.
type endpointLimit struct {
	rps   rate.Limit
	burst int
}

// limiterEntry wraps a rate.Limiter with a last-accessed timestamp for
// TTL-based eviction.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware provides per-endpoint, per-IP rate limiting for the
// admin API. The credential and enable endpoints are throttled hard because
// each request carries a passphrase attempt.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "endpoint|clientIP"
	rules    []endpointRule
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable clock for testing
	stopOnce sync.Once
	stopCh   chan struct{}
}

type endpointRule struct {
	method string // "POST", "DELETE", "GET", "" (any)
	prefix string // path prefix to match
	limit  endpointLimit
}

// NewRateLimitMiddleware creates a rate limiting middleware with default
// rules and starts a background goroutine that cleans up stale per-IP
// limiters. Call Stop() to release the goroutine.
func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		logger:   logger,
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			{method: "POST", prefix: "/api/v1/engine/enable", limit: endpointLimit{rps: rate.Limit(5.0 / 60), burst: 3}},  // 5 req/min
			{method: "POST", prefix: "/api/v1/credentials", limit: endpointLimit{rps: rate.Limit(5.0 / 60), burst: 2}},    // 5 req/min
			{method: "DELETE", prefix: "/api/v1/credentials", limit: endpointLimit{rps: rate.Limit(5.0 / 60), burst: 2}},  // 5 req/min
			{method: "POST", prefix: "/api/v1/engine/sweep", limit: endpointLimit{rps: rate.Limit(1.0 / 60), burst: 1}},   // 1 req/min
			{method: "", prefix: "", limit: endpointLimit{rps: 1, burst: 5}},                                              // default: 60 req/min
		},
	}

	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the background cleanup goroutine. Safe to call multiple times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

// evictStale removes limiter entries that have not been accessed within the TTL.
func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// matchRule finds the first rule matching the request. The catch-all rule at
// the end of the list always matches.
func (rl *RateLimitMiddleware) matchRule(r *http.Request) endpointRule {
	for _, rule := range rl.rules {
		if rule.method != "" && rule.method != r.Method {
			continue
		}
		if strings.HasPrefix(r.URL.Path, rule.prefix) {
			return rule
		}
	}
	return rl.rules[len(rl.rules)-1]
}

func (rl *RateLimitMiddleware) limiterFor(rule endpointRule, clientIP string) *rate.Limiter {
	key := fmt.Sprintf("%s %s|%s", rule.method, rule.prefix, clientIP)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rule.limit.rps, rule.limit.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = rl.nowFunc()
	return entry.limiter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Wrap applies rate limiting to the handler.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := rl.matchRule(r)
		ip := clientIP(r)
		if !rl.limiterFor(rule, ip).Allow() {
			rl.logger.Warn("admin API rate limit exceeded",
				"method", r.Method, "path", r.URL.Path, "client_ip", ip)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
