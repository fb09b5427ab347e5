package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/clave/internal/logging"
)

// RateLimitConfig holds rate limiting configuration for /auth.
type RateLimitConfig struct {
	MaxAttempts int           // Maximum attempts per window (default: 5)
	Window      time.Duration // Time window for rate limiting (default: 1 minute)
	BlockAfter  int           // Block after this many failed attempts (default: 10)
	BlockTime   time.Duration // Base block duration (default: 5 minutes, doubles each block)
}

// DefaultRateLimitConfig returns the default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts: 5,
		Window:      time.Minute,
		BlockAfter:  10,
		BlockTime:   5 * time.Minute,
	}
}

// maxBlockTime caps the exponential block duration.
const maxBlockTime = 24 * time.Hour

// rateLimiter is a per-IP sliding window limiter. Repeated failures block
// the IP with a duration that doubles every BlockAfter failures.
type rateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	log    *logging.Logger
	now    func() time.Time

	attempts map[string][]time.Time
	failures map[string]int
	blocked  map[string]time.Time // ip -> block expiry
}

func newRateLimiter(config RateLimitConfig, log *logging.Logger) *rateLimiter {
	def := DefaultRateLimitConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.BlockAfter <= 0 {
		config.BlockAfter = def.BlockAfter
	}
	if config.BlockTime <= 0 {
		config.BlockTime = def.BlockTime
	}
	if log == nil {
		log = logging.Discard()
	}

	return &rateLimiter{
		config:   config,
		log:      log,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// checkResult is the outcome of a rate limit check.
type checkResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Blocked    bool   // rejected because of repeated failures
	Reason     string // human-readable reason for rejection
}

// retryAfterHeader formats RetryAfter in whole seconds, rounding up.
func (r checkResult) retryAfterHeader() string {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// check records an attempt from ip if it is allowed.
func (rl *rateLimiter) check(ip string) checkResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if expiry, ok := rl.blocked[ip]; ok {
		if now.Before(expiry) {
			remaining := expiry.Sub(now)
			rl.log.Debug("auth attempt blocked", "ip", ip, "failures", rl.failures[ip], "retry_after", remaining)
			return checkResult{RetryAfter: remaining, Blocked: true, Reason: "too many failed attempts"}
		}
		delete(rl.blocked, ip)
	}

	recent := rl.pruneLocked(ip, now)
	if len(recent) >= rl.config.MaxAttempts {
		retryAfter := recent[0].Add(rl.config.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		rl.log.Debug("auth attempt rate limited", "ip", ip, "attempts", len(recent), "retry_after", retryAfter)
		return checkResult{RetryAfter: retryAfter, Reason: "rate limit exceeded"}
	}

	rl.attempts[ip] = append(recent, now)
	return checkResult{Allowed: true}
}

// pruneLocked drops attempts outside the window and returns the rest.
func (rl *rateLimiter) pruneLocked(ip string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.config.Window)
	timestamps := rl.attempts[ip]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(rl.attempts, ip)
		return nil
	}
	rl.attempts[ip] = kept
	return kept
}

// recordSuccess clears the failure history of ip.
func (rl *rateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.failures, ip)
	delete(rl.blocked, ip)
}

// recordFailure counts a failed password. From BlockAfter failures on, ip
// is blocked for BlockTime * 2^((failures-BlockAfter)/BlockAfter).
func (rl *rateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.failures[ip]++
	count := rl.failures[ip]
	if count < rl.config.BlockAfter {
		return
	}

	doublings := (count - rl.config.BlockAfter) / rl.config.BlockAfter
	duration := maxBlockTime
	if doublings < 16 {
		duration = min(rl.config.BlockTime*time.Duration(1<<doublings), maxBlockTime)
	}

	rl.blocked[ip] = rl.now().Add(duration)
	rl.log.Warn("auth blocked ip", "ip", ip, "failures", count, "duration", duration)
}

// cleanup removes expired entries. Failure counts survive while the IP is
// blocked or still has attempts in the window.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip := range rl.attempts {
		rl.pruneLocked(ip, now)
	}
	for ip, expiry := range rl.blocked {
		if now.After(expiry) {
			delete(rl.blocked, ip)
		}
	}
	for ip := range rl.failures {
		_, blocked := rl.blocked[ip]
		_, active := rl.attempts[ip]
		if !blocked && !active {
			delete(rl.failures, ip)
		}
	}
}

// extractIP returns the client IP, preferring X-Forwarded-For (first hop)
// and X-Real-IP over the remote address.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
