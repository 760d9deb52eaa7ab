package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const maxTrackedCallers = 100_000

// RateLimiter throttles callers with a token bucket each. Identified callers
// are keyed by user id; anonymous requests by remote address.
type RateLimiter struct {
	perSecond float64
	burst     float64

	mu      sync.Mutex
	callers map[string]*tokens
	now     func() time.Time
}

type tokens struct {
	level  float64
	refill time.Time
}

// take refills the bucket up to burst and spends one token. When empty it
// reports how long until the next token arrives.
func (t *tokens) take(now time.Time, perSecond, burst float64) (time.Duration, bool) {
	t.level = math.Min(burst, t.level+now.Sub(t.refill).Seconds()*perSecond)
	t.refill = now
	if t.level < 1 {
		return time.Duration((1 - t.level) / perSecond * float64(time.Second)), false
	}
	t.level--
	return 0, true
}

// NewRateLimiter allows perSecond sustained requests with bursts up to burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		perSecond: perSecond,
		burst:     float64(burst),
		callers:   make(map[string]*tokens),
		now:       time.Now,
	}
}

// Handler enforces the limit. Mount it after Identity so requests are keyed
// by user.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		left, wait, ok := rl.spend(callerKey(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(left))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) spend(key string) (int, time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.callers[key]
	if !ok {
		if len(rl.callers) >= maxTrackedCallers {
			return 0, time.Second, false
		}
		b = &tokens{level: rl.burst, refill: now}
		rl.callers[key] = b
	}
	wait, allowed := b.take(now, rl.perSecond, rl.burst)
	return int(b.level), wait, allowed
}

// StartCleanup forgets callers idle for longer than maxIdle, checking every
// interval. The returned func stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for key, b := range rl.callers {
		if b.refill.Before(cutoff) {
			delete(rl.callers, key)
		}
	}
}

// Len reports how many callers are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}

// callerKey ignores X-Forwarded-For and friends; they are client controlled.
func callerKey(r *http.Request) string {
	if c, ok := CallerFromContext(r.Context()); ok {
		return "user:" + c.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
