package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is an injected store of per-identity token buckets. The
// store is bounded: entries idle longer than ttl are evicted on the sweep,
// and when maxKeys is reached the stalest entry is dropped to make room,
// so the map cannot grow without limit with distinct identities.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit   rate.Limit
	burst   int
	maxKeys int
	ttl     time.Duration

	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing rps sustained requests with the
// given burst per identity, keeping at most maxKeys identities and
// forgetting identities idle for ttl.
func NewRateLimiter(rps float64, burst, maxKeys int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		maxKeys: maxKeys,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow reports whether the identity may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxKeys {
			rl.evictStalestLocked()
		}
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked identities.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweepLocked drops idle entries. Runs at most once per ttl so steady
// traffic does not pay for a full scan on every request.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.ttl {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.ttl {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) evictStalestLocked() {
	var stalest string
	var stalestSeen time.Time
	for key, b := range rl.buckets {
		if stalest == "" || b.lastSeen.Before(stalestSeen) {
			stalest = key
			stalestSeen = b.lastSeen
		}
	}
	if stalest != "" {
		delete(rl.buckets, stalest)
	}
}

// Limit wraps a handler, keying the bucket by authenticated user id when
// present and by remote address otherwise.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.Allow(key) {
			writeError(w, http.StatusTooManyRequests, "Too many requests, please slow down", "RATE_LIMITED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id, ok := UserID(r); ok {
		return id.Hex()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
