package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/manualrag-go/internal/logging"
)

// Per-client defaults for the manual routes. Every upload, query and answer
// reaches at least the embedder, so clients share one token bucket across
// the three routes.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
	limiterIdleTTL   = 5 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keys token buckets by remote IP.
type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientBucket
}

// newRateLimiter returns a limiter whose idle buckets are swept every
// minute, plus the func that stops the sweeper.
func newRateLimiter(rps float64, burst int) (*rateLimiter, func()) {
	rl := &rateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*clientBucket),
	}

	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-tick.C:
				rl.evict(now)
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

func (rl *rateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.limiters[ip]
	if b == nil {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// evict forgets clients not seen within limiterIdleTTL of now.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, b := range rl.limiters {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, ip)
		}
	}
}

// middleware answers 429 with a Retry-After hint once a client's bucket is
// empty.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.getLimiter(ip).Allow() {
			next.ServeHTTP(w, r)
			return
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
}

// retryAfter is the refill time of one token in whole seconds, clamped to
// [1, 60].
func (rl *rateLimiter) retryAfter() int {
	if rl.rps <= 0 {
		return 60
	}
	return max(1, min(int(math.Ceil(1/float64(rl.rps))), 60))
}

// clientIP strips the port from RemoteAddr. Forwarding headers are ignored.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
