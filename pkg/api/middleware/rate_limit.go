package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/necyber/elephie/pkg/api/response"
)

const limiterIdleTTL = 3 * time.Minute

// RateLimiter manages rate limiting per client.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*visitor
	rate       rate.Limit
	burst      int
	maxClients int
	now        func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per client
// with the given burst. maxClients bounds the tracked clients; zero means
// unbounded.
func NewRateLimiter(requestsPerSecond float64, burst, maxClients int) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(requestsPerSecond)))
	}
	return &RateLimiter{
		limiters:   make(map[string]*visitor),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		maxClients: maxClients,
		now:        time.Now,
	}
}

// getLimiter gets or creates a limiter for a client.
func (rl *RateLimiter) getLimiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.limiters[clientID]
	if !exists {
		if rl.maxClients > 0 && len(rl.limiters) >= rl.maxClients {
			rl.sweepLocked(now)
			if len(rl.limiters) >= rl.maxClients {
				rl.evictOldestLocked()
			}
		}
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[clientID] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Allow reports whether clientID may make a request now. When it may not,
// the returned duration is the wait before the next token.
func (rl *RateLimiter) Allow(clientID string) (bool, time.Duration) {
	limiter := rl.getLimiter(clientID)
	if limiter.Allow() {
		return true, 0
	}
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return false, delay
}

// Sweep drops clients idle for longer than the idle TTL.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.sweepLocked(rl.now())
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Run sweeps idle clients every minute until ctx ends.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

func (rl *RateLimiter) sweepLocked(now time.Time) int {
	dropped := 0
	for id, v := range rl.limiters {
		if now.Sub(v.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, id)
			dropped++
		}
	}
	return dropped
}

func (rl *RateLimiter) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, v := range rl.limiters {
		if oldestID == "" || v.lastSeen.Before(oldest) {
			oldestID, oldest = id, v.lastSeen
		}
	}
	delete(rl.limiters, oldestID)
}

// RateLimit enforces rl per client. Authenticated callers are keyed by
// username, others by remote IP.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := rl.Allow(clientID(r))
			if !ok {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				response.Error(w, http.StatusTooManyRequests, response.ErrCodeTooManyRequests, "Rate limit exceeded", requestIDOrUnknown(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientID(r *http.Request) string {
	if user := Username(r.Context()); user != "" {
		return "user:" + user
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
