package auth

import (
	"chat-engine/errors"
	"chat-engine/observability"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 20
	defaultBurst = 40
	limiterTTL   = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimiterPool is a per-user token bucket pool. Entries unused for
// limiterTTL are evicted by Sweep.
type LimiterPool struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	now     func() time.Time
}

// NewLimiterPool falls back to 20 rps with bursts of 40 on non-positive values.
func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &LimiterPool{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

func (p *LimiterPool) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.entries[key] = e
	}
	e.lastSeen = p.now()
	return e.limiter.Allow()
}

// Sweep drops the limiters not used since limiterTTL and returns how many
// remain.
func (p *LimiterPool) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-limiterTTL)
	for key, e := range p.entries {
		if e.lastSeen.Before(cutoff) {
			delete(p.entries, key)
		}
	}
	return len(p.entries)
}

// RateLimit rejects requests of a user whose bucket is empty with 429. It
// must run after Middleware.
func RateLimit(pool *LimiterPool, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool.Allow(UserID(c)) {
			c.Next()
			return
		}
		metrics.IncrRateLimited()
		abort(c, http.StatusTooManyRequests, errors.ErrRateLimited)
	}
}
