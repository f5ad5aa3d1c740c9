package conversation

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitConfig defines the per-user inbound event budget.
type LimitConfig struct {
	// Events is the number of events allowed per Window.
	Events int
	Window time.Duration
	// Burst allows temporary bursts above the steady rate.
	Burst int
}

// Limiter hands out one token bucket per user. Idle buckets are swept lazily
// while new ones are created, at most once per cleanup interval.
type Limiter struct {
	limiters sync.Map // map[string]*bucket
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

const limiterCleanupInterval = 5 * time.Minute

// NewLimiter returns nil when cfg allows unlimited events; a nil *Limiter
// allows everything.
func NewLimiter(cfg LimitConfig) *Limiter {
	if cfg.Events <= 0 || cfg.Window <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Events
	}
	return &Limiter{
		rate:        rate.Limit(float64(cfg.Events) / cfg.Window.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

type bucket struct {
	lim *rate.Limiter
	// throttled is set by the first refusal and cleared by the next admit.
	throttled atomic.Bool
}

// Allow reports whether userID may send another event now.
func (l *Limiter) Allow(userID string) bool {
	ok, _ := l.Admit(userID)
	return ok
}

// Admit is Allow that also reports whether a refusal is the first since the
// user's last admitted event, so callers can warn once per throttled run
// instead of once per dropped event.
func (l *Limiter) Admit(userID string) (allowed, first bool) {
	if l == nil {
		return true, false
	}
	b := l.get(userID)
	if b.lim.Allow() {
		b.throttled.Store(false)
		return true, false
	}
	return false, b.throttled.CompareAndSwap(false, true)
}

func (l *Limiter) get(key string) *bucket {
	if b, ok := l.limiters.Load(key); ok {
		return b.(*bucket)
	}

	actual, _ := l.limiters.LoadOrStore(key, &bucket{lim: rate.NewLimiter(l.rate, l.burst)})

	l.maybeCleanup()

	return actual.(*bucket)
}

// maybeCleanup drops buckets that are full again, i.e. users that have gone
// quiet.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < limiterCleanupInterval {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		if value.(*bucket).lim.Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}
