package intake

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	throttleCapacity = 10000
	throttleIdleTTL  = time.Minute
)

// Throttler limits how fast a single user may push messages into the bridge.
// Each user gets a token bucket refilled once per interval.
type Throttler struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[int64, *rate.Limiter]
	now     func() time.Time
}

// NewThrottler returns nil when interval is not positive, which disables throttling.
func NewThrottler(interval time.Duration, burst int) *Throttler {
	if interval <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	ttl := interval * time.Duration(burst)
	if ttl < throttleIdleTTL {
		ttl = throttleIdleTTL
	}
	return &Throttler{
		limit:   rate.Every(interval),
		burst:   burst,
		buckets: expirable.NewLRU[int64, *rate.Limiter](throttleCapacity, nil, ttl),
		now:     time.Now,
	}
}

// Allow reports whether userID may send another message now.
func (t *Throttler) Allow(userID int64) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.buckets.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
	}
	// Re-adding refreshes the idle expiry.
	t.buckets.Add(userID, limiter)
	return limiter.AllowN(t.now(), 1)
}
