package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers inbound update ids for a window.
type Deduper interface {
	// MarkSeen records updateID and reports whether it was new.
	MarkSeen(ctx context.Context, updateID int64) (fresh bool, err error)
}

// RedisDeduper uses SET NX EX so every replica sees the same window.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduper returns a deduper whose marks expire after ttl.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, updateID int64) (bool, error) {
	fresh, err := d.client.SetNX(ctx, updateKey(updateID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark update %d: %w", updateID, err)
	}
	return fresh, nil
}

// MemoryDeduper keeps a bounded, expiring set of recent update ids.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen *expirable.LRU[int64, struct{}]
}

// NewMemoryDeduper remembers at most size ids for ttl each.
func NewMemoryDeduper(size int, ttl time.Duration) *MemoryDeduper {
	if size <= 0 {
		size = 10000
	}
	return &MemoryDeduper{seen: expirable.NewLRU[int64, struct{}](size, nil, ttl)}
}

func (d *MemoryDeduper) MarkSeen(_ context.Context, updateID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(updateID) {
		return false, nil
	}
	d.seen.Add(updateID, struct{}{})
	return true, nil
}
