package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// MemoryFiredLog keeps fired keys in a bounded in-process cache with a TTL.
// It survives a session reset but not a process restart.
type MemoryFiredLog struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
}

// NewMemoryFiredLog creates a fired log holding at most size keys for ttl each
func NewMemoryFiredLog(size int, ttl time.Duration) *MemoryFiredLog {
	return &MemoryFiredLog{
		cache: expirable.NewLRU[string, time.Time](size, nil, ttl),
	}
}

// MarkFired records key and reports whether this call was the first to do so
func (l *MemoryFiredLog) MarkFired(ctx context.Context, key string, firedAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache.Contains(key) {
		return false, nil
	}
	l.cache.Add(key, firedAt)
	return true, nil
}

const redisFiredPrefix = "healthon:fired:"

// RedisFiredLog shares fired keys between processes and browser tabs through Redis
type RedisFiredLog struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFiredLog creates a fired log whose keys expire after ttl
func NewRedisFiredLog(client *redis.Client, ttl time.Duration) *RedisFiredLog {
	return &RedisFiredLog{client: client, ttl: ttl}
}

// MarkFired records key with SET NX; only the call that created the key gets first=true
func (l *RedisFiredLog) MarkFired(ctx context.Context, key string, firedAt time.Time) (bool, error) {
	ok, err := l.client.SetNX(ctx, redisFiredPrefix+key, firedAt.UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s as fired: %w", key, err)
	}
	return ok, nil
}

// Ping checks the Redis connection for health reporting
func (l *RedisFiredLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
