package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter caps attempts per key (client IP, email) inside a window.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// FixedWindowLimiter is a Redis-backed fixed-window counter shared by every
// API instance.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
}

// NewRedisFixedWindowLimiter creates a limiter on a shared Redis client.
func NewRedisFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "hustl:ratelimit"
	}
	return &FixedWindowLimiter{limit: limit, window: window, client: client, prefix: prefix}, nil
}

// Allow counts one attempt for key. Redis failures deny the attempt.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{}
	}
	key = normalizeKey(key)
	windowMs := l.window.Milliseconds()
	now := time.Now().UTC().UnixMilli()
	slot := now / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-now) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{RetryAfter: retryAfter}
	}
	return decide(int(count), l.limit, retryAfter)
}

// MemoryFixedWindowLimiter keeps counters in-process for single-instance
// development setups without Redis.
type MemoryFixedWindowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	slot    int64
	counter map[string]int
}

// NewMemoryFixedWindowLimiter creates an in-process limiter.
func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*MemoryFixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryFixedWindowLimiter{limit: limit, window: window, counter: make(map[string]int)}, nil
}

func (l *MemoryFixedWindowLimiter) Allow(_ context.Context, key string) Decision {
	key = normalizeKey(key)
	windowMs := l.window.Milliseconds()
	now := time.Now().UTC().UnixMilli()
	slot := now / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-now) * time.Millisecond

	l.mu.Lock()
	defer l.mu.Unlock()
	if slot != l.slot {
		l.slot = slot
		clear(l.counter)
	}
	l.counter[key]++
	return decide(l.counter[key], l.limit, retryAfter)
}

func decide(count, limit int, retryAfter time.Duration) Decision {
	if count > limit {
		return Decision{RetryAfter: retryAfter}
	}
	return Decision{Allowed: true, Remaining: limit - count}
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "unknown"
	}
	return key
}
