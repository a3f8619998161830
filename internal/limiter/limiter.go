// Package limiter implements fixed-window write quotas keyed by an arbitrary string.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Strategy decides whether one more hit on key fits in limit hits per window.
type Strategy interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// INCR and EXPIRE run atomically; the window starts at the first hit.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`

// RedisFixedWindow counts hits in Redis so every server instance shares one quota.
type RedisFixedWindow struct {
	rdb    *redis.Client
	script *redis.Script
	prefix string
}

func NewRedisFixedWindow(rdb *redis.Client, prefix string) *RedisFixedWindow {
	return &RedisFixedWindow{
		rdb:    rdb,
		script: redis.NewScript(fixedWindowScript),
		prefix: prefix,
	}
}

func (s *RedisFixedWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := s.script.Run(ctx, s.rdb, []string{s.prefix + key}, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryFixedWindow is the single-process equivalent of RedisFixedWindow.
type MemoryFixedWindow struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*windowCounter
}

func NewMemoryFixedWindow() *MemoryFixedWindow {
	return &MemoryFixedWindow{now: time.Now, counters: make(map[string]*windowCounter)}
}

func (s *MemoryFixedWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &windowCounter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count <= limit, nil
}
