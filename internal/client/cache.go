package client

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const ChatsKey = "chats"

func MessagesKey(chatID int) string {
	return "messages:" + strconv.Itoa(chatID)
}

// QueryCache memoizes read results by key. Concurrent misses on one key share
// a single fetch, and a result fetched across an invalidation is not stored.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]any
	gens    map[string]uint64
	group   singleflight.Group
}

func NewQueryCache() *QueryCache {
	return &QueryCache{entries: make(map[string]any), gens: make(map[string]uint64)}
}

// Fetch returns the cached value for key or loads it with fetch.
func Fetch[T any](ctx context.Context, c *QueryCache, key string, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v.(T), nil
	}
	gen := c.gens[key]
	c.gens[key] = gen // so InvalidatePrefix sees keys still in flight
	c.mu.Unlock()

	v, err, _ := c.group.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = v
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the cached value without fetching.
func (c *QueryCache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Invalidate drops key; the next Fetch goes to the server. Repeating it is harmless.
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.gens[key]++
}

func (c *QueryCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	for key := range c.gens {
		if strings.HasPrefix(key, prefix) {
			c.gens[key]++
		}
	}
}
