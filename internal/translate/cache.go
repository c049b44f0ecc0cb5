package translate

import (
	"context"
	"sync"
	"time"
)

// Cache stores finished translations keyed by the content-hash triple.
// Implementations must be safe for concurrent use. Two concurrent
// misses on the same key may both translate and both write; the
// overwrite is idempotent and accepted instead of per-key locking.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with per-entry TTL and a
// background sweeper that never blocks readers for long: the sweep
// collects expired keys under RLock and deletes them in one short
// write-locked pass.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a memory cache. A ttl of zero disables
// expiry; sweepEvery controls how often expired entries are collected.
func NewMemoryCache(ttl, sweepEvery time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		if sweepEvery <= 0 {
			sweepEvery = 5 * time.Minute
		}
		go c.sweep(sweepEvery)
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string) error {
	e := memoryEntry{value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// Stop terminates the background sweeper.
func (c *MemoryCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			var expired []string
			c.mu.RLock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					expired = append(expired, k)
				}
			}
			c.mu.RUnlock()
			if len(expired) == 0 {
				continue
			}
			c.mu.Lock()
			for _, k := range expired {
				if e, ok := c.entries[k]; ok && now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
