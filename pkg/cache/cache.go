// Package cache provides the TTL cache abstraction the Model Cost
// Resolver uses: a distributed Redis-backed implementation, and an
// in-process fallback for deployments without Redis configured.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is a generic get/set-with-TTL interface. Get returning
// (nil, false, nil) is a cache miss, distinct from an error.
type Cache interface {
	Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// entry is one in-process cache slot.
type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// InProcess is a single-node, read-mostly TTL cache used when no
// Redis URL is configured — calls the model-cost cache
// "shared, read-mostly, with single-writer-per-key semantics enforced
// only by idempotency (writers always compute the same value)", which
// holds whether the cache is distributed or per-process.
type InProcess struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewInProcess constructs an empty in-process cache.
func NewInProcess() *InProcess {
	return &InProcess{entries: make(map[string]entry)}
}

func (c *InProcess) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InProcess) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}
