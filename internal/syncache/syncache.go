package syncache

import (
	"context"
	"log"
	"sync"
	"time"
)

// Fetcher loads the payload for a cache key from the network.
type Fetcher func(ctx context.Context) (any, error)

// entry models freshness explicitly as (payload, fetchedAt, staleAt,
// gcAt) so eviction and revalidation are independently testable.
type entry struct {
	payload   any
	fetchedAt time.Time
	staleAt   time.Time
	gcAt      time.Time
	staleFor  time.Duration
	gcAfter   time.Duration
	// invalid forces a refetch on the next Get regardless of age.
	invalid bool
}

// Cache is a keyed, time-bounded cache of fetched resource pages.
// An entry younger than its stale window is served with no fetch. An
// entry past its stale window but before its gc deadline is served
// immediately while a background refetch replaces it. An entry past
// its gc deadline is treated as absent and fetched synchronously.
type Cache struct {
	log      *log.Logger
	staleFor time.Duration
	gcAfter  time.Duration

	mu         sync.Mutex
	entries    map[string]*entry
	refetching map[string]struct{}

	now func() time.Time
}

func NewCache(logger *log.Logger, staleFor, gcAfter time.Duration) *Cache {
	return &Cache{
		log:        logger,
		staleFor:   staleFor,
		gcAfter:    gcAfter,
		entries:    make(map[string]*entry),
		refetching: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Get returns the payload for key, fetching it when the cached entry
// is missing, invalidated, or past its gc deadline. A stale but
// unexpired entry is returned as-is and refreshed in the background.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher) (any, error) {
	c.mu.Lock()

	e, ok := c.entries[key]
	if ok && !e.invalid {
		now := c.now()
		if now.Before(e.staleAt) {
			payload := e.payload
			c.mu.Unlock()
			return payload, nil
		}

		if now.Before(e.gcAt) {
			payload := e.payload
			c.refetchLocked(ctx, key, e.staleFor, e.gcAfter, fetch)
			c.mu.Unlock()
			return payload, nil
		}

		delete(c.entries, key)
	}
	c.mu.Unlock()

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.Set(key, payload, c.staleFor, c.gcAfter)
	return payload, nil
}

// Set stores payload for key with the given freshness windows.
func (c *Cache) Set(key string, payload any, staleFor, gcAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &entry{
		payload:   payload,
		fetchedAt: now,
		staleAt:   now.Add(staleFor),
		gcAt:      now.Add(gcAfter),
		staleFor:  staleFor,
		gcAfter:   gcAfter,
	}
}

// Update mutates the cached payload for key in place, preserving its
// freshness windows. It is a no-op when the key is absent.
func (c *Cache) Update(key string, fn func(payload any) any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.payload = fn(e.payload)
	}
}

// Peek returns the cached payload without any freshness check or
// fetch. It reports false when the key is absent.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.payload, true
	}

	return nil, false
}

// Invalidate marks key so the next Get refetches regardless of age.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.invalid = true
	}
}

// Prefetch warms key in the background. It is advisory: failures are
// swallowed and it never blocks the caller. A fresh existing entry is
// left alone.
func (c *Cache) Prefetch(ctx context.Context, key string, fetch Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.invalid && c.now().Before(e.staleAt) {
		return
	}

	c.refetchLocked(ctx, key, c.staleFor, c.gcAfter, fetch)
}

// refetchLocked starts a background fetch for key unless one is
// already in flight. Callers must hold c.mu.
func (c *Cache) refetchLocked(ctx context.Context, key string, staleFor, gcAfter time.Duration, fetch Fetcher) {
	if _, inFlight := c.refetching[key]; inFlight {
		return
	}
	c.refetching[key] = struct{}{}

	go func() {
		payload, err := fetch(ctx)

		c.mu.Lock()
		delete(c.refetching, key)
		c.mu.Unlock()

		if err != nil {
			// stale payload stays servable
			c.log.Printf("background refetch for %q failed: %v", key, err)
			return
		}

		c.Set(key, payload, staleFor, gcAfter)
	}()
}
