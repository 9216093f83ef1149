package runtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wudi/fngate/internal/config"
)

// InitFunc performs a cold start: it materializes a backend instance for the
// given function. It may block for seconds (process spawn, module compile)
// and runs under the cache's write lock, so concurrent requests for the same
// cold function wait rather than racing a second initialization.
type InitFunc func(cfg *config.FunctionConfig) (Manager, error)

// Cache maps function identity to its backend instance. Entries are created
// on demand and live until Close; there is no eviction. The lock is
// read-biased: the hot path takes only the read lock, the write lock is held
// for the rare cold start.
type Cache struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]Manager
}

// NewCache creates an empty instance cache.
func NewCache() *Cache {
	return &Cache{handles: make(map[uuid.UUID]Manager)}
}

// FindOrInitialize returns the cached instance for cfg, initializing one with
// init if none exists. At most one initialization runs per identity: the
// membership check is repeated under the write lock so a writer that lost the
// race reuses the winner's instance. A failed initialization leaves the cache
// unchanged, so the next request retries.
func (c *Cache) FindOrInitialize(cfg *config.FunctionConfig, init InitFunc) (Manager, error) {
	c.mu.RLock()
	_, ok := c.handles[cfg.ID]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if _, ok := c.handles[cfg.ID]; !ok {
			mgr, err := init(cfg)
			if err != nil {
				c.mu.Unlock()
				return nil, err
			}
			c.handles[cfg.ID] = mgr
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	mgr, ok := c.handles[cfg.ID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrRace
	}
	return mgr, nil
}

// Get returns the cached instance for id, if any.
func (c *Cache) Get(id uuid.UUID) (Manager, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mgr, ok := c.handles[id]
	return mgr, ok
}

// Len returns the number of cached instances.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Close shuts down every cached instance and empties the cache. Shutdown
// errors are collected; the first one is returned after all instances have
// been attempted.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for id, mgr := range c.handles {
		if err := mgr.Shutdown(); err != nil && first == nil {
			first = err
		}
		delete(c.handles, id)
	}
	return first
}
