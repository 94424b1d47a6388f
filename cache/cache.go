// Package cache stores successful page fetches keyed by normalized URL
// and collapses concurrent fetches for the same key into one execution.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached page result. Entries are never mutated, only
// replaced wholesale by a fresh successful fetch. Failed fetches are
// never stored.
type Entry struct {
	Key          string
	HTML         string
	RenderMethod string // "static" or "render"
	FinalURL     string
	StatusCode   int
	FetchedAt    time.Time
	TTL          time.Duration
}

// expired reports whether the entry is past FetchedAt+TTL at now.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.FetchedAt.Add(e.TTL))
}

// Cache is an in-memory TTL cache for fetch results. It is safe for
// concurrent use. Expired entries are treated as misses and removed
// lazily on Get; a background sweep every 5 minutes keeps the map from
// accumulating dead entries for keys nobody asks about again.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*Entry
	maxEntries int
	flight     singleflight.Group
	done       chan struct{}

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a Cache bounded to maxEntries and starts the sweep loop.
func New(maxEntries int) *Cache {
	c := &Cache{
		store:      make(map[string]*Entry),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go c.sweepLoop()
	return c
}

// Get returns the entry for key if present and unexpired. An expired
// entry is removed and reported as a miss.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a fresh Put may have raced in.
		if cur, still := c.store[key]; still && cur.expired(c.now()) {
			delete(c.store, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e, true
}

// Put stores an entry, replacing any previous value for its key. If the
// cache is at capacity a random entry is evicted to make room (map
// iteration order is random in Go).
func (c *Cache) Put(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[e.Key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[e.Key] = e
}

// Do runs fn under the per-key single-flight guard: at most one fn is
// in flight per key system-wide, and every concurrent caller for that
// key receives the first completer's result. The guard is released on
// every exit path of fn, including panics.
func (c *Cache) Do(key string, fn func() (any, error)) (any, error, bool) {
	return c.flight.Do(key, fn)
}

// Close stops the background sweep.
func (c *Cache) Close() {
	close(c.done)
}

// Len returns the number of live entries (expired ones included until
// swept). Used by the observability endpoint.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// sweepLoop evicts expired entries every 5 minutes.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.store {
				if e.expired(now) {
					delete(c.store, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
