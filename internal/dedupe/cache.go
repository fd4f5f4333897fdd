// ABOUTME: Thread-safe TTL cache of idempotency keys and the result they produced
// ABOUTME: Lets the HTTP surface answer a retried send with the original message ID

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	claimed   time.Time
	element   *list.Element
	completed bool
}

// Cache maps idempotency keys to the result of the first request that used
// them. Entries expire after ttl; when full, the oldest entry is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Result reports the outcome of Claim.
type Result int

const (
	// Claimed means the key is new and now belongs to the caller.
	Claimed Result = iota
	// InProgress means another request holds the key but has not completed.
	InProgress
	// Completed means the key was already used; Claim returns its value.
	Completed
)

// Claim atomically reserves key. If the key is already known and unexpired,
// Claim reports whether the earlier request is still running or has finished,
// and returns the value stored by Complete.
func (c *Cache) Claim(key string) (string, Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !c.expired(e) {
		if e.completed {
			return e.value, Completed
		}
		return "", InProgress
	}

	c.putLocked(key, &cacheEntry{})
	return "", Claimed
}

// Complete stores the result for a key obtained from Claim.
func (c *Cache) Complete(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.putLocked(key, e)
	}
	e.value = value
	e.completed = true
}

// Release drops a claim so the key can be retried, e.g. after the request failed.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e *cacheEntry) bool {
	return c.now().Sub(e.claimed) >= c.ttl
}

// putLocked inserts or refreshes key. Must be called with mu held.
func (c *Cache) putLocked(key string, e *cacheEntry) {
	if old, ok := c.entries[key]; ok {
		c.order.Remove(old.element)
		delete(c.entries, key)
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	e.claimed = c.now()
	e.element = c.order.PushBack(key)
	c.entries[key] = e
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if c.expired(e) {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
