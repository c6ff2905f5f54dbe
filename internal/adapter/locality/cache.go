package locality

import (
	"context"
	"strings"
	"sync"
)

// Checker reports whether a host is the local machine.
type Checker interface {
	IsLocal(ctx context.Context, host string) (bool, error)
}

// CachedChecker wraps a Checker with an in-memory LRU cache. Hosts repeat for
// every file of every pass, so most lookups are hits.
type CachedChecker struct {
	inner Checker
	cache *lruCache
}

// NewCachedChecker creates a cache decorator around a checker.
func NewCachedChecker(inner Checker, maxEntries int) *CachedChecker {
	return &CachedChecker{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

func (c *CachedChecker) IsLocal(ctx context.Context, host string) (bool, error) {
	key := strings.ToLower(host)
	if local, ok := c.cache.get(key); ok {
		return local, nil
	}
	local, err := c.inner.IsLocal(ctx, host)
	if err != nil {
		// Resolution failures are not cached so a flaky DNS answer is retried.
		return false, err
	}
	c.cache.put(key, local)
	return local, nil
}

// lruCache is a simple thread-safe LRU cache of locality answers.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value bool
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
