// Package cache provides the evaluation cache that memoizes authorization
// decisions. Entries are advisory: dropping one costs a recomputation, not
// correctness, as long as mutation paths invalidate synchronously.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DecisionCache stores boolean decisions keyed by the derivation in
// types.CacheKey. Keys carry the user id as a prefix so a single user's
// entries can be invalidated without a full flush.
type DecisionCache interface {
	Get(key string) (allowed bool, ok bool)
	Set(key string, allowed bool)
	// ClearUser removes every entry belonging to the user.
	ClearUser(userID string)
	// Clear removes all entries.
	Clear()
	Stats() Stats
}

// Stats contains cache statistics
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// DefaultTTL bounds how long a decision may be served without
// recomputation when no invalidation reaches it.
const DefaultTTL = 5 * time.Minute

// LRU implements DecisionCache with an in-process LRU and per-entry TTL
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type lruEntry struct {
	key       string
	allowed   bool
	expiresAt time.Time
}

// NewLRU creates an LRU decision cache. Non-positive capacity defaults to
// 100000 entries; non-positive ttl defaults to DefaultTTL.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 100000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a decision, honoring TTL expiry
func (c *LRU) Get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		if time.Now().After(entry.expiresAt) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			return false, false
		}
		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		return entry.allowed, true
	}

	atomic.AddUint64(&c.misses, 1)
	return false, false
}

// Set adds or refreshes a decision
func (c *LRU) Set(key string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.allowed = allowed
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		allowed:   allowed,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

// ClearUser removes every entry whose key belongs to the user
func (c *LRU) ClearUser(userID string) {
	prefix := userID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for elem := c.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		if strings.HasPrefix(elem.Value.(*lruEntry).key, prefix) {
			c.removeElement(elem)
		}
	}
}

// Clear removes all entries
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{Size: size, Hits: hits, Misses: misses, HitRate: hitRate}
}

// Cleanup removes expired entries and returns how many were dropped
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()
	var next *list.Element
	for elem := c.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		if now.After(elem.Value.(*lruEntry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

func (c *LRU) removeElement(elem *list.Element) {
	delete(c.items, elem.Value.(*lruEntry).key)
	c.order.Remove(elem)
}

func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}
