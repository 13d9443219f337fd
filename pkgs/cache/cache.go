// Package cache provides a thread-safe, optionally-expiring LRU cache,
// used by Scorpio's directory-listing cache.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultRemovalInterval is how often expired entries are swept.
var DefaultRemovalInterval = 5 * time.Second

// Sec returns the current time plus sec seconds, a convenience for building
// expireAt arguments to Add.
func Sec(sec int) time.Time {
	return time.Now().Add(time.Duration(sec) * time.Second)
}

type cacheValue struct {
	value interface{}
	expAt time.Time
}

// Cache is a thread-safe LRU cache with optional per-entry expiry.
type Cache struct {
	container *lru.Cache
	rmExpired bool
}

// NewCache creates a plain LRU cache of the given capacity.
func NewCache(capacity int) *Cache {
	c := new(Cache)
	c.container, _ = lru.New(capacity)
	return c
}

// NewCacheWithExpiringEntry creates a cache that additionally removes
// expired entries on a periodic tick and on every insertion, so an entry
// can disappear before the LRU would otherwise evict it.
func NewCacheWithExpiringEntry(capacity int) *Cache {
	c := NewCache(capacity)
	c.rmExpired = true
	go func() {
		for range time.NewTicker(DefaultRemovalInterval).C {
			c.removeExpired()
		}
	}()
	return c
}

// Add inserts or updates an entry, optionally with an expiry time.
func (c *Cache) Add(key, val interface{}, expireAt ...time.Time) {
	var expAt time.Time
	if len(expireAt) > 0 {
		expAt = expireAt[0]
	}
	c.removeExpired()
	c.container.Add(key, &cacheValue{value: val, expAt: expAt})
}

// Peek returns a value without refreshing its recency.
func (c *Cache) Peek(key interface{}) interface{} {
	v, ok := c.container.Peek(key)
	if !ok {
		return nil
	}
	return v.(*cacheValue).value
}

// Get returns a value and refreshes its recency.
func (c *Cache) Get(key interface{}) interface{} {
	v, ok := c.container.Get(key)
	if !ok {
		return nil
	}
	return v.(*cacheValue).value
}

func (c *Cache) removeExpired() {
	if !c.rmExpired {
		return
	}
	for _, k := range c.container.Keys() {
		v, ok := c.container.Peek(k)
		if !ok {
			continue
		}
		cv := v.(*cacheValue)
		if cv.expAt.IsZero() {
			continue
		}
		if time.Now().After(cv.expAt) {
			c.container.Remove(k)
		}
	}
}

// Keys returns all keys currently in the cache.
func (c *Cache) Keys() []interface{} { return c.container.Keys() }

// Remove deletes an entry.
func (c *Cache) Remove(key interface{}) { c.container.Remove(key) }

// Has checks presence without refreshing recency.
func (c *Cache) Has(key interface{}) bool { return c.container.Contains(key) }

// Len returns the number of entries.
func (c *Cache) Len() int { return c.container.Len() }
