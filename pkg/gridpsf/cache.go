package gridpsf

import "container/list"

// defaultCacheCapacity bounds the per-model interpolator cache. Fitted
// surfaces are cheap to rebuild but expensive enough that repeated
// evaluations near the same grid cell should not refit.
const defaultCacheCapacity = 128

// cellKey identifies the integer grid cell a fitted surface belongs to.
type cellKey struct {
	X, Y int
}

type cacheEntry struct {
	key     cellKey
	surface *bicubicSurface
}

// surfaceCache is a bounded LRU mapping from integer grid cells to fitted
// surfaces: a hash map for lookup plus a doubly linked recency list for
// eviction. It is owned exclusively by one model instance and carries no
// locking of its own; the model serializes access.
type surfaceCache struct {
	capacity int
	entries  map[cellKey]*list.Element
	order    *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64
}

func newSurfaceCache(capacity int) *surfaceCache {
	return &surfaceCache{
		capacity: capacity,
		entries:  make(map[cellKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// get returns the cached surface for key, marking it most recently used.
func (c *surfaceCache) get(key cellKey) (*bicubicSurface, bool) {
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).surface, true
}

// put inserts a surface for key, evicting the least recently used entry
// once the capacity is exceeded.
func (c *surfaceCache) put(key cellKey, s *bicubicSurface) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).surface = s
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, surface: s})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
		c.evictions++
	}
}

// clear drops every entry. The counters survive so diagnostics can still
// see lifetime totals.
func (c *surfaceCache) clear() {
	c.entries = make(map[cellKey]*list.Element, c.capacity)
	c.order.Init()
}

func (c *surfaceCache) stats() Stats {
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
		Capacity:  c.capacity,
	}
}
