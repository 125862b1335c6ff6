package cache

import (
	"container/list"
	"sync"
)

// lru is a bounded least-recently-used map. A zero maxEntries or maxBytes
// disables that bound. It is safe for concurrent use.
type lru[V any] struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	bytes      int
	items      map[string]*list.Element
	order      *list.List
	sizeOf     func(V) int
	onEvict    func(key string, value V)
}

type lruItem[V any] struct {
	key   string
	value V
	size  int
}

func newLRU[V any](maxEntries, maxBytes int, sizeOf func(V) int) *lru[V] {
	if sizeOf == nil {
		sizeOf = func(V) int { return 0 }
	}
	return &lru[V]{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		sizeOf:     sizeOf,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *lru[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*lruItem[V]).value, true
	}
	var zero V
	return zero, false
}

// Put adds or replaces key, evicting least recently used items while a
// bound is exceeded. The item just added is never evicted.
func (c *lru[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeOf(value)
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*lruItem[V])
		c.bytes += size - item.size
		item.value = value
		item.size = size
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&lruItem[V]{key: key, value: value, size: size})
		c.bytes += size
	}

	for c.order.Len() > 1 && c.overLimit() {
		c.removeElement(c.order.Back(), true)
	}
}

func (c *lru[V]) overLimit() bool {
	return (c.maxEntries > 0 && c.order.Len() > c.maxEntries) ||
		(c.maxBytes > 0 && c.bytes > c.maxBytes)
}

// Delete removes key and reports whether it was present.
func (c *lru[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.removeElement(elem, false)
	}
	return ok
}

// DeleteFunc removes every item for which match returns true.
func (c *lru[V]) DeleteFunc(match func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		item := elem.Value.(*lruItem[V])
		if match(item.key, item.value) {
			c.removeElement(elem, false)
			n++
		}
		elem = next
	}
	return n
}

// Len returns the number of items.
func (c *lru[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes returns the accounted size of all items.
func (c *lru[V]) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *lru[V]) removeElement(elem *list.Element, evicted bool) {
	item := elem.Value.(*lruItem[V])
	c.order.Remove(elem)
	delete(c.items, item.key)
	c.bytes -= item.size
	if evicted && c.onEvict != nil {
		c.onEvict(item.key, item.value)
	}
}
