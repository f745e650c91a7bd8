// Package cache provides the bounded TTL cache the chain client uses to
// memoize terminal transaction receipts.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a bounded least-recently-used cache with one TTL applied to every
// entry. The chain client only stores receipts that can never change again,
// so the TTL bounds how long a dead tx ref keeps its slot, not correctness.
type LRU[K comparable, V any] struct {
	mu  sync.Mutex
	cap int
	ttl time.Duration
	now func() time.Time

	index map[K]*list.Element
	order *list.List // front is most recently used
}

type item[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{
		cap:   capacity,
		ttl:   ttl,
		now:   time.Now,
		index: make(map[K]*list.Element, capacity),
		order: list.New(),
	}
}

// Get returns the cached value for key. An expired entry is dropped on the
// way out and reported as a miss.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*item[K, V])
	if !c.now().Before(it.expires) {
		c.drop(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return it.val, true
}

// Put stores key. Re-storing an existing key refreshes its TTL; at capacity
// the least recently used entry is evicted.
func (c *LRU[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		it := el.Value.(*item[K, V])
		it.val = val
		it.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	for c.cap > 0 && c.order.Len() >= c.cap {
		c.drop(c.order.Back())
	}
	c.index[key] = c.order.PushFront(&item[K, V]{
		key:     key,
		val:     val,
		expires: c.now().Add(c.ttl),
	})
}

// Len counts live and expired-but-unswept entries alike.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) drop(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.index, el.Value.(*item[K, V]).key)
}
