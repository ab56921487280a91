package dedup

import (
	"container/list"
	"sync"
)

const DefaultCapacity = 10000

// Cache remembers at most capacity keys and evicts the oldest insertion first. A
// forgotten key frees its place at once. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	keys     map[string]*list.Element
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		keys:     make(map[string]*list.Element, capacity),
	}
}

// MarkSeen records key and reports whether it was absent. A repeated key keeps its
// original insertion position.
func (c *Cache) MarkSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keys[key]; ok {
		return false
	}
	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.keys[key] = c.order.PushBack(key)
	return true
}

func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.keys[key]; ok {
		c.order.Remove(elem)
		delete(c.keys, key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *Cache) evictOldest() {
	oldest := c.order.Front()
	if oldest == nil {
		return
	}
	c.order.Remove(oldest)
	delete(c.keys, oldest.Value.(string))
}
