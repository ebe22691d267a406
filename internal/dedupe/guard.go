// ABOUTME: Thread-safe one-shot guard keyed by string.
// ABOUTME: FirstTime fires exactly once per key; oldest keys evict at capacity.

package dedupe

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds a guard when the caller passes a non-positive size.
const DefaultCapacity = 1024

// Guard tracks which keys have already triggered their effect. A
// doubly-linked list keeps insertion order so eviction at capacity is O(1).
type Guard struct {
	mu    sync.Mutex
	seen  map[string]*list.Element
	order *list.List
	cap   int
}

// NewGuard creates a guard holding at most capacity keys.
func NewGuard(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		seen:  make(map[string]*list.Element),
		order: list.New(),
		cap:   capacity,
	}
}

// FirstTime atomically marks key and reports whether this was its first
// marking. Callers run the guarded effect only on true.
func (g *Guard) FirstTime(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return false
	}
	if len(g.seen) >= g.cap {
		g.evictOldest()
	}
	g.seen[key] = g.order.PushBack(key)
	return true
}

// Seen reports whether key has been marked, without marking it.
func (g *Guard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[key]
	return ok
}

// Forget removes key so its effect may fire again. Used when an optimistic
// effect has to be retried after a failure.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if elem, ok := g.seen[key]; ok {
		g.order.Remove(elem)
		delete(g.seen, key)
	}
}

// evictOldest drops the oldest key. Must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, key)
}
