// Package dedupe guards claim application so that each ledger tx ref is
// applied at most once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Guard records tx refs that have already been applied.
type Guard interface {
	// SeenAndRecord reports whether ref was already recorded and records it
	// if not. The check and the write are atomic.
	SeenAndRecord(ctx context.Context, ref string) bool

	// Unrecord forgets ref so it can be applied again. Only used when the
	// apply step that followed SeenAndRecord failed.
	Unrecord(ctx context.Context, ref string)

	// Seen reports whether ref is recorded without recording it.
	Seen(ctx context.Context, ref string) bool

	Size() int64
}

// memoryGuard keeps refs in insertion order so the oldest can be evicted in
// O(1) when bounded.
type memoryGuard struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewGuard creates an in-memory Guard.
func NewGuard(opts ...Option) Guard {
	g := &memoryGuard{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(g)
	}
	g.seen = make(map[string]*list.Element)
	g.order = list.New()
	return g
}

func (g *memoryGuard) SeenAndRecord(_ context.Context, ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[ref]; ok {
		return true
	}
	if g.maxSize > 0 && g.order.Len() >= g.maxSize {
		g.evictOldest()
	}
	g.seen[ref] = g.order.PushBack(ref)
	return false
}

func (g *memoryGuard) Unrecord(_ context.Context, ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.seen[ref]; ok {
		g.order.Remove(el)
		delete(g.seen, ref)
	}
}

func (g *memoryGuard) Seen(_ context.Context, ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[ref]
	return ok
}

// evictOldest must be called with g.mu held.
func (g *memoryGuard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	g.order.Remove(front)
	delete(g.seen, front.Value.(string))
}

func (g *memoryGuard) Size() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.order.Len())
}
