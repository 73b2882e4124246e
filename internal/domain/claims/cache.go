package claims

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Cache holds the last known cumulative claimed amount per address. It is a
// hint only: the ledger is authoritative and overwrites it on reconcile.
type Cache interface {
	// Get returns the cached total and whether one exists.
	Get(ctx context.Context, address string) (decimal.Decimal, bool, error)
	// Set overwrites the cached total.
	Set(ctx context.Context, address string, total decimal.Decimal) error
	// Add increments an existing total. It reports false and leaves the cache
	// alone when nothing is cached for address.
	Add(ctx context.Context, address string, delta decimal.Decimal) (decimal.Decimal, bool, error)
	// Delete drops the cached total of address.
	Delete(ctx context.Context, address string) error
	// Flush drops every cached total.
	Flush(ctx context.Context) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	totals map[string]decimal.Decimal
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{totals: make(map[string]decimal.Decimal)}
}

func (c *MemoryCache) Get(_ context.Context, address string) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.totals[address]
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, address string, total decimal.Decimal) error {
	c.mu.Lock()
	c.totals[address] = total
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Add(_ context.Context, address string, delta decimal.Decimal) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.totals[address]
	if !ok {
		return decimal.Zero, false, nil
	}
	v = v.Add(delta)
	c.totals[address] = v
	return v, true, nil
}

func (c *MemoryCache) Delete(_ context.Context, address string) error {
	c.mu.Lock()
	delete(c.totals, address)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Flush(_ context.Context) error {
	c.mu.Lock()
	c.totals = make(map[string]decimal.Decimal)
	c.mu.Unlock()
	return nil
}
