package dedupe

// Option configures a Guard.
type Option func(*memoryGuard)

// WithMaxSize bounds how many tx refs are remembered. The oldest entry is
// evicted once the bound is reached. maxSize <= 0 disables eviction.
func WithMaxSize(maxSize int) Option {
	return func(g *memoryGuard) {
		g.maxSize = maxSize
	}
}
