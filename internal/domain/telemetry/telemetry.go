// Package telemetry defines the contribution-count source.
package telemetry

import (
	"context"
	"time"
)

// DefaultWindow is the trailing window contributions are counted over.
const DefaultWindow = 365 * 24 * time.Hour

// Query selects the contributions of one handle in [From, To].
type Query struct {
	Handle string
	From   time.Time
	To     time.Time
}

// TrailingWindow builds a query covering window up to now.
func TrailingWindow(handle string, now time.Time, window time.Duration) Query {
	if window <= 0 {
		window = DefaultWindow
	}
	return Query{Handle: handle, From: now.Add(-window), To: now}
}

// Source returns the raw contribution count of a handle.
type Source interface {
	Contributions(ctx context.Context, q Query) (int, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) (int, error)

// Contributions calls f.
func (f SourceFunc) Contributions(ctx context.Context, q Query) (int, error) { return f(ctx, q) }
