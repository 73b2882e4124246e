package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/ucoin/internal/domain/leaderboard"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/metrics"
)

const defaultMaxLimit = 1000

// snapshot is immutable once published.
type snapshot struct {
	entries   []leaderboard.Entry
	byAddress map[string]int
	at        time.Time
}

// SnapshotStore keeps the last published leaderboard. Reads never block
// writers: Replace builds a new snapshot and swaps the pointer.
type SnapshotStore struct {
	current  atomic.Pointer[snapshot]
	maxLimit int
	now      func() time.Time
}

var _ Store = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty store.
func NewSnapshotStore(opts ...Option) *SnapshotStore {
	s := &SnapshotStore{maxLimit: defaultMaxLimit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&snapshot{byAddress: map[string]int{}})
	return s
}

// Replace publishes entries. Entries are expected in rank order; ranks are
// reassigned from position so the snapshot is always dense.
func (s *SnapshotStore) Replace(ctx context.Context, entries []leaderboard.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := &snapshot{
		entries:   make([]leaderboard.Entry, len(entries)),
		byAddress: make(map[string]int, len(entries)),
		at:        s.now(),
	}
	for i, e := range entries {
		addr := model.NormalizeAddress(e.Address)
		if _, dup := snap.byAddress[addr]; dup {
			return fmt.Errorf("%w: duplicate %s", leaderboard.ErrMalformedAggregate, addr)
		}
		e.Address = addr
		e.Rank = i + 1
		snap.entries[i] = e
		snap.byAddress[addr] = i
	}
	s.current.Store(snap)
	metrics.UpdateLeaderboardEntries(len(entries))
	return nil
}

// Rank returns the entry of address.
func (s *SnapshotStore) Rank(ctx context.Context, address string) (leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return leaderboard.Entry{}, err
	}
	snap := s.current.Load()
	i, ok := snap.byAddress[model.NormalizeAddress(address)]
	if !ok {
		return leaderboard.Entry{}, ErrNotFound
	}
	return snap.entries[i], nil
}

// TopN returns up to n entries in rank order.
func (s *SnapshotStore) TopN(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 || n > s.maxLimit {
		return nil, ErrInvalidLimit
	}
	snap := s.current.Load()
	n = min(n, len(snap.entries))
	out := make([]leaderboard.Entry, n)
	copy(out, snap.entries[:n])
	return out, nil
}

// Count returns the number of ranked identities.
func (s *SnapshotStore) Count(_ context.Context) int {
	return len(s.current.Load().entries)
}

// UpdatedAt returns when the snapshot was last replaced.
func (s *SnapshotStore) UpdatedAt() time.Time {
	return s.current.Load().at
}
