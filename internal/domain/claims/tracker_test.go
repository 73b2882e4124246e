package claims_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const addr = "0x1111111111111111111111111111111111111111"

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string][]model.ClaimEntry
	err     error
}

func (f *fakeLedger) Claims(_ context.Context, address string) ([]model.ClaimEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.ClaimEntry(nil), f.entries[address]...), nil
}

func (f *fakeLedger) add(e model.ClaimEntry) {
	f.mu.Lock()
	f.entries[e.Address] = append(f.entries[e.Address], e)
	f.mu.Unlock()
}

func fixedLevel(l int) claims.LevelSource {
	return claims.LevelFunc(func(context.Context, string) (int, error) { return l, nil })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTrackerRemaining(t *testing.T) {
	ctx := context.Background()

	Convey("Given an identity at level 1 with one completed claim", t, func() {
		lg := &fakeLedger{entries: map[string][]model.ClaimEntry{}}
		lg.add(model.ClaimEntry{TxRef: "tx-1", Address: addr, Amount: dec("2")})
		cache := claims.NewMemoryCache()
		tr := claims.NewTracker(lg, fixedLevel(1), claims.WithCache(cache))

		Convey("Remaining is the ceiling minus the claimed total", func() {
			rem, err := tr.Remaining(ctx, addr)
			So(err, ShouldBeNil)
			So(rem.StringFixed(4), ShouldEqual, "3.4000")

			total, ok, _ := cache.Get(ctx, addr)
			So(ok, ShouldBeTrue)
			So(total.String(), ShouldEqual, "2")
		})

		Convey("Entitlement reports every component", func() {
			e, err := tr.Entitlement(ctx, addr)
			So(err, ShouldBeNil)
			So(e.Level, ShouldEqual, 1)
			So(e.Ceiling.StringFixed(4), ShouldEqual, "5.4000")
			So(e.Claimed.String(), ShouldEqual, "2")
		})

		Convey("A stale cache is overwritten by the ledger", func() {
			So(cache.Set(ctx, addr, dec("9")), ShouldBeNil)
			rem, err := tr.Remaining(ctx, addr)
			So(err, ShouldBeNil)
			So(rem.StringFixed(4), ShouldEqual, "3.4000")
			total, _, _ := cache.Get(ctx, addr)
			So(total.String(), ShouldEqual, "2")
		})

		Convey("Claims above the ceiling clamp remaining to zero", func() {
			lg.add(model.ClaimEntry{TxRef: "tx-2", Address: addr, Amount: dec("10")})
			rem, err := tr.Remaining(ctx, addr)
			So(err, ShouldBeNil)
			So(rem.IsZero(), ShouldBeTrue)
		})

		Convey("When the ledger is unreachable", func() {
			So(cache.Set(ctx, addr, dec("1")), ShouldBeNil)
			lg.err = errors.New("dial tcp: refused")

			_, err := tr.Remaining(ctx, addr)

			Convey("Then it fails closed and leaves the cache untouched", func() {
				So(errors.Is(err, ledger.ErrUnavailable), ShouldBeTrue)
				total, ok, _ := cache.Get(ctx, addr)
				So(ok, ShouldBeTrue)
				So(total.String(), ShouldEqual, "1")
			})
		})

		Convey("When the level cannot be resolved", func() {
			tr := claims.NewTracker(lg, claims.LevelFunc(func(context.Context, string) (int, error) {
				return 0, errors.New("telemetry down")
			}))
			_, err := tr.Remaining(ctx, addr)
			So(errors.Is(err, claims.ErrEntitlementUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given an identity at level 0", t, func() {
		lg := &fakeLedger{entries: map[string][]model.ClaimEntry{}}
		tr := claims.NewTracker(lg, fixedLevel(0))
		rem, err := tr.Remaining(ctx, addr)
		So(err, ShouldBeNil)
		So(rem.IsZero(), ShouldBeTrue)
	})
}

func TestTrackerRecordClaim(t *testing.T) {
	ctx := context.Background()

	Convey("Given a tracker with a reconciled total", t, func() {
		lg := &fakeLedger{entries: map[string][]model.ClaimEntry{}}
		cache := claims.NewMemoryCache()
		tr := claims.NewTracker(lg, fixedLevel(2), claims.WithCache(cache))
		_, err := tr.Reconcile(ctx, addr)
		So(err, ShouldBeNil)

		entry := model.ClaimEntry{TxRef: "tx-7", Address: addr, Amount: dec("1.5")}

		Convey("When a completion is recorded", func() {
			applied, err := tr.RecordClaim(ctx, entry)

			Convey("Then the cached total grows", func() {
				So(err, ShouldBeNil)
				So(applied, ShouldBeTrue)
				total, _, _ := cache.Get(ctx, addr)
				So(total.String(), ShouldEqual, "1.5")
			})

			Convey("And replaying the same tx ref is a no-op", func() {
				applied, err := tr.RecordClaim(ctx, entry)
				So(err, ShouldBeNil)
				So(applied, ShouldBeFalse)
				total, _, _ := cache.Get(ctx, addr)
				So(total.String(), ShouldEqual, "1.5")
			})
		})

		Convey("Concurrent replays apply once", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = tr.RecordClaim(ctx, entry)
				}()
			}
			wg.Wait()
			total, _, _ := cache.Get(ctx, addr)
			So(total.String(), ShouldEqual, "1.5")
		})

		Convey("Invalid entries are rejected", func() {
			_, err := tr.RecordClaim(ctx, model.ClaimEntry{Address: addr, Amount: dec("1")})
			So(errors.Is(err, claims.ErrInvalidClaim), ShouldBeTrue)
			_, err = tr.RecordClaim(ctx, model.ClaimEntry{TxRef: "x", Address: addr, Amount: dec("0")})
			So(errors.Is(err, claims.ErrInvalidClaim), ShouldBeTrue)
		})
	})

	Convey("Given nothing cached for the address", t, func() {
		cache := claims.NewMemoryCache()
		tr := claims.NewTracker(&fakeLedger{entries: map[string][]model.ClaimEntry{}}, fixedLevel(1), claims.WithCache(cache))
		applied, err := tr.RecordClaim(ctx, model.ClaimEntry{TxRef: "tx-1", Address: addr, Amount: dec("1")})

		Convey("The claim is marked applied but no partial total is cached", func() {
			So(err, ShouldBeNil)
			So(applied, ShouldBeTrue)
			_, ok, _ := cache.Get(ctx, addr)
			So(ok, ShouldBeFalse)
		})
	})
}

// landedAddCache applies Add and then reports a failure, like a Redis call
// that times out after the script ran.
type landedAddCache struct {
	*claims.MemoryCache
}

func (c landedAddCache) Add(ctx context.Context, address string, delta decimal.Decimal) (decimal.Decimal, bool, error) {
	_, _, _ = c.MemoryCache.Add(ctx, address, delta)
	return decimal.Zero, false, errors.New("redis: i/o timeout")
}

func TestTrackerRecordClaimCacheFailure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a cache whose add fails after landing", t, func() {
		cache := landedAddCache{MemoryCache: claims.NewMemoryCache()}
		tr := claims.NewTracker(&fakeLedger{entries: map[string][]model.ClaimEntry{}}, fixedLevel(2), claims.WithCache(cache))
		So(cache.Set(ctx, addr, dec("1")), ShouldBeNil)

		entry := model.ClaimEntry{TxRef: "tx-9", Address: addr, Amount: dec("2")}
		applied, err := tr.RecordClaim(ctx, entry)

		Convey("Then the error surfaces and the cached total is dropped", func() {
			So(err, ShouldNotBeNil)
			So(applied, ShouldBeFalse)
			_, ok, _ := tr.Cached(ctx, addr)
			So(ok, ShouldBeFalse)
		})

		Convey("And a retry is attempted again rather than treated as a replay", func() {
			applied, err := tr.RecordClaim(ctx, entry)
			So(err, ShouldNotBeNil)
			So(applied, ShouldBeFalse)
		})

		Convey("And the next reconcile rebuilds the total from the ledger", func() {
			total, err := tr.Reconcile(ctx, addr)
			So(err, ShouldBeNil)
			So(total.IsZero(), ShouldBeTrue)
			cached, ok, _ := tr.Cached(ctx, addr)
			So(ok, ShouldBeTrue)
			So(cached.IsZero(), ShouldBeTrue)
		})
	})
}

func TestTrackerInvalidate(t *testing.T) {
	ctx := context.Background()

	Convey("Given cached totals", t, func() {
		cache := claims.NewMemoryCache()
		tr := claims.NewTracker(&fakeLedger{entries: map[string][]model.ClaimEntry{}}, fixedLevel(1), claims.WithCache(cache))
		So(cache.Set(ctx, addr, dec("1")), ShouldBeNil)
		So(cache.Set(ctx, "0x2222222222222222222222222222222222222222", dec("2")), ShouldBeNil)

		Convey("Invalidate drops one address", func() {
			So(tr.Invalidate(ctx, addr), ShouldBeNil)
			_, ok, _ := tr.Cached(ctx, addr)
			So(ok, ShouldBeFalse)
			_, ok, _ = tr.Cached(ctx, "0x2222222222222222222222222222222222222222")
			So(ok, ShouldBeTrue)
		})

		Convey("InvalidateAll drops everything", func() {
			So(tr.InvalidateAll(ctx), ShouldBeNil)
			_, ok, _ := tr.Cached(ctx, "0x2222222222222222222222222222222222222222")
			So(ok, ShouldBeFalse)
		})
	})
}
