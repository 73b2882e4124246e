package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/ucoin/internal/adapters/ledger/boltledger"
	eventqueue "github.com/okian/ucoin/internal/adapters/mq/queue"
	service "github.com/okian/ucoin/internal/app"
	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/internal/domain/telemetry"
	"github.com/okian/ucoin/internal/domain/withdrawal"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	signer = "0x9999999999999999999999999999999999999999"
	alice  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	carol  = "0xcccccccccccccccccccccccccccccccccccccccc"
)

// fakeSource serves contribution counts per handle.
type fakeSource struct {
	mu     sync.Mutex
	counts map[string]int
	fail   bool
}

func (f *fakeSource) set(handle string, n int) {
	f.mu.Lock()
	f.counts[handle] = n
	f.mu.Unlock()
}

func (f *fakeSource) Contributions(_ context.Context, q telemetry.Query) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, telemetry.ErrTransient
	}
	n, ok := f.counts[q.Handle]
	if !ok {
		return 0, telemetry.ErrNotFound
	}
	return n, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func startService(t *testing.T, src *fakeSource, opts ...service.Option) *service.Service {
	t.Helper()
	q := eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(64))
	l, err := boltledger.Open(filepath.Join(t.TempDir(), "ledger.db"),
		boltledger.WithApprover(signer),
		boltledger.WithPublisher(q))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	opts = append([]service.Option{
		service.WithLedger(l),
		service.WithEventQueue(q),
		service.WithTelemetry(src),
		service.WithSigner(signer),
		service.WithWorkerCount(2),
		service.WithFetchTimeout(time.Second),
	}, opts...)
	svc := service.New(opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Stop(context.Background())
		_ = l.Close()
	})
	return svc
}

func TestStartRequiresLedger(t *testing.T) {
	Convey("Given a service without a ledger", t, func() {
		svc := service.New()

		Convey("Start fails", func() {
			So(errors.Is(svc.Start(context.Background()), service.ErrMissingLedger), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})
	})
}

func TestWithdrawalFlow(t *testing.T) {
	Convey("Given two registered identities with activity", t, func() {
		ctx := context.Background()
		src := &fakeSource{counts: map[string]int{"alice": 2, "bob": 6}}
		svc := startService(t, src)

		_, err := svc.Register(ctx, model.Identity{Address: alice, Handle: "alice"})
		So(err, ShouldBeNil)
		_, err = svc.Register(ctx, model.Identity{Address: bob, Handle: "bob"})
		So(err, ShouldBeNil)

		Convey("the leaderboard ranks by XP", func() {
			entries, err := svc.Refresh(ctx)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)

			top, err := svc.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(top[0].Address, ShouldEqual, bob)
			So(top[0].XP, ShouldEqual, 300)
			So(top[1].Address, ShouldEqual, alice)
			So(top[1].XP, ShouldEqual, 100)

			rank, err := svc.Rank(ctx, alice)
			So(err, ShouldBeNil)
			So(rank.Rank, ShouldEqual, 2)
		})

		Convey("the entitlement follows the level ceiling", func() {
			e, err := svc.Entitlement(ctx, alice)
			So(err, ShouldBeNil)
			So(e.Score.Level, ShouldEqual, 1)
			So(e.Remaining.Equal(dec("5.4")), ShouldBeTrue)
			So(e.CachedClaimed, ShouldBeNil)

			Convey("and the next read reports the reconciled cache", func() {
				e, err := svc.Entitlement(ctx, alice)
				So(err, ShouldBeNil)
				So(e.CachedClaimed, ShouldNotBeNil)
				So(e.CachedClaimed.IsZero(), ShouldBeTrue)
			})
		})

		Convey("a request above the ceiling is rejected", func() {
			_, err := svc.RequestWithdrawal(ctx, alice, dec("6"))
			So(errors.Is(err, withdrawal.ErrLimitExceeded), ShouldBeTrue)
		})

		Convey("an approved request is claimed once", func() {
			req, err := svc.RequestWithdrawal(ctx, alice, dec("5"))
			So(err, ShouldBeNil)
			So(req.IsPending, ShouldBeTrue)

			pending, err := svc.PendingRequests(ctx)
			So(err, ShouldBeNil)
			So(len(pending), ShouldEqual, 1)

			entry, err := svc.ApproveWithdrawal(ctx, alice)
			So(err, ShouldBeNil)
			So(entry.TxRef, ShouldNotBeEmpty)

			status, err := svc.Status(ctx, alice)
			So(err, ShouldBeNil)
			So(status.IsPending, ShouldBeFalse)

			balance, err := svc.Balance(ctx, alice)
			So(err, ShouldBeNil)
			So(balance.Equal(dec("5")), ShouldBeTrue)

			e, err := svc.Entitlement(ctx, alice)
			So(err, ShouldBeNil)
			So(e.Claimed.Equal(dec("5")), ShouldBeTrue)
			So(e.Remaining.Equal(dec("0.4")), ShouldBeTrue)
			So(e.CachedClaimed, ShouldNotBeNil)
			So(e.CachedClaimed.Equal(dec("5")), ShouldBeTrue)

			Convey("and approving again finds no pending request", func() {
				_, err := svc.ApproveWithdrawal(ctx, alice)
				So(errors.Is(err, ledger.ErrNoPendingRequest), ShouldBeTrue)
			})
		})

		Convey("an unregistered address has nothing to claim", func() {
			e, err := svc.Entitlement(ctx, carol)
			So(err, ShouldBeNil)
			So(e.Remaining.IsZero(), ShouldBeTrue)
		})

		Convey("a telemetry outage fails the entitlement closed", func() {
			src.mu.Lock()
			src.fail = true
			src.mu.Unlock()

			_, err := svc.Entitlement(ctx, alice)
			So(errors.Is(err, claims.ErrEntitlementUnavailable), ShouldBeTrue)
			_, err = svc.RequestWithdrawal(ctx, alice, dec("1"))
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeEntitlementUnavailable)
		})
	})
}

func TestApproveRequiresSigner(t *testing.T) {
	Convey("Given a service whose signer is not the approver", t, func() {
		ctx := context.Background()
		src := &fakeSource{counts: map[string]int{"alice": 10}}
		svc := startService(t, src, service.WithSigner(bob))

		_, err := svc.Register(ctx, model.Identity{Address: alice, Handle: "alice"})
		So(err, ShouldBeNil)
		_, err = svc.RequestWithdrawal(ctx, alice, dec("1"))
		So(err, ShouldBeNil)

		Convey("approval is unauthorized and the request stays pending", func() {
			_, err := svc.ApproveWithdrawal(ctx, alice)
			So(errors.Is(err, ledger.ErrUnauthorized), ShouldBeTrue)

			status, err := svc.Status(ctx, alice)
			So(err, ShouldBeNil)
			So(status.IsPending, ShouldBeTrue)
		})
	})
}

func TestGrantXPRefreshesLeaderboard(t *testing.T) {
	Convey("Given a subscriber and a registered identity", t, func() {
		ctx := context.Background()
		src := &fakeSource{counts: map[string]int{"alice": 1}}
		svc := startService(t, src)

		_, err := svc.Register(ctx, model.Identity{Address: alice, Handle: "alice"})
		So(err, ShouldBeNil)

		notices, cancel := svc.Subscribe()
		defer cancel()

		Convey("granting XP writes the score and triggers a refresh", func() {
			src.set("alice", 4)
			res, err := svc.GrantXP(ctx, alice)
			So(err, ShouldBeNil)
			So(res.XP, ShouldEqual, 200)

			deadline := time.After(5 * time.Second)
			var entry int64
			for entry != 200 {
				select {
				case <-notices:
					if e, err := svc.Rank(ctx, alice); err == nil {
						entry = e.XP
					}
				case <-deadline:
					t.Fatal("leaderboard was not refreshed")
				}
			}
			So(entry, ShouldEqual, 200)
		})

		Convey("granting XP to an unknown address fails", func() {
			_, err := svc.GrantXP(ctx, carol)
			So(errors.Is(err, ledger.ErrNotRegistered), ShouldBeTrue)
		})
	})
}

func TestStats(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService(t, &fakeSource{counts: map[string]int{}})

		Convey("stats report the running components", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["workerCount"], ShouldEqual, 2)
			So(stats, ShouldContainKey, "queueLength")
			So(stats, ShouldContainKey, "leaderboardEntries")
		})

		Convey("Stop is idempotent", func() {
			So(svc.Stop(context.Background()), ShouldBeNil)
			So(svc.Stop(context.Background()), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})
	})
}
