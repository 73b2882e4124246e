package withdrawal_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/internal/domain/withdrawal"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	user     = "0x1111111111111111111111111111111111111111"
	approver = "0x9999999999999999999999999999999999999999"
)

// memLedger is a minimal single-slot ledger.
type memLedger struct {
	mu       sync.Mutex
	slots    map[string]model.WithdrawalRequest
	calls    atomic.Int64
	down     bool
	approved int
}

func newMemLedger() *memLedger {
	return &memLedger{slots: map[string]model.WithdrawalRequest{}}
}

func (l *memLedger) RequestStatus(_ context.Context, address string) (model.RequestStatus, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return model.RequestStatus{}, ledger.ErrUnavailable
	}
	r := l.slots[address]
	return model.RequestStatus{Address: address, IsPending: r.IsPending, Amount: r.Amount}, nil
}

func (l *memLedger) RequestWithdrawal(_ context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots[address].IsPending {
		return model.WithdrawalRequest{}, ledger.ErrRequestAlreadyPending
	}
	r := model.WithdrawalRequest{Address: address, Amount: amount, IsPending: true, RequestedAt: time.Now()}
	l.slots[address] = r
	return r, nil
}

func (l *memLedger) ApproveWithdrawal(_ context.Context, caller, address string) (model.ClaimEntry, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != approver {
		return model.ClaimEntry{}, ledger.ErrUnauthorized
	}
	r, ok := l.slots[address]
	if !ok || !r.IsPending {
		return model.ClaimEntry{}, ledger.ErrNoPendingRequest
	}
	delete(l.slots, address)
	l.approved++
	return model.ClaimEntry{TxRef: "tx-" + address, Address: address, Amount: r.Amount, CompletedAt: time.Now()}, nil
}

func (l *memLedger) Approver(context.Context) (string, error) { return approver, nil }

func (l *memLedger) PendingRequests(context.Context) ([]model.WithdrawalRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.WithdrawalRequest
	for _, r := range l.slots {
		if r.IsPending {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeEntitlements struct {
	mu        sync.Mutex
	remaining decimal.Decimal
	err       error
	recorded  []model.ClaimEntry
}

func (f *fakeEntitlements) Remaining(context.Context, string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining, f.err
}

func (f *fakeEntitlements) RecordClaim(_ context.Context, e model.ClaimEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, e)
	return true, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRequestWithdrawal(t *testing.T) {
	ctx := context.Background()

	Convey("Given an identity with 5.4 remaining", t, func() {
		lg := newMemLedger()
		ent := &fakeEntitlements{remaining: dec("5.4")}
		m := withdrawal.NewManager(lg, ent)

		Convey("A non-positive amount is rejected without contacting the ledger", func() {
			_, err := m.RequestWithdrawal(ctx, user, dec("0"))
			So(errors.Is(err, withdrawal.ErrInvalidAmount), ShouldBeTrue)
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeInvalidAmount)
			_, err = m.RequestWithdrawal(ctx, user, dec("-1"))
			So(errors.Is(err, withdrawal.ErrInvalidAmount), ShouldBeTrue)
			So(lg.calls.Load(), ShouldEqual, 0)
		})

		Convey("A malformed address is rejected", func() {
			_, err := m.RequestWithdrawal(ctx, "0x12", dec("1"))
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeInvalidAddress)
			So(lg.calls.Load(), ShouldEqual, 0)
		})

		Convey("An amount above the remaining entitlement is rejected", func() {
			_, err := m.RequestWithdrawal(ctx, user, dec("5.4001"))
			So(errors.Is(err, withdrawal.ErrLimitExceeded), ShouldBeTrue)
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeLimitExceeded)
		})

		Convey("The full remaining amount is accepted", func() {
			req, err := m.RequestWithdrawal(ctx, user, dec("5.4"))
			So(err, ShouldBeNil)
			So(req.IsPending, ShouldBeTrue)
			So(req.Amount.String(), ShouldEqual, "5.4")

			status, err := m.Status(ctx, user)
			So(err, ShouldBeNil)
			So(status.IsPending, ShouldBeTrue)
			So(status.Amount.String(), ShouldEqual, "5.4")
		})

		Convey("A second request while one is pending is rejected", func() {
			_, err := m.RequestWithdrawal(ctx, user, dec("1"))
			So(err, ShouldBeNil)
			_, err = m.RequestWithdrawal(ctx, user, dec("1"))
			So(errors.Is(err, ledger.ErrRequestAlreadyPending), ShouldBeTrue)
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeRequestAlreadyPending)
		})

		Convey("Concurrent requests leave exactly one pending", func() {
			var ok atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := m.RequestWithdrawal(ctx, user, dec("1")); err == nil {
						ok.Add(1)
					}
				}()
			}
			wg.Wait()
			So(ok.Load(), ShouldEqual, 1)
			reqs, err := m.PendingRequests(ctx)
			So(err, ShouldBeNil)
			So(len(reqs), ShouldEqual, 1)
		})

		Convey("Mixed-case addresses share one slot", func() {
			_, err := m.RequestWithdrawal(ctx, "0xABCDEF0123456789ABCDEF0123456789ABCDEF01", dec("1"))
			So(err, ShouldBeNil)
			_, err = m.RequestWithdrawal(ctx, "0xabcdef0123456789abcdef0123456789abcdef01", dec("1"))
			So(errors.Is(err, ledger.ErrRequestAlreadyPending), ShouldBeTrue)
		})

		Convey("An unreachable ledger surfaces ledger_unavailable", func() {
			lg.down = true
			_, err := m.RequestWithdrawal(ctx, user, dec("1"))
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeLedgerUnavailable)
			So(withdrawal.IsClientError(err), ShouldBeFalse)
		})

		Convey("An unresolvable entitlement surfaces entitlement_unavailable", func() {
			ent.err = claims.ErrEntitlementUnavailable
			_, err := m.RequestWithdrawal(ctx, user, dec("1"))
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeEntitlementUnavailable)
		})
	})
}

func TestApproveWithdrawal(t *testing.T) {
	ctx := context.Background()

	Convey("Given a pending request", t, func() {
		lg := newMemLedger()
		ent := &fakeEntitlements{remaining: dec("10")}
		m := withdrawal.NewManager(lg, ent)
		_, err := m.RequestWithdrawal(ctx, user, dec("2"))
		So(err, ShouldBeNil)

		Convey("A caller other than the approver is rejected", func() {
			_, err := m.ApproveWithdrawal(ctx, user, user)
			So(errors.Is(err, ledger.ErrUnauthorized), ShouldBeTrue)
			So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeUnauthorized)
			So(withdrawal.IsClientError(err), ShouldBeTrue)
			So(lg.approved, ShouldEqual, 0)
		})

		Convey("The approver completes it and the claim is recorded once", func() {
			entry, err := m.ApproveWithdrawal(ctx, approver, user)
			So(err, ShouldBeNil)
			So(entry.Amount.String(), ShouldEqual, "2")
			So(entry.TxRef, ShouldNotBeEmpty)
			So(len(ent.recorded), ShouldEqual, 1)

			status, err := m.Status(ctx, user)
			So(err, ShouldBeNil)
			So(status.IsPending, ShouldBeFalse)

			Convey("And a retried approval finds no pending request", func() {
				_, err := m.ApproveWithdrawal(ctx, approver, user)
				So(errors.Is(err, ledger.ErrNoPendingRequest), ShouldBeTrue)
				So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeNoPendingRequest)
				So(len(ent.recorded), ShouldEqual, 1)
			})
		})
	})

	Convey("Given no pending request", t, func() {
		m := withdrawal.NewManager(newMemLedger(), &fakeEntitlements{})
		_, err := m.ApproveWithdrawal(ctx, approver, user)
		So(withdrawal.Code(err), ShouldEqual, withdrawal.CodeNoPendingRequest)
	})
}
