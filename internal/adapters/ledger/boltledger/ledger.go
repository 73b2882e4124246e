// Package boltledger is an embedded, single-file ledger backed by bbolt.
// Every mutation runs in one BoltDB read-write transaction, which gives the
// atomic single-slot and approver-only semantics the service relies on.
package boltledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/google/uuid"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/okian/ucoin/pkg/metrics"
	"github.com/shopspring/decimal"
)

var (
	bucketIdentities = []byte("identities")
	bucketRequests   = []byte("requests")
	bucketClaims     = []byte("claims")
	bucketBalances   = []byte("balances")
	bucketMeta       = []byte("meta")

	keyApprover = []byte("approver")
)

var _ ledger.Ledger = (*Ledger)(nil)

// Ledger implements ledger.Ledger on a BoltDB file.
type Ledger struct {
	db          *bolt.DB
	approver    string
	pub         ledger.Publisher
	log         logger.Logger
	now         func() time.Time
	openTimeout time.Duration
}

// Open opens (or creates) the ledger file at path.
func Open(path string, opts ...Option) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	l := &Ledger{
		pub:         ledger.NopPublisher,
		log:         logger.Discard(),
		now:         time.Now,
		openTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.approver != "" && !model.ValidAddress(l.approver) {
		return nil, fmt.Errorf("approver %q: %w", l.approver, ledger.ErrInvalidAddress)
	}

	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: l.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	l.db = db

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIdentities, bucketRequests, bucketClaims, bucketBalances, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		if l.approver != "" {
			return tx.Bucket(bucketMeta).Put(keyApprover, []byte(model.NormalizeAddress(l.approver)))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the file lock.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return unavailable(l.db.View(fn))
}

func (l *Ledger) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return unavailable(l.db.Update(fn))
}

// unavailable marks storage failures as ledger.ErrUnavailable and passes
// domain errors through.
func unavailable(err error) error {
	switch {
	case err == nil,
		errors.Is(err, ledger.ErrRequestAlreadyPending),
		errors.Is(err, ledger.ErrNoPendingRequest),
		errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, ledger.ErrNotRegistered),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAddress):
		return err
	default:
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
}

func (l *Ledger) publish(ctx context.Context, ev model.LedgerEvent) {
	ev.ID = uuid.NewString()
	metrics.RecordLedgerEvent(string(ev.Kind))
	if err := l.pub.Publish(ctx, ev); err != nil {
		l.log.Warn(ctx, "ledger event not published",
			logger.String("kind", string(ev.Kind)),
			logger.String("address", ev.Address),
			logger.Error(err))
	}
}

func normalize(address string) (string, error) {
	if !model.ValidAddress(strings.TrimSpace(address)) {
		return "", ledger.ErrInvalidAddress
	}
	return model.NormalizeAddress(address), nil
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

// RegisteredIdentities returns identities in registration order.
func (l *Ledger) RegisteredIdentities(ctx context.Context) ([]ledger.Registration, error) {
	var out []ledger.Registration
	err := l.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentities).ForEach(func(_, v []byte) error {
			var r ledger.Registration
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if out == nil {
		out = []ledger.Registration{}
	}
	return out, nil
}

// RegisterIdentity adds address or relinks its handle.
func (l *Ledger) RegisterIdentity(ctx context.Context, id model.Identity) (ledger.Registration, error) {
	addr, err := normalize(id.Address)
	if err != nil {
		return ledger.Registration{}, err
	}
	var reg ledger.Registration
	err = l.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentities)
		found, err := getJSON(b, []byte(addr), &reg)
		if err != nil {
			return err
		}
		if !found {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			reg = ledger.Registration{Seq: seq}
		}
		reg.Address = addr
		reg.Handle = strings.TrimSpace(id.Handle)
		return putJSON(b, []byte(addr), reg)
	})
	if err != nil {
		return ledger.Registration{}, err
	}
	l.log.Info(ctx, "identity registered", logger.String("address", addr), logger.String("handle", reg.Handle))
	return reg, nil
}

// Identity returns the registration of address.
func (l *Ledger) Identity(ctx context.Context, address string) (ledger.Registration, error) {
	addr, err := normalize(address)
	if err != nil {
		return ledger.Registration{}, err
	}
	var reg ledger.Registration
	err = l.view(ctx, func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketIdentities), []byte(addr), &reg)
		if err != nil {
			return err
		}
		if !found {
			return ledger.ErrNotRegistered
		}
		return nil
	})
	return reg, err
}

// UpdateScore stores xp and emits score_changed.
func (l *Ledger) UpdateScore(ctx context.Context, address string, xp int64) error {
	addr, err := normalize(address)
	if err != nil {
		return err
	}
	if xp < 0 {
		xp = 0
	}
	err = l.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentities)
		var reg ledger.Registration
		found, err := getJSON(b, []byte(addr), &reg)
		if err != nil {
			return err
		}
		if !found {
			return ledger.ErrNotRegistered
		}
		reg.XP = xp
		return putJSON(b, []byte(addr), reg)
	})
	if err != nil {
		return err
	}
	l.publish(ctx, model.LedgerEvent{Kind: model.EventScoreChanged, Address: addr, At: l.now().UTC()})
	return nil
}

// RequestStatus reads the request slot of address.
func (l *Ledger) RequestStatus(ctx context.Context, address string) (model.RequestStatus, error) {
	addr, err := normalize(address)
	if err != nil {
		return model.RequestStatus{}, err
	}
	status := model.RequestStatus{Address: addr, Amount: decimal.Zero}
	err = l.view(ctx, func(tx *bolt.Tx) error {
		var req model.WithdrawalRequest
		found, err := getJSON(tx.Bucket(bucketRequests), []byte(addr), &req)
		if err != nil || !found || !req.IsPending {
			return err
		}
		status.IsPending = true
		status.Amount = req.Amount
		return nil
	})
	return status, err
}

// RequestWithdrawal opens the pending slot of a registered identity.
func (l *Ledger) RequestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error) {
	addr, err := normalize(address)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	if !amount.IsPositive() {
		return model.WithdrawalRequest{}, ledger.ErrInvalidAmount
	}

	req := model.WithdrawalRequest{
		Address:     addr,
		Amount:      amount,
		IsPending:   true,
		RequestedAt: l.now().UTC(),
	}
	err = l.update(ctx, func(tx *bolt.Tx) error {
		if tx.Bucket(bucketIdentities).Get([]byte(addr)) == nil {
			return ledger.ErrNotRegistered
		}
		b := tx.Bucket(bucketRequests)
		var existing model.WithdrawalRequest
		found, err := getJSON(b, []byte(addr), &existing)
		if err != nil {
			return err
		}
		if found && existing.IsPending {
			return ledger.ErrRequestAlreadyPending
		}
		return putJSON(b, []byte(addr), req)
	})
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	l.publish(ctx, model.LedgerEvent{Kind: model.EventRequestCreated, Address: addr, Amount: amount, At: req.RequestedAt})
	return req, nil
}

// ApproveWithdrawal completes the pending request of address. The transfer,
// the slot closure and the claim append commit together.
func (l *Ledger) ApproveWithdrawal(ctx context.Context, caller, address string) (model.ClaimEntry, error) {
	addr, err := normalize(address)
	if err != nil {
		return model.ClaimEntry{}, err
	}
	caller = model.NormalizeAddress(caller)

	var entry model.ClaimEntry
	err = l.update(ctx, func(tx *bolt.Tx) error {
		approver := string(tx.Bucket(bucketMeta).Get(keyApprover))
		if approver == "" || caller != approver {
			return ledger.ErrUnauthorized
		}

		reqs := tx.Bucket(bucketRequests)
		var req model.WithdrawalRequest
		found, err := getJSON(reqs, []byte(addr), &req)
		if err != nil {
			return err
		}
		if !found || !req.IsPending {
			return ledger.ErrNoPendingRequest
		}

		entry = model.ClaimEntry{
			TxRef:       uuid.NewString(),
			Address:     addr,
			Amount:      req.Amount,
			CompletedAt: l.now().UTC(),
		}

		balances := tx.Bucket(bucketBalances)
		balance := decimal.Zero
		if raw := balances.Get([]byte(addr)); raw != nil {
			if balance, err = decimal.NewFromString(string(raw)); err != nil {
				return fmt.Errorf("decode balance: %w", err)
			}
		}
		if err := balances.Put([]byte(addr), []byte(balance.Add(req.Amount).String())); err != nil {
			return err
		}

		claims, err := tx.Bucket(bucketClaims).CreateBucketIfNotExists([]byte(addr))
		if err != nil {
			return err
		}
		seq, err := claims.NextSequence()
		if err != nil {
			return err
		}
		if err := putJSON(claims, seqKey(seq), entry); err != nil {
			return err
		}

		req.IsPending = false
		req.TxRef = entry.TxRef
		return putJSON(reqs, []byte(addr), req)
	})
	if err != nil {
		return model.ClaimEntry{}, err
	}
	l.publish(ctx, model.LedgerEvent{
		Kind:    model.EventRequestCompleted,
		Address: addr,
		Amount:  entry.Amount,
		TxRef:   entry.TxRef,
		At:      entry.CompletedAt,
	})
	return entry, nil
}

// Approver returns the privileged address, empty when none is configured.
func (l *Ledger) Approver(ctx context.Context) (string, error) {
	var approver string
	err := l.view(ctx, func(tx *bolt.Tx) error {
		approver = string(tx.Bucket(bucketMeta).Get(keyApprover))
		return nil
	})
	return approver, err
}

// Claims returns the completed claims of address in completion order.
func (l *Ledger) Claims(ctx context.Context, address string) ([]model.ClaimEntry, error) {
	addr, err := normalize(address)
	if err != nil {
		return nil, err
	}
	out := []model.ClaimEntry{}
	err = l.view(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClaims).Bucket([]byte(addr))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e model.ClaimEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingRequests returns every open request, oldest first.
func (l *Ledger) PendingRequests(ctx context.Context) ([]model.WithdrawalRequest, error) {
	out := []model.WithdrawalRequest{}
	err := l.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(_, v []byte) error {
			var r model.WithdrawalRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.IsPending {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// Balance returns the transferred token balance of address.
func (l *Ledger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := normalize(address)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	err = l.view(ctx, func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBalances).Get([]byte(addr))
		if raw == nil {
			return nil
		}
		var derr error
		balance, derr = decimal.NewFromString(string(raw))
		return derr
	})
	return balance, err
}
