// Package service wires the ledger, telemetry and domain components into the
// backend the HTTP API and the session feed depend on.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	eventqueue "github.com/okian/ucoin/internal/adapters/mq/queue"
	workerpool "github.com/okian/ucoin/internal/adapters/mq/worker"
	repository "github.com/okian/ucoin/internal/adapters/repository"
	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/okian/ucoin/internal/domain/dedupe"
	"github.com/okian/ucoin/internal/domain/leaderboard"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/internal/domain/scoring"
	"github.com/okian/ucoin/internal/domain/telemetry"
	"github.com/okian/ucoin/internal/domain/withdrawal"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/okian/ucoin/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Entitlement is the claim position of an identity together with the score
// its level was derived from.
type Entitlement struct {
	claims.Entitlement
	Score scoring.Result `json:"score"`
	// CachedClaimed is the cached claimed total as it stood before the
	// ledger reconcile, nil when nothing was cached.
	CachedClaimed *decimal.Decimal `json:"cachedClaimed,omitempty"`
}

// RefreshNotice tells session subscribers that a new leaderboard is live.
type RefreshNotice struct {
	Entries int       `json:"entries"`
	At      time.Time `json:"at"`
}

// Service implements the API dependencies for the reward backend.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	ledger    ledger.Ledger
	telemetry telemetry.Source
	cache     claims.Cache
	events    *eventqueue.InMemoryQueue

	// Core components
	guard       dedupe.Guard
	tracker     *claims.Tracker
	manager     *withdrawal.Manager
	aggregator  *leaderboard.Aggregator
	board       *repository.SnapshotStore
	workerPool  *workerpool.Pool
	subscribers map[chan RefreshNotice]struct{}
	subMu       sync.Mutex

	// Configuration
	signer         string
	workerCount    int
	queueSize      int
	dedupeSize     int
	concurrency    int
	fetchTimeout   time.Duration
	window         time.Duration
	maxLimit       int
	initialRefresh bool
	now            func() time.Time

	// State
	started   bool
	refreshCh chan struct{}
	cancel    context.CancelFunc
	loopDone  chan struct{}

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    4,
		queueSize:      4096,
		dedupeSize:     50000,
		concurrency:    leaderboard.DefaultConcurrency,
		fetchTimeout:   leaderboard.DefaultFetchTimeout,
		window:         telemetry.DefaultWindow,
		maxLimit:       100,
		initialRefresh: true,
		now:            time.Now,
		subscribers:    make(map[chan RefreshNotice]struct{}),
		logger:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.SourceFunc(func(context.Context, telemetry.Query) (int, error) {
			return 0, fmt.Errorf("%w: no telemetry credential configured", telemetry.ErrTransient)
		})
	}
	if s.cache == nil {
		s.cache = claims.NewMemoryCache()
	}
	if s.events == nil {
		s.events = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	}
	return s
}

// Events returns the queue ledger events are consumed from.
func (s *Service) Events() *eventqueue.InMemoryQueue { return s.events }

// Start builds the domain components, starts the event workers and schedules
// the first leaderboard refresh.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.ledger == nil {
		return ErrMissingLedger
	}

	s.logger.Info(ctx, "starting reward service...")

	s.guard = dedupe.NewGuard(dedupe.WithMaxSize(s.dedupeSize))
	s.tracker = claims.NewTracker(s.ledger, claims.LevelFunc(s.level),
		claims.WithCache(s.cache),
		claims.WithGuard(s.guard),
		claims.WithLogger(s.logger.Named("claims")))
	// A restart may have missed completions; drop every cached total.
	if err := s.tracker.InvalidateAll(ctx); err != nil {
		s.logger.Warn(ctx, "failed to flush claims cache", logger.Error(err))
	}
	s.manager = withdrawal.NewManager(s.ledger, s.tracker,
		withdrawal.WithLogger(s.logger.Named("withdrawal")),
		withdrawal.WithClock(s.now))
	s.board = repository.NewSnapshotStore(
		repository.WithMaxLimit(s.maxLimit),
		repository.WithClock(s.now))
	s.aggregator = leaderboard.NewAggregator(s.ledger, s.telemetry,
		leaderboard.WithConcurrency(s.concurrency),
		leaderboard.WithFetchTimeout(s.fetchTimeout),
		leaderboard.WithWindow(s.window),
		leaderboard.WithStore(s.board),
		leaderboard.WithRefreshHook(s.notify),
		leaderboard.WithLogger(s.logger.Named("leaderboard")),
		leaderboard.WithClock(s.now))

	router := workerpool.NewRouter().
		On(model.EventScoreChanged, s.onScoreChanged).
		On(model.EventRequestCompleted, s.onRequestCompleted).
		On(model.EventRequestCreated, s.onRequestCreated)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.refreshCh = make(chan struct{}, 1)
	s.loopDone = make(chan struct{})

	s.workerPool = workerpool.NewPool(s.workerCount, s.events, router, s.logger)
	s.workerPool.Start(runCtx)
	go s.refreshLoop(runCtx)
	if s.initialRefresh {
		s.requestRefresh()
	}

	s.started = true
	s.logger.Info(ctx, "reward service started",
		logger.Int("workers", s.workerCount),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("concurrency", s.concurrency),
	)
	return nil
}

// Stop drains the event workers and stops the refresh loop. The ledger is
// owned by the caller and stays open.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping reward service...")

	var err error
	if s.workerPool != nil {
		err = s.workerPool.Shutdown(ctx)
	}
	s.cancel()
	<-s.loopDone

	s.subMu.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.subMu.Unlock()

	s.started = false
	s.logger.Info(ctx, "reward service stopped")
	return err
}

// refreshLoop runs one Refresh per coalesced request.
func (s *Service) refreshLoop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refreshCh:
			if _, err := s.aggregator.Refresh(ctx); err != nil && ctx.Err() == nil {
				metrics.RecordErrorByComponent("service", "refresh")
			}
		}
	}
}

// requestRefresh schedules a refresh; requests made while one is already
// pending collapse into it.
func (s *Service) requestRefresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh rebuilds the leaderboard synchronously.
func (s *Service) Refresh(ctx context.Context) ([]leaderboard.Entry, error) {
	return s.aggregator.Refresh(ctx)
}

func (s *Service) onScoreChanged(ctx context.Context, ev workerpool.Event) error {
	s.logger.Debug(ctx, "score changed", logger.String("address", ev.Address))
	s.requestRefresh()
	return nil
}

func (s *Service) onRequestCompleted(ctx context.Context, ev workerpool.Event) error {
	_, err := s.tracker.RecordClaim(ctx, model.ClaimEntry{
		TxRef:       ev.TxRef,
		Address:     ev.Address,
		Amount:      ev.Amount,
		CompletedAt: ev.At,
	})
	return err
}

func (s *Service) onRequestCreated(ctx context.Context, ev workerpool.Event) error {
	s.logger.Info(ctx, "withdrawal requested",
		logger.String("address", ev.Address),
		logger.String("amount", ev.Amount.String()))
	return nil
}

// notify fans a refresh notice out to subscribers without blocking.
func (s *Service) notify(_ context.Context, entries []leaderboard.Entry) {
	n := RefreshNotice{Entries: len(entries), At: s.now()}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a channel of refresh notices and a func that ends the
// subscription. The channel is closed when the service stops.
func (s *Service) Subscribe() (<-chan RefreshNotice, func()) {
	ch := make(chan RefreshNotice, 1)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

// score resolves the current contribution score of a registration. Unknown
// telemetry accounts score zero.
func (s *Service) score(ctx context.Context, reg ledger.Registration) (scoring.Result, error) {
	if strings.TrimSpace(reg.Handle) == "" {
		return scoring.Score(0), nil
	}
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	n, err := s.telemetry.Contributions(fctx, telemetry.TrailingWindow(reg.Handle, s.now(), s.window))
	if errors.Is(err, telemetry.ErrNotFound) {
		return scoring.Score(0), nil
	}
	if err != nil {
		return scoring.Result{}, err
	}
	return scoring.Score(n), nil
}

// scoreOf is score for an address; unregistered addresses score zero.
func (s *Service) scoreOf(ctx context.Context, address string) (scoring.Result, error) {
	reg, err := s.ledger.Identity(ctx, address)
	if errors.Is(err, ledger.ErrNotRegistered) {
		return scoring.Score(0), nil
	}
	if err != nil {
		return scoring.Result{}, err
	}
	return s.score(ctx, reg)
}

// level implements claims.LevelSource.
func (s *Service) level(ctx context.Context, address string) (int, error) {
	res, err := s.scoreOf(ctx, address)
	if err != nil {
		return 0, err
	}
	return res.Level, nil
}

// ScoreIdentities scores an explicit identity list.
func (s *Service) ScoreIdentities(ctx context.Context, ids []model.Identity) ([]leaderboard.Result, error) {
	return s.aggregator.Score(ctx, ids)
}

// TopN returns the top n leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	return s.board.TopN(ctx, n)
}

// Rank returns the leaderboard entry of address.
func (s *Service) Rank(ctx context.Context, address string) (leaderboard.Entry, error) {
	return s.board.Rank(ctx, address)
}

// PendingRequests lists every open withdrawal request.
func (s *Service) PendingRequests(ctx context.Context) ([]model.WithdrawalRequest, error) {
	return s.manager.PendingRequests(ctx)
}

// RequestWithdrawal opens a withdrawal request for address.
func (s *Service) RequestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error) {
	return s.manager.RequestWithdrawal(ctx, address, amount)
}

// ApproveWithdrawal approves the pending request of address as the
// configured signer.
func (s *Service) ApproveWithdrawal(ctx context.Context, address string) (model.ClaimEntry, error) {
	return s.manager.ApproveWithdrawal(ctx, s.signer, address)
}

// Status reads the request slot of address from the ledger.
func (s *Service) Status(ctx context.Context, address string) (model.RequestStatus, error) {
	return s.manager.Status(ctx, address)
}

// Balance reads the transferred balance of address from the ledger.
func (s *Service) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, address)
}

// Claims lists the completed claims of address.
func (s *Service) Claims(ctx context.Context, address string) ([]model.ClaimEntry, error) {
	return s.ledger.Claims(ctx, address)
}

// Entitlement returns the score and claim position of address. The score is
// fetched once and its level reused for the ceiling.
func (s *Service) Entitlement(ctx context.Context, address string) (Entitlement, error) {
	if !model.ValidAddress(address) {
		return Entitlement{}, withdrawal.ErrInvalidAddress
	}
	res, err := s.scoreOf(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return Entitlement{}, err
		}
		return Entitlement{}, fmt.Errorf("%w: %w", claims.ErrEntitlementUnavailable, err)
	}
	out := Entitlement{Score: res}
	if cached, ok, cerr := s.tracker.Cached(ctx, address); cerr != nil {
		s.logger.Warn(ctx, "claim cache read failed", logger.String("address", address), logger.Error(cerr))
	} else if ok {
		out.CachedClaimed = &cached
	}
	e, err := s.tracker.EntitlementAt(ctx, address, res.Level)
	if err != nil {
		return Entitlement{}, err
	}
	out.Entitlement = e
	return out, nil
}

// Register adds or relinks an identity.
func (s *Service) Register(ctx context.Context, id model.Identity) (ledger.Registration, error) {
	reg, err := s.ledger.RegisterIdentity(ctx, id)
	if err != nil {
		return ledger.Registration{}, err
	}
	s.logger.Info(ctx, "identity registered",
		logger.String("address", reg.Address),
		logger.Int64("seq", int64(reg.Seq)))
	return reg, nil
}

// GrantXP recomputes the XP of a registered identity from telemetry and
// writes it to the ledger.
func (s *Service) GrantXP(ctx context.Context, address string) (scoring.Result, error) {
	reg, err := s.ledger.Identity(ctx, address)
	if err != nil {
		return scoring.Result{}, err
	}
	res, err := s.score(ctx, reg)
	if err != nil {
		return scoring.Result{}, err
	}
	if err := s.ledger.UpdateScore(ctx, reg.Address, res.XP); err != nil {
		return scoring.Result{}, err
	}
	return res, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"concurrency": s.concurrency,
		"dedupeSize":  s.dedupeSize,
	}

	if s.started {
		queueLen := s.events.Len(ctx)
		stats["queueLength"] = queueLen
		stats["leaderboardEntries"] = s.board.Count(ctx)
		stats["leaderboardUpdatedAt"] = s.board.UpdatedAt()
		stats["trackedTxRefs"] = s.guard.Size()

		s.subMu.Lock()
		stats["sessions"] = len(s.subscribers)
		s.subMu.Unlock()

		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
