// Package session serves the per-identity websocket feed: the request slot
// and balance are polled from the ledger and leaderboard refreshes are pushed
// as they happen.
package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	service "github.com/okian/ucoin/internal/app"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/okian/ucoin/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Message types pushed to the client.
const (
	TypeStatus      = "status"
	TypeBalance     = "balance"
	TypeLeaderboard = "leaderboard"
	TypeError       = "error"
)

const writeTimeout = 10 * time.Second

// Feed is what a session reads.
type Feed interface {
	Status(ctx context.Context, address string) (model.RequestStatus, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	Subscribe() (<-chan service.RefreshNotice, func())
}

// Message is one frame of the feed.
type Message struct {
	Type        string                 `json:"type"`
	Address     string                 `json:"address"`
	Status      *model.RequestStatus   `json:"status,omitempty"`
	Balance     *decimal.Decimal       `json:"balance,omitempty"`
	Leaderboard *service.RefreshNotice `json:"leaderboard,omitempty"`
	Error       string                 `json:"error,omitempty"`
	At          time.Time              `json:"at"`
}

// Handler upgrades GET /ws/session?address= to a websocket feed.
type Handler struct {
	feed         Feed
	upgrader     websocket.Upgrader
	origins      map[string]struct{}
	statusEvery  time.Duration
	balanceEvery time.Duration
	log          logger.Logger
}

// NewHandler creates a session handler over feed.
func NewHandler(feed Feed, opts ...Option) *Handler {
	h := &Handler{
		feed:         feed,
		origins:      map[string]struct{}{},
		statusEvery:  DefaultStatusInterval,
		balanceEvery: DefaultBalanceInterval,
		log:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, all := h.origins["*"]; all {
		return true
	}
	if _, ok := h.origins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Register attaches the session route to mux.
func (h *Handler) Register(_ context.Context, mux *http.ServeMux) {
	mux.Handle("/ws/session", h)
}

// ServeHTTP runs one session until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !model.ValidAddress(address) {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	address = model.NormalizeAddress(address)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.SessionOpened()
	defer metrics.SessionClosed()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go h.readPump(conn, cancel)

	h.log.Debug(ctx, "session opened", logger.String("address", address))
	h.run(ctx, conn, address)
	h.log.Debug(ctx, "session closed", logger.String("address", address))
}

// readPump discards client frames and cancels the session when the
// connection closes.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// run is the single writer of conn.
func (h *Handler) run(ctx context.Context, conn *websocket.Conn, address string) {
	notices, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	statusTick := time.NewTicker(h.statusEvery)
	defer statusTick.Stop()
	balanceTick := time.NewTicker(h.balanceEvery)
	defer balanceTick.Stop()

	if !h.send(conn, h.status(ctx, address)) || !h.send(conn, h.balance(ctx, address)) {
		return
	}
	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case <-statusTick.C:
			msg = h.status(ctx, address)
		case <-balanceTick.C:
			msg = h.balance(ctx, address)
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			msg = Message{Type: TypeLeaderboard, Address: address, Leaderboard: &n, At: time.Now()}
		}
		if ctx.Err() != nil || !h.send(conn, msg) {
			return
		}
	}
}

func (h *Handler) status(ctx context.Context, address string) Message {
	st, err := h.feed.Status(ctx, address)
	if err != nil {
		return h.failure(ctx, address, TypeStatus, err)
	}
	return Message{Type: TypeStatus, Address: address, Status: &st, At: time.Now()}
}

func (h *Handler) balance(ctx context.Context, address string) Message {
	b, err := h.feed.Balance(ctx, address)
	if err != nil {
		return h.failure(ctx, address, TypeBalance, err)
	}
	return Message{Type: TypeBalance, Address: address, Balance: &b, At: time.Now()}
}

func (h *Handler) failure(ctx context.Context, address, what string, err error) Message {
	h.log.Warn(ctx, "session poll failed",
		logger.String("address", address),
		logger.String("poll", what),
		logger.Error(err))
	return Message{Type: TypeError, Address: address, Error: what + ": " + err.Error(), At: time.Now()}
}

func (h *Handler) send(conn *websocket.Conn, msg Message) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	return true
}
