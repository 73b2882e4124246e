// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	service "github.com/okian/ucoin/internal/app"
	"github.com/okian/ucoin/internal/domain/leaderboard"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/internal/domain/scoring"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/shopspring/decimal"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LeaderboardDependencies
	RankDependencies
	WithdrawalDependencies
	IdentityDependencies
}

// WithdrawalDependencies backs the withdrawal routes.
type WithdrawalDependencies interface {
	PendingRequests(ctx context.Context) ([]model.WithdrawalRequest, error)
	RequestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, address string) (model.ClaimEntry, error)
	Status(ctx context.Context, address string) (model.RequestStatus, error)
}

// IdentityDependencies backs registration, scoring and entitlement routes.
type IdentityDependencies interface {
	Register(ctx context.Context, id model.Identity) (ledger.Registration, error)
	GrantXP(ctx context.Context, address string) (scoring.Result, error)
	Entitlement(ctx context.Context, address string) (service.Entitlement, error)
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = leaderboard.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	withdrawalHandler  *WithdrawalHandler
	identityHandler    *IdentityHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
		withdrawalHandler:  NewWithdrawalHandler(deps, log.Named("withdrawals")),
		identityHandler:    NewIdentityHandler(deps, log.Named("identities")),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/leaderboard-xp", MetricsMiddleware(s.leaderboardHandler.HandleScoreIdentities, "leaderboard_xp"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/pending-withdrawals", MetricsMiddleware(s.withdrawalHandler.HandlePending, "pending_withdrawals"))
	mux.HandleFunc("/request-withdrawal", MetricsMiddleware(s.withdrawalHandler.HandleRequest, "request_withdrawal"))
	mux.HandleFunc("/approve-withdrawal", MetricsMiddleware(s.withdrawalHandler.HandleApprove, "approve_withdrawal"))
	mux.HandleFunc("/status/", MetricsMiddleware(s.withdrawalHandler.HandleStatus, "status"))
	mux.HandleFunc("/register", MetricsMiddleware(s.identityHandler.HandleRegister, "register"))
	mux.HandleFunc("/grant-xp", MetricsMiddleware(s.identityHandler.HandleGrantXP, "grant_xp"))
	mux.HandleFunc("/entitlement/", MetricsMiddleware(s.identityHandler.HandleEntitlement, "entitlement"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure classifies err and writes it.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathParam returns the single path segment after prefix, or "".
func pathParam(r *http.Request, prefix string) string {
	p := strings.TrimPrefix(r.URL.Path, prefix)
	if p == r.URL.Path || strings.Contains(p, "/") {
		return ""
	}
	return p
}
