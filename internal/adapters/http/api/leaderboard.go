package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/ucoin/internal/domain/leaderboard"
	"github.com/okian/ucoin/internal/domain/model"
)

const defaultLimit = 10

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	TopN(ctx context.Context, n int) ([]Entry, error)
	ScoreIdentities(ctx context.Context, ids []model.Identity) ([]leaderboard.Result, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
	}
	n = min(n, h.maxLimit)
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Entries: entries})
}

type leaderboardResponse struct {
	Entries []Entry `json:"entries"`
}

type scoreRequest struct {
	Identities []model.Identity `json:"identities"`
}

type scoreResponse struct {
	Results []leaderboard.Result `json:"results"`
}

// HandleScoreIdentities handles POST /leaderboard-xp requests.
func (h *LeaderboardHandler) HandleScoreIdentities(w http.ResponseWriter, r *http.Request) {
	const op = "api.score_identities"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req scoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Identities == nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("identities array expected")))
		return
	}
	results, err := h.deps.ScoreIdentities(r.Context(), req.Identities)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Results: results})
}
