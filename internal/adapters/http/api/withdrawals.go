package api

import (
	"net/http"

	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/shopspring/decimal"
)

// WithdrawalHandler serves the withdrawal request lifecycle.
type WithdrawalHandler struct {
	deps WithdrawalDependencies
	log  logger.Logger
}

// NewWithdrawalHandler creates a new withdrawal handler.
func NewWithdrawalHandler(deps WithdrawalDependencies, log logger.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{deps: deps, log: log}
}

type pendingResponse struct {
	PendingRequests []model.WithdrawalRequest `json:"pendingRequests"`
}

// HandlePending handles GET /pending-withdrawals requests.
func (h *WithdrawalHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	const op = "api.pending_withdrawals"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	reqs, err := h.deps.PendingRequests(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if reqs == nil {
		reqs = []model.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, pendingResponse{PendingRequests: reqs})
}

type withdrawalRequest struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// HandleRequest handles POST /request-withdrawal requests.
func (h *WithdrawalHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	const op = "api.request_withdrawal"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body withdrawalRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	req, err := h.deps.RequestWithdrawal(r.Context(), body.Address, body.Amount)
	if err != nil {
		status, code := classify(err)
		if status >= statusInternalError {
			h.log.Error(r.Context(), "withdrawal request failed",
				logger.String("address", body.Address),
				logger.Error(err))
		}
		writeError(w, status, code, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type approveRequest struct {
	Address string `json:"address"`
}

type approveResponse struct {
	TxRef   string          `json:"txRef"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// HandleApprove handles POST /approve-withdrawal requests. The approval is
// issued as the configured signer.
func (h *WithdrawalHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	const op = "api.approve_withdrawal"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body approveRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	entry, err := h.deps.ApproveWithdrawal(r.Context(), body.Address)
	if err != nil {
		status, code := classify(err)
		if status >= statusInternalError {
			h.log.Error(r.Context(), "withdrawal approval failed",
				logger.String("address", body.Address),
				logger.Error(err))
		}
		writeError(w, status, code, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{
		TxRef:   entry.TxRef,
		Address: entry.Address,
		Amount:  entry.Amount,
	})
}

// HandleStatus handles GET /status/{address} requests.
func (h *WithdrawalHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.request_status"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	address := pathParam(r, "/status/")
	if address == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	status, err := h.deps.Status(r.Context(), address)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
