package api

import (
	"net/http"

	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/logger"
)

// IdentityHandler serves registration, XP grants and entitlement reads.
type IdentityHandler struct {
	deps IdentityDependencies
	log  logger.Logger
}

// NewIdentityHandler creates a new identity handler.
func NewIdentityHandler(deps IdentityDependencies, log logger.Logger) *IdentityHandler {
	return &IdentityHandler{deps: deps, log: log}
}

// HandleRegister handles POST /register requests.
func (h *IdentityHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var id model.Identity
	if err := decodeBody(w, r, &id); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	reg, err := h.deps.Register(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type grantRequest struct {
	Address string `json:"address"`
}

// HandleGrantXP handles POST /grant-xp requests.
func (h *IdentityHandler) HandleGrantXP(w http.ResponseWriter, r *http.Request) {
	const op = "api.grant_xp"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body grantRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.GrantXP(r.Context(), body.Address)
	if err != nil {
		h.log.Warn(r.Context(), "xp grant failed",
			logger.String("address", body.Address),
			logger.Error(err))
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleEntitlement handles GET /entitlement/{address} requests.
func (h *IdentityHandler) HandleEntitlement(w http.ResponseWriter, r *http.Request) {
	const op = "api.entitlement"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	address := pathParam(r, "/entitlement/")
	if address == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	e, err := h.deps.Entitlement(r.Context(), address)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}
