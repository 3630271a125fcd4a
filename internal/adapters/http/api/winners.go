package api

import (
	"errors"
	"net/http"
	"strings"
)

// WinnersHandler handles winner reports.
type WinnersHandler struct {
	deps WinnerDependencies
}

// NewWinnersHandler creates a new winners handler.
func NewWinnersHandler(deps WinnerDependencies) *WinnersHandler {
	return &WinnersHandler{deps: deps}
}

// winnerRequest is the body of POST /winners.
type winnerRequest struct {
	Account string `json:"account"`
}

// HandleRecord handles POST /winners. Repeated reports succeed without
// adding a second entry.
func (h *WinnersHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	const op = "api.record_winner"
	var req winnerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Account) == "" {
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("missing account")))
		return
	}
	neoID, err := h.deps.RecordWinner(r.Context(), req.Account)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "recorded", NeoID: neoID})
}

// HandleList handles GET /winners.
func (h *WinnersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	winners, err := h.deps.CurrentWinners(r.Context())
	if err != nil {
		writeFailure(w, Wrap("api.list_winners", err))
		return
	}
	writeJSON(w, http.StatusOK, winners)
}

// HandleForget handles DELETE /winners/{account}.
func (h *WinnersHandler) HandleForget(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ForgetAccount(r.Context(), r.PathValue("account")); err != nil {
		writeFailure(w, Wrap("api.forget_account", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
