package api

import (
	"net/http"

	"github.com/okian/neodrop/internal/domain/types"
)

// RewardsHandler handles token balance and award replay routes.
type RewardsHandler struct {
	deps RewardDependencies
}

// NewRewardsHandler creates a new rewards handler.
func NewRewardsHandler(deps RewardDependencies) *RewardsHandler {
	return &RewardsHandler{deps: deps}
}

// HandleBalance handles GET /nft/balance?account=&neo_id=. Without neo_id the
// current NEO's token is read.
func (h *RewardsHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bal, err := h.deps.Balance(r.Context(), q.Get("account"), q.Get("neo_id"))
	if err != nil {
		writeFailure(w, Wrap("api.balance", err))
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type balanceBatchRequest struct {
	Accounts []string `json:"accounts"`
	NeoIDs   []string `json:"neo_ids"`
}

type balanceBatchResponse struct {
	Balances []types.Balance `json:"balances"`
}

// HandleBalanceBatch handles POST /nft/balance/batch. accounts[i] is read
// against neo_ids[i].
func (h *RewardsHandler) HandleBalanceBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.balance_batch"
	var req balanceBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	bals, err := h.deps.BalanceBatch(r.Context(), req.Accounts, req.NeoIDs)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, balanceBatchResponse{Balances: bals})
}

// HandleURI handles GET /nft/uri/{neo_id}.
func (h *RewardsHandler) HandleURI(w http.ResponseWriter, r *http.Request) {
	uri, err := h.deps.TokenURI(r.Context(), r.PathValue("neo_id"))
	if err != nil {
		writeFailure(w, Wrap("api.token_uri", err))
		return
	}
	writeJSON(w, http.StatusOK, uri)
}

// HandleOwners handles GET /nft/owners/{neo_id}.
func (h *RewardsHandler) HandleOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.deps.TokenOwners(r.Context(), r.PathValue("neo_id"))
	if err != nil {
		writeFailure(w, Wrap("api.token_owners", err))
		return
	}
	writeJSON(w, http.StatusOK, owners)
}

// HandleOwnedBy handles GET /nft/owned/{account}.
func (h *RewardsHandler) HandleOwnedBy(w http.ResponseWriter, r *http.Request) {
	held, err := h.deps.OwnedBy(r.Context(), r.PathValue("account"))
	if err != nil {
		writeFailure(w, Wrap("api.owned_by", err))
		return
	}
	writeJSON(w, http.StatusOK, held)
}

// HandleInfo handles GET /nft/info/{neo_id}.
func (h *RewardsHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.deps.TokenInfo(r.Context(), r.PathValue("neo_id"))
	if err != nil {
		writeFailure(w, Wrap("api.token_info", err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// replayRequest is the optional body of POST /admin/awards/replay. An empty
// body replays the winners the last award pass left unrewarded.
type replayRequest struct {
	NeoID    string   `json:"neo_id"`
	Accounts []string `json:"accounts"`
}

type replayFailure struct {
	errorResponse
	Run *types.AwardRun `json:"run,omitempty"`
}

// HandleReplay handles POST /admin/awards/replay.
func (h *RewardsHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	const op = "api.replay_award"
	var req replayRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	run, err := h.deps.ReplayAward(r.Context(), req.NeoID, req.Accounts)
	if err != nil {
		err = Wrap(op, err)
		status, code := statusFor(err)
		body := replayFailure{errorResponse: errorResponse{Code: code, Message: err.Error()}}
		if run.NeoID != "" {
			body.Run = &run
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
