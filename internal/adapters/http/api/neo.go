package api

import (
	"net/http"
	"strconv"
)

// NeoHandler handles the current NEO and leaderboard routes.
type NeoHandler struct {
	deps NeoDependencies
}

// NewNeoHandler creates a new NEO handler.
func NewNeoHandler(deps NeoDependencies) *NeoHandler {
	return &NeoHandler{deps: deps}
}

// HandleGetNeo handles GET /neo requests.
func (h *NeoHandler) HandleGetNeo(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.CurrentNeo(r.Context())
	if err != nil {
		writeFailure(w, Wrap("api.get_neo", err))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// HandleRotate handles PUT /neo: end the current cycle and install the next NEO.
func (h *NeoHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.ForceRotate(r.Context())
	if err != nil {
		writeFailure(w, Wrap("api.rotate_neo", err))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// HandleRegenerate handles POST /neo/regenerate: the next quiz tick also
// rotates the NEO.
func (h *NeoHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.RequestRegeneration(r.Context()); err != nil {
		writeFailure(w, Wrap("api.regenerate", err))
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "scheduled"})
}

// HandleTop handles GET /neo/top/{attribute}?limit=N requests.
func (h *NeoHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	const op = "api.top"
	limit := defaultTopLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		limit = n
	}
	entries, err := h.deps.TopN(r.Context(), r.PathValue("attribute"), limit)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type statusResponse struct {
	Status string `json:"status"`
	NeoID  string `json:"neo_id,omitempty"`
}
