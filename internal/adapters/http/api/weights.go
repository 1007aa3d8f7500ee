package api

import (
	"errors"
	"net/http"
	"strings"

	model "github.com/okian/fusion/internal/domain/model"
)

type weightsRequest struct {
	Weights map[string]float64 `json:"weights"`
}

type versionResponse struct {
	Version int64 `json:"version"`
}

// WeightsHandler reads and updates weight mappings.
type WeightsHandler struct {
	deps Dependencies
}

// NewWeightsHandler creates a new weights handler.
func NewWeightsHandler(deps Dependencies) *WeightsHandler {
	return &WeightsHandler{deps: deps}
}

// HandleWeights handles GET and PUT /weights/{skill}. The skill "default"
// addresses the global mapping.
func (h *WeightsHandler) HandleWeights(w http.ResponseWriter, r *http.Request) {
	skill := strings.TrimPrefix(r.URL.Path, "/weights/")
	if skill == "" || strings.Contains(skill, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := h.deps.Weights(skill)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newWeightsResponse(skill, snap))
	case http.MethodPut:
		var req weightsRequest
		if err := decode(r, w, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		v, err := h.deps.UpdateWeights(r.Context(), skill, req.Weights)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, versionResponse{Version: v})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", ErrMethodNotAllowed)
	}
}

// HandleReload handles POST /weights/reload requests.
func (h *WeightsHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", ErrMethodNotAllowed)
		return
	}
	v, err := h.deps.ReloadWeights(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versionResponse{Version: v})
}

func isInputError(err error) bool {
	return errors.Is(err, model.ErrInvalidInput)
}
