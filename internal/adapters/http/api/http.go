// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	service "github.com/okian/fusion/internal/app"
	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RequestAssessment(ctx context.Context, studentID, skill string) (model.Assessment, error)
	RequestBatch(ctx context.Context, studentIDs []string, skill string) (service.BatchResult, error)

	Weights(skill string) (weights.Snapshot, error)
	UpdateWeights(ctx context.Context, skill string, raw map[string]float64) (int64, error)
	ReloadWeights(ctx context.Context) (int64, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	assessmentHandler *AssessmentHandler
	weightsHandler    *WeightsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		assessmentHandler: NewAssessmentHandler(deps),
		weightsHandler:    NewWeightsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/assessments", MetricsMiddleware(s.assessmentHandler.HandlePostAssessment, "assessments"))
	mux.HandleFunc("/assessments/batch", MetricsMiddleware(s.assessmentHandler.HandlePostBatch, "assessments_batch"))
	mux.HandleFunc("/weights/reload", MetricsMiddleware(s.weightsHandler.HandleReload, "weights_reload"))
	mux.HandleFunc("/weights/", MetricsMiddleware(s.weightsHandler.HandleWeights, "weights"))
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

// writeServiceError maps service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, weights.ErrInvalidWeightConfig):
		writeError(w, http.StatusUnprocessableEntity, "invalid_weights", err)
	case errors.Is(err, weights.ErrNoPersister):
		writeError(w, http.StatusConflict, "no_persister", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "canceled", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

type weightsResponse struct {
	Skill     string             `json:"skill"`
	Default   bool               `json:"default"`
	Version   int64              `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Weights   map[string]float64 `json:"weights"`
}

func newWeightsResponse(skill string, snap weights.Snapshot) weightsResponse {
	out := weightsResponse{
		Skill:     skill,
		Default:   snap.IsDefault(),
		Version:   snap.Version(),
		UpdatedAt: snap.UpdatedAt(),
		Weights:   map[string]float64{},
	}
	for src, w := range snap.Weights() {
		out.Weights[string(src)] = w
	}
	return out
}
