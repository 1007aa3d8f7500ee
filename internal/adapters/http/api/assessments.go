package api

import (
	"net/http"

	model "github.com/okian/fusion/internal/domain/model"
)

type assessmentRequest struct {
	StudentID string `json:"student_id"`
	Skill     string `json:"skill"`
}

type batchRequest struct {
	StudentIDs []string `json:"student_ids"`
	Skill      string   `json:"skill"`
}

type batchItem struct {
	StudentID  string            `json:"student_id"`
	Assessment *model.Assessment `json:"assessment,omitempty"`
	Error      *errorResponse    `json:"error,omitempty"`
}

type batchResponse struct {
	BatchID   string      `json:"batch_id"`
	Skill     model.Skill `json:"skill"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []batchItem `json:"results"`
}

// AssessmentHandler handles single and batch assessments.
type AssessmentHandler struct {
	deps Dependencies
}

// NewAssessmentHandler creates a new assessment handler.
func NewAssessmentHandler(deps Dependencies) *AssessmentHandler {
	return &AssessmentHandler{deps: deps}
}

// HandlePostAssessment handles POST /assessments requests.
func (h *AssessmentHandler) HandlePostAssessment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", ErrMethodNotAllowed)
		return
	}
	var req assessmentRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	a, err := h.deps.RequestAssessment(r.Context(), req.StudentID, req.Skill)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandlePostBatch handles POST /assessments/batch requests. Per-student
// failures are reported inline; the response is 200 unless the batch itself
// is invalid.
func (h *AssessmentHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", ErrMethodNotAllowed)
		return
	}
	var req batchRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	out, err := h.deps.RequestBatch(r.Context(), req.StudentIDs, req.Skill)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := batchResponse{BatchID: out.ID, Skill: out.Skill, Results: make([]batchItem, len(out.Results))}
	for i, res := range out.Results {
		item := batchItem{StudentID: res.StudentID, Assessment: res.Assessment}
		if res.Err != nil {
			code := "internal_error"
			if isInputError(res.Err) {
				code = "invalid_input"
			}
			item.Error = &errorResponse{Code: code, Message: res.Err.Error()}
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results[i] = item
	}
	writeJSON(w, http.StatusOK, resp)
}
