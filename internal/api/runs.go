package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/applyforge/applyforge/internal/events"
	"github.com/applyforge/applyforge/internal/run"
	"github.com/applyforge/applyforge/internal/store"
)

type runResponse struct {
	ID              string         `json:"id"`
	JobID           string         `json:"job_id"`
	ProfileID       string         `json:"profile_id"`
	JobURL          string         `json:"job_url"`
	Mode            string         `json:"mode"`
	SubmitRequested bool           `json:"submit_requested"`
	Status          string         `json:"status"`
	Stage           string         `json:"stage"`
	Context         map[string]any `json:"context,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	CompletedAt     string         `json:"completed_at,omitempty"`
}

func toRunResponse(snapshot *store.Run) runResponse {
	return runResponse{
		ID:              snapshot.ID,
		JobID:           snapshot.JobID,
		ProfileID:       snapshot.ProfileID,
		JobURL:          snapshot.JobURL,
		Mode:            snapshot.Mode,
		SubmitRequested: snapshot.SubmitRequested,
		Status:          snapshot.Status,
		Stage:           snapshot.Stage,
		Context:         snapshot.Context,
		Error:           snapshot.Error,
		CreatedAt:       snapshot.CreatedAt,
		UpdatedAt:       snapshot.UpdatedAt,
		CompletedAt:     snapshot.CompletedAt,
	}
}

type runListResponse struct {
	Runs []runResponse `json:"runs"`
}

type eventListResponse struct {
	Events []events.RunEvent `json:"events"`
}

type createRunRequest struct {
	JobURL    string `json:"job_url" validate:"required,url"`
	ProfileID string `json:"profile_id" validate:"required"`
	Mode      string `json:"mode" validate:"omitempty,oneof=strict medium yolo"`
	Submit    bool   `json:"submit"`
}

type resolveApprovalRequest struct {
	EventID int64 `json:"event_id" validate:"required"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshot, err := s.runner.Start(r.Context(), run.StartInput{
		JobURL:    req.JobURL,
		ProfileID: req.ProfileID,
		Mode:      req.Mode,
		Submit:    req.Submit,
	})
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, toRunResponse(snapshot))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]runResponse, 0, len(runs))
	for i := range runs {
		items = append(items, toRunResponse(&runs[i]))
	}
	writeJSON(w, runListResponse{Runs: items})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snapshot == nil {
		http.Error(w, store.ErrRunNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, toRunResponse(snapshot))
}

func (s *Server) advanceRun(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.runner.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, toRunResponse(snapshot))
}

func (s *Server) approveEvent(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, true)
}

func (s *Server) rejectEvent(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, false)
}

func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	var req resolveApprovalRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshot, err := s.runner.Resolve(r.Context(), chi.URLParam(r, "id"), req.EventID, approve)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, toRunResponse(snapshot))
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.runner.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, toRunResponse(snapshot))
}

func (s *Server) listRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.requireRun(w, r, runID) {
		return
	}
	stored, err := s.store.ListEvents(r.Context(), runID, parseAfterSeq(runID, r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]events.RunEvent, 0, len(stored))
	for _, event := range stored {
		items = append(items, events.FromStore(event))
	}
	writeJSON(w, eventListResponse{Events: items})
}
