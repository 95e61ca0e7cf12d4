package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/applyforge/applyforge/internal/store"
)

type documentResponse struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	JobID     string         `json:"job_id"`
	ProfileID string         `json:"profile_id"`
	Kind      string         `json:"kind"`
	Markdown  string         `json:"markdown"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type documentListResponse struct {
	Documents []documentResponse `json:"documents"`
}

type patchResponse struct {
	ID         string                 `json:"id"`
	RunID      string                 `json:"run_id"`
	Provider   string                 `json:"provider"`
	Rationale  string                 `json:"rationale"`
	Operations []store.PatchOperation `json:"operations"`
	Confidence float64                `json:"confidence"`
	Status     string                 `json:"status"`
	CreatedAt  string                 `json:"created_at"`
	UpdatedAt  string                 `json:"updated_at"`
}

type patchListResponse struct {
	Patches []patchResponse `json:"patches"`
}

func (s *Server) listRunDocuments(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.requireRun(w, r, runID) {
		return
	}
	docs, err := s.store.ListDocuments(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentResponse{
			ID:        doc.ID,
			RunID:     doc.RunID,
			JobID:     doc.JobID,
			ProfileID: doc.ProfileID,
			Kind:      doc.Kind,
			Markdown:  doc.Markdown,
			Metadata:  doc.Metadata,
			CreatedAt: doc.CreatedAt,
		})
	}
	writeJSON(w, documentListResponse{Documents: items})
}

func (s *Server) listRunPatches(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.requireRun(w, r, runID) {
		return
	}
	suggestions, err := s.store.ListPatchSuggestions(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]patchResponse, 0, len(suggestions))
	for _, suggestion := range suggestions {
		items = append(items, patchResponse{
			ID:         suggestion.ID,
			RunID:      suggestion.RunID,
			Provider:   suggestion.Provider,
			Rationale:  suggestion.Rationale,
			Operations: suggestion.Operations,
			Confidence: suggestion.Confidence,
			Status:     suggestion.Status,
			CreatedAt:  suggestion.CreatedAt,
			UpdatedAt:  suggestion.UpdatedAt,
		})
	}
	writeJSON(w, patchListResponse{Patches: items})
}

type stageTimelineEntry struct {
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
	GateAction  string `json:"gate_action,omitempty"`
	GateStatus  string `json:"gate_status,omitempty"`
}

type stageTimelineResponse struct {
	Stages []stageTimelineEntry `json:"stages"`
}

// getRunTimeline folds the event log into one row per stage for timeline
// rendering.
func (s *Server) getRunTimeline(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.requireRun(w, r, runID) {
		return
	}
	stored, err := s.store.ListEvents(r.Context(), runID, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	timeline := store.BuildStageTimeline(stored)
	items := make([]stageTimelineEntry, 0, len(timeline))
	for _, row := range timeline {
		items = append(items, stageTimelineEntry{
			Stage:       row.Stage,
			Status:      row.Status,
			StartedAt:   row.StartedAt,
			CompletedAt: row.CompletedAt,
			Error:       row.Error,
			Provider:    row.Provider,
			Degraded:    row.Degraded,
			GateAction:  row.GateAction,
			GateStatus:  row.GateStatus,
		})
	}
	writeJSON(w, stageTimelineResponse{Stages: items})
}

// requireRun writes a 404 and returns false when the run does not exist.
func (s *Server) requireRun(w http.ResponseWriter, r *http.Request, runID string) bool {
	snapshot, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
	if snapshot == nil {
		http.Error(w, store.ErrRunNotFound.Error(), http.StatusNotFound)
		return false
	}
	return true
}
