package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/store"
)

type intakeJobRequest struct {
	URL       string `json:"url" validate:"required,url"`
	ProfileID string `json:"profile_id" validate:"required"`
}

type intakeJobResponse struct {
	JobID        string   `json:"job_id"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Requirements []string `json:"requirements"`
}

// intakeJob registers a posting and analyzes it without starting a run, so a
// candidate can inspect the extraction before committing to an application.
func (s *Server) intakeJob(w http.ResponseWriter, r *http.Request) {
	var req intakeJobRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.requireProfile(w, r, req.ProfileID) {
		return
	}

	job := store.Job{
		ID:     uuid.New().String(),
		URL:    req.URL,
		Domain: browser.DetectAdapter(req.URL).Name,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	text, err := s.fetcher.FetchText(r.Context(), req.URL)
	if err != nil {
		log.Printf("job intake: fetch %s: %v", req.URL, err)
		text = ""
	}
	analysis, err := s.analyzer.AnalyzeJob(r.Context(), req.URL, text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	job.Title = analysis.Title
	job.Company = analysis.Company
	job.Location = analysis.Location
	job.Compensation = analysis.Compensation
	job.Requirements = analysis.Requirements
	job.Responsibilities = analysis.Responsibilities
	job.Keywords = analysis.Keywords
	job.JDText = text
	job.JDHash = store.TextHash(text)
	if err := s.store.UpdateJobAnalysis(r.Context(), job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, intakeJobResponse{
		JobID:        job.ID,
		Title:        analysis.Title,
		Company:      analysis.Company,
		Location:     analysis.Location,
		Requirements: analysis.Requirements,
	})
}

type jobResponse struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Domain       string   `json:"domain"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Compensation string   `json:"compensation,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type jobListResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	jobs, err := s.store.ListJobs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, jobResponse{
			ID:           job.ID,
			URL:          job.URL,
			Domain:       job.Domain,
			Title:        job.Title,
			Company:      job.Company,
			Location:     job.Location,
			Compensation: job.Compensation,
			Requirements: job.Requirements,
			Keywords:     job.Keywords,
			CreatedAt:    job.CreatedAt,
			UpdatedAt:    job.UpdatedAt,
		})
	}
	writeJSON(w, jobListResponse{Jobs: items})
}
