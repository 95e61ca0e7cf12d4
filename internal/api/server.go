package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/events"
	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/run"
	"github.com/applyforge/applyforge/internal/store"
)

// Runner is the orchestrator surface the API drives. Mutations return the
// run snapshot after the orchestrator has gone as far as it can.
type Runner interface {
	Start(ctx context.Context, input run.StartInput) (*store.Run, error)
	Advance(ctx context.Context, runID string) (*store.Run, error)
	Resolve(ctx context.Context, runID string, seq int64, approve bool) (*store.Run, error)
	Cancel(ctx context.Context, runID string) (*store.Run, error)
}

// Broker delivers live run events to SSE subscribers.
type Broker interface {
	Subscribe(ctx context.Context, runID string) <-chan events.RunEvent
}

// ProviderDirectory reports model router configuration with keys masked.
type ProviderDirectory interface {
	Providers() []llm.ProviderStatus
	Routes() map[string]string
}

// TextFetcher retrieves the readable text of a job posting.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// JobAnalyzer extracts structured posting fields for job intake.
type JobAnalyzer interface {
	AnalyzeJob(ctx context.Context, jobURL string, jobText string) (llm.JobAnalysis, error)
}

// AnswerSource resolves an application question against the profile's answer
// bank with a drafted fallback, reporting the answer's provenance.
type AnswerSource interface {
	Resolve(ctx context.Context, question string, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (text string, source string, confidence float64, err error)
}

// Dependencies carries the collaborators behind the HTTP surface.
type Dependencies struct {
	Store     store.Store
	Runner    Runner
	Broker    Broker
	Providers ProviderDirectory
	Fetcher   TextFetcher
	Analyzer  JobAnalyzer
	Answers   AnswerSource
}

type Server struct {
	store     store.Store
	runner    Runner
	broker    Broker
	providers ProviderDirectory
	fetcher   TextFetcher
	analyzer  JobAnalyzer
	answers   AnswerSource
}

func NewServer(deps Dependencies) *Server {
	return &Server{
		store:     deps.Store,
		runner:    deps.Runner,
		broker:    deps.Broker,
		providers: deps.Providers,
		fetcher:   deps.Fetcher,
		analyzer:  deps.Analyzer,
		answers:   deps.Answers,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.createRun)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
		r.Post("/runs/{id}/advance", s.advanceRun)
		r.Post("/runs/{id}/approve", s.approveEvent)
		r.Post("/runs/{id}/reject", s.rejectEvent)
		r.Post("/runs/{id}/cancel", s.cancelRun)
		r.Get("/runs/{id}/events", s.listRunEvents)
		r.Get("/runs/{id}/events/stream", s.streamEvents)
		r.Get("/runs/{id}/timeline", s.getRunTimeline)
		r.Get("/runs/{id}/documents", s.listRunDocuments)
		r.Get("/runs/{id}/patches", s.listRunPatches)

		r.Post("/profiles", s.createProfile)
		r.Get("/profiles", s.listProfiles)
		r.Get("/profiles/{id}", s.getProfile)
		r.Post("/profiles/{id}/answers", s.recordAnswer)
		r.Get("/profiles/{id}/questionnaire", s.listQuestionnaire)
		r.Post("/profiles/{id}/questionnaire/draft", s.draftAnswer)
		r.Post("/profiles/{id}/questionnaire/{hash}/verify", s.verifyAnswer)
		r.Post("/profiles/{id}/questionnaire/{hash}/reject", s.rejectAnswer)
		r.Get("/profiles/{id}/skills", s.listProfileSkills)
		r.Post("/profiles/{id}/skills", s.upsertProfileSkill)

		r.Post("/jobs/intake", s.intakeJob)
		r.Get("/jobs", s.listJobs)

		r.Get("/llm/providers", s.getLLMProviders)
	})

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodOptions {
		return true
	}
	if method != http.MethodGet {
		return false
	}
	if strings.HasSuffix(cleanPath, "/events") || strings.HasSuffix(cleanPath, "/events/stream") {
		return true
	}
	return cleanPath == "/api/runs" || cleanPath == "/healthz" || cleanPath == "/readyz"
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListRuns(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

// streamEvents replays the stored log past the caller's cursor and then
// follows live events. Subscribing before the replay closes the gap between
// the two; the seq check drops events seen in both.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.requireRun(w, r, runID) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	afterSeq := parseAfterSeq(runID, r)
	eventsChan := s.broker.Subscribe(ctx, runID)

	stored, err := s.store.ListEvents(ctx, runID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lastSeq := afterSeq
	for _, event := range stored {
		sendSSE(w, events.FromStore(event))
		flusher.Flush()
		lastSeq = event.Seq
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			sendSSE(w, event)
			flusher.Flush()
			lastSeq = event.Seq
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.RunEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.RunID, event.Seq)
	fmt.Fprint(w, "event: run_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// parseAfterSeq reads the replay cursor from the after_seq query parameter,
// falling back to the SSE Last-Event-ID header ("runID:seq").
func parseAfterSeq(runID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	parts := strings.Split(lastEventID, ":")
	if len(parts) != 2 {
		return 0
	}
	if parts[0] != runID {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

var validate = validator.New()

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			first := fieldErrors[0]
			return fmt.Errorf("%s: failed on '%s' validation", first.Field(), first.Tag())
		}
		return err
	}
	return nil
}

// writeRunError maps orchestrator and store errors onto transport codes:
// unknown resources are 404, approval races and busy sessions are 409,
// anything else is a 500.
func writeRunError(w http.ResponseWriter, err error) {
	var stale *run.StaleApprovalError
	var busy *browser.SessionBusyError
	switch {
	case errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, store.ErrProfileNotFound),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrEventNotFound),
		errors.Is(err, store.ErrAnswerNotFound),
		errors.Is(err, store.ErrPatchNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &stale), errors.As(err, &busy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
