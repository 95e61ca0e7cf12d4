package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/events"
	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/run"
	"github.com/applyforge/applyforge/internal/store"
	"github.com/applyforge/applyforge/internal/store/memory"
)

const postingURL = "https://boards.greenhouse.io/initech/jobs/7200"

type stubTasks struct{}

func (stubTasks) AnalyzeJob(ctx context.Context, jobURL, jobText string) (llm.JobAnalysis, error) {
	return llm.JobAnalysis{
		Title:        "Platform Engineer",
		Company:      "Initech",
		Location:     "Remote",
		Requirements: []string{"Go", "Kubernetes"},
		Keywords:     []string{"go", "kubernetes"},
		Provider:     "openai",
	}, nil
}

func (stubTasks) TailorDocuments(ctx context.Context, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (llm.TailoredDocuments, error) {
	return llm.TailoredDocuments{
		ResumeMarkdown:      "# Avery Quinn",
		CoverLetterMarkdown: "Dear Initech,",
		Metadata:            map[string]any{"strategy": "llm"},
		Provider:            "openai",
	}, nil
}

func (stubTasks) SuggestPatch(ctx context.Context, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (llm.PatchBundle, error) {
	return llm.PatchBundle{
		Rationale: "posting emphasizes hybrid work",
		Operations: []store.PatchOperation{
			{
				Table:      store.TablePreferences,
				Operation:  store.OpUpsert,
				Values:     map[string]any{"remote": "hybrid"},
				Source:     "jd_inference",
				Confidence: 0.8,
			},
		},
		Confidence: 0.9,
		Provider:   "openai",
	}, nil
}

type stubFetcher struct{}

func (stubFetcher) FetchText(ctx context.Context, url string) (string, error) {
	return "Platform Engineer role at Initech. Go and Kubernetes required.", nil
}

type stubEngine struct{}

func (stubEngine) Perform(ctx context.Context, intent browser.Intent) browser.Outcome {
	return browser.Outcome{Status: browser.OutcomeSuccess, Detail: "ok: " + intent.Section}
}

// stubDrafter answers sponsorship questions and declines everything else.
type stubDrafter struct{}

func (stubDrafter) DraftAnswer(ctx context.Context, question string, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (string, error) {
	if strings.Contains(strings.ToLower(question), "sponsorship") {
		return "No, I do not require sponsorship.", nil
	}
	return "UNKNOWN", nil
}

type apiHarness struct {
	store    *memory.MemoryStore
	broker   *events.Broker
	sessions *browser.Sessions
	server   *httptest.Server
	profile  store.Profile
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	st := memory.New()
	broker := events.NewBroker()
	emitter := events.NewEmitter(st, broker)
	sessions := browser.NewSessions()
	orch := run.NewOrchestrator(st, emitter, stubTasks{}, stubFetcher{}, stubEngine{}, sessions, run.Options{})

	router, err := llm.NewRouter(llm.Config{})
	require.NoError(t, err)

	server := NewServer(Dependencies{
		Store:     st,
		Runner:    orch,
		Broker:    broker,
		Providers: router,
		Fetcher:   stubFetcher{},
		Analyzer:  stubTasks{},
		Answers:   browser.NewAnswerResolver(st, stubDrafter{}),
	})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	profile := store.Profile{
		ID:          uuid.New().String(),
		Name:        "Avery Quinn",
		JobFamily:   "backend",
		Preferences: map[string]any{"remote": "remote"},
	}
	require.NoError(t, st.CreateProfile(context.Background(), profile))

	return &apiHarness{store: st, broker: broker, sessions: sessions, server: ts, profile: profile}
}

func (h *apiHarness) post(t *testing.T, path string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (h *apiHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeRun(t *testing.T, resp *http.Response) runResponse {
	t.Helper()
	defer resp.Body.Close()
	var out runResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return string(data), err
}

func decodeEvents(t *testing.T, resp *http.Response) []events.RunEvent {
	t.Helper()
	defer resp.Body.Close()
	var out eventListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Events
}

// lastPending returns the newest pending approval event of a run.
func (h *apiHarness) lastPending(t *testing.T, runID string) events.RunEvent {
	t.Helper()
	resp := h.get(t, "/api/runs/"+runID+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decodeEvents(t, resp)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].RequiresApproval && all[i].ApprovalStatus == store.ApprovalPending {
			return all[i]
		}
	}
	t.Fatalf("no pending approval event for run %s", runID)
	return events.RunEvent{}
}

func TestNewServer(t *testing.T) {
	h := newAPIHarness(t)
	require.NotNil(t, h.server)
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.get(t, "/healthz")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "ok", payload["status"])
}

func TestReadyz(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.get(t, "/readyz")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload readinessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "ok", payload.Status)
	require.Equal(t, "ok", payload.Subsystems["store"].Status)
}

func TestCORSPreflight(t *testing.T) {
	h := newAPIHarness(t)

	req, err := http.NewRequest(http.MethodOptions, h.server.URL+"/api/runs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Last-Event-ID")
}

func TestLLMProviders(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.get(t, "/api/llm/providers")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload providersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Providers, 2)
	for _, provider := range payload.Providers {
		require.NotEmpty(t, provider.Name)
		require.False(t, provider.HasAPIKey)
		require.Empty(t, provider.APIKeyHint)
	}
	for _, category := range []string{"plan", "extract", "db_patch", "writer"} {
		require.Contains(t, payload.Routes, category)
	}
}

func TestStreamEvents(t *testing.T) {
	t.Run("replays then follows live without duplicates", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decodeRun(t, h.post(t, "/api/runs", fmt.Sprintf(
			`{"job_url":%q,"profile_id":%q,"mode":"yolo","submit":true}`, postingURL, h.profile.ID)))
		require.Equal(t, store.StatusCompleted, created.Status)

		stored := decodeEvents(t, h.get(t, "/api/runs/"+created.ID+"/events"))
		require.NotEmpty(t, stored)
		maxSeq := stored[len(stored)-1].Seq

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/api/runs/"+created.ID+"/events/stream", nil)
		require.NoError(t, err)

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		go func() {
			time.Sleep(50 * time.Millisecond)
			// A replayed event published again must be dropped by the seq cursor.
			h.broker.Publish(events.RunEvent{RunID: created.ID, Seq: 1, Kind: store.EventStageStarted, Stage: store.StageParsing, Action: "created"})
			h.broker.Publish(events.RunEvent{RunID: created.ID, Seq: maxSeq + 1, Kind: store.EventStageCompleted, Stage: store.StageDone, Action: "live_probe"})
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		body, err := io.ReadAll(resp.Body)
		if err != nil && !errors.Is(err, context.Canceled) {
			require.NoError(t, err)
		}
		text := string(body)
		require.Contains(t, text, "event: run_event")
		require.Contains(t, text, "live_probe")
		require.Contains(t, text, fmt.Sprintf("id: %s:%d\n", created.ID, maxSeq))
		require.Equal(t, 1, strings.Count(text, fmt.Sprintf("id: %s:1\n", created.ID)))
	})

	t.Run("unknown run", func(t *testing.T) {
		h := newAPIHarness(t)
		resp := h.get(t, "/api/runs/nope/events/stream")
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("resumes from Last-Event-ID", func(t *testing.T) {
		h := newAPIHarness(t)
		created := decodeRun(t, h.post(t, "/api/runs", fmt.Sprintf(
			`{"job_url":%q,"profile_id":%q,"mode":"yolo"}`, postingURL, h.profile.ID)))
		require.Equal(t, store.StatusCompleted, created.Status)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/api/runs/"+created.ID+"/events/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Last-Event-ID", created.ID+":2")

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		body, err := io.ReadAll(resp.Body)
		if err != nil && !errors.Is(err, context.Canceled) {
			require.NoError(t, err)
		}
		text := string(body)
		require.NotContains(t, text, fmt.Sprintf("id: %s:1\n", created.ID))
		require.NotContains(t, text, fmt.Sprintf("id: %s:2\n", created.ID))
		require.Contains(t, text, fmt.Sprintf("id: %s:3\n", created.ID))
	})
}

type noFlushWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *noFlushWriter) Write(p []byte) (int, error) {
	return w.body.Write(p)
}

func (w *noFlushWriter) WriteHeader(statusCode int) {
	w.status = statusCode
}

func TestStreamEvents_FlusherRequired(t *testing.T) {
	h := newAPIHarness(t)
	created := decodeRun(t, h.post(t, "/api/runs", fmt.Sprintf(
		`{"job_url":%q,"profile_id":%q,"mode":"yolo"}`, postingURL, h.profile.ID)))

	server := NewServer(Dependencies{Store: h.store, Broker: h.broker})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+created.ID+"/events/stream", nil)
	writer := &noFlushWriter{}
	server.Router().ServeHTTP(writer, req)

	require.Equal(t, http.StatusInternalServerError, writer.status)
	require.Contains(t, writer.body.String(), "streaming unsupported")
}

func TestSendSSE(t *testing.T) {
	recorder := httptest.NewRecorder()
	sendSSE(recorder, events.RunEvent{RunID: "run-1", Seq: 5, Kind: store.EventStageCompleted, Action: "job_analyzed"})

	text := recorder.Body.String()
	require.Contains(t, text, "id: run-1:5")
	require.Contains(t, text, "event: run_event")
	require.Contains(t, text, "job_analyzed")
}

func TestParseAfterSeq(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events?after_seq=7", nil)
	require.Equal(t, int64(7), parseAfterSeq("run-1", req))

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events", nil)
	req.Header.Set("Last-Event-ID", "run-1:12")
	require.Equal(t, int64(12), parseAfterSeq("run-1", req))

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events", nil)
	req.Header.Set("Last-Event-ID", "other:12")
	require.Equal(t, int64(0), parseAfterSeq("run-1", req))

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events", nil)
	req.Header.Set("Last-Event-ID", "bad")
	require.Equal(t, int64(0), parseAfterSeq("run-1", req))

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events", nil)
	req.Header.Set("Last-Event-ID", "run-1:abc")
	require.Equal(t, int64(0), parseAfterSeq("run-1", req))

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events?after_seq=bad", nil)
	require.Equal(t, int64(0), parseAfterSeq("run-1", req))
}

func TestStart(t *testing.T) {
	h := newAPIHarness(t)
	server := NewServer(Dependencies{Store: h.store, Broker: h.broker})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	result := make(chan error, 1)
	go func() {
		result <- server.Start(ctx, addr)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err = <-result
	require.Error(t, err)
}
