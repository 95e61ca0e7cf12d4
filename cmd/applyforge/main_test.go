package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDispatch_UnknownCommand(t *testing.T) {
	if code := dispatch(context.Background(), []string{"frobnicate"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := dispatch(context.Background(), nil); code != 2 {
		t.Fatalf("expected exit code 2 for empty args, got %d", code)
	}
	if code := dispatch(context.Background(), []string{"help"}); code != 0 {
		t.Fatalf("expected exit code 0 for help, got %d", code)
	}
}

func TestSplitPositional(t *testing.T) {
	cases := []struct {
		args       []string
		positional int
		flags      int
	}{
		{[]string{"https://example.com/job", "--profile", "p1"}, 1, 2},
		{[]string{"--profile", "p1", "https://example.com/job"}, 0, 3},
		{[]string{"a", "b"}, 2, 0},
		{nil, 0, 0},
	}
	for _, tc := range cases {
		positional, flags := splitPositional(tc.args)
		if len(positional) != tc.positional || len(flags) != tc.flags {
			t.Fatalf("splitPositional(%v) = %v, %v", tc.args, positional, flags)
		}
	}
}

func stubAPI(t *testing.T, routes map[string]string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	t.Setenv("APP_URL", server.URL)
}

func TestRunList(t *testing.T) {
	stubAPI(t, map[string]string{
		"/api/runs": `{"runs":[{"id":"r1","status":"waiting_approval","stage":"parsing","mode":"strict","job_url":"https://boards.greenhouse.io/acme/jobs/1"}]}`,
	})
	if code := runRunCommand(context.Background(), []string{"list"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunShow_WithTimeline(t *testing.T) {
	stubAPI(t, map[string]string{
		"/api/runs/r1":          `{"id":"r1","job_url":"https://boards.greenhouse.io/acme/jobs/1","profile_id":"p1","mode":"medium","status":"completed","stage":"done"}`,
		"/api/runs/r1/timeline": `{"stages":[{"stage":"parsing","status":"completed","provider":"openai"},{"stage":"browsing","status":"completed"}]}`,
	})
	if code := runRunCommand(context.Background(), []string{"show", "r1"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunResolve_BadEventID(t *testing.T) {
	if code := runRunCommand(context.Background(), []string{"approve", "r1", "not-a-number"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRunEvents_Replay(t *testing.T) {
	stubAPI(t, map[string]string{
		"/api/runs/r1/events": `{"events":[{"seq":1,"kind":"stage_started","stage":"parsing","action":"created"},{"seq":2,"kind":"approval_requested","stage":"parsing","action":"job_parsing_start","requires_approval":true,"approval_status":"pending"}]}`,
	})
	if code := runRunCommand(context.Background(), []string{"events", "r1"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestJobList_Empty(t *testing.T) {
	stubAPI(t, map[string]string{"/api/jobs": `{"jobs":[]}`})
	if code := runJobCommand(context.Background(), []string{"list"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestJobIntake_UsageErrors(t *testing.T) {
	if code := runJobCommand(context.Background(), []string{"intake"}); code != 2 {
		t.Fatalf("expected exit code 2 without url, got %d", code)
	}
	if code := runJobCommand(context.Background(), []string{"intake", "https://example.com/job"}); code != 2 {
		t.Fatalf("expected exit code 2 without profile, got %d", code)
	}
}
