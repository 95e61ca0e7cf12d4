package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

type runView struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	ProfileID       string `json:"profile_id"`
	JobURL          string `json:"job_url"`
	Mode            string `json:"mode"`
	SubmitRequested bool   `json:"submit_requested"`
	Status          string `json:"status"`
	Stage           string `json:"stage"`
	Error           string `json:"error"`
	CreatedAt       string `json:"created_at"`
	CompletedAt     string `json:"completed_at"`
}

type runListView struct {
	Runs []runView `json:"runs"`
}

type runEventView struct {
	Seq              int64          `json:"seq"`
	Kind             string         `json:"kind"`
	Stage            string         `json:"stage"`
	Action           string         `json:"action"`
	Ts               string         `json:"ts"`
	Payload          map[string]any `json:"payload"`
	RequiresApproval bool           `json:"requires_approval"`
	ApprovalStatus   string         `json:"approval_status"`
}

type runEventListView struct {
	Events []runEventView `json:"events"`
}

type timelineView struct {
	Stages []struct {
		Stage      string `json:"stage"`
		Status     string `json:"status"`
		Provider   string `json:"provider"`
		Degraded   bool   `json:"degraded"`
		Error      string `json:"error"`
		GateAction string `json:"gate_action"`
		GateStatus string `json:"gate_status"`
	} `json:"stages"`
}

func runRunCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: applyforge run <start|list|show|advance|approve|reject|cancel|events> ...")
		return 2
	}

	sub := strings.ToLower(strings.TrimSpace(args[0]))
	switch sub {
	case "start":
		return runStart(ctx, args[1:])
	case "list":
		return runList(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "advance":
		return runSimplePost(ctx, args[1:], "advance")
	case "cancel":
		return runSimplePost(ctx, args[1:], "cancel")
	case "approve":
		return runResolve(ctx, args[1:], "approve")
	case "reject":
		return runResolve(ctx, args[1:], "reject")
	case "events":
		return runEvents(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown run subcommand: %s\n", sub)
		return 2
	}
}

func runStart(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("applyforge run start", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	profileID := fs.String("profile", "", "profile id to apply with")
	mode := fs.String("mode", "", "supervision mode: strict, medium, or yolo")
	submit := fs.Bool("submit", false, "actually submit the application")
	rest, flagArgs := splitPositional(args)
	if err := fs.Parse(flagArgs); err != nil {
		return 2
	}
	if len(rest) != 1 || strings.TrimSpace(*profileID) == "" {
		fmt.Fprintln(os.Stderr, "usage: applyforge run start <job-url> --profile <profile-id> [--mode strict|medium|yolo] [--submit]")
		return 2
	}

	body := map[string]any{
		"job_url":    rest[0],
		"profile_id": *profileID,
		"mode":       *mode,
		"submit":     *submit,
	}
	var view runView
	if err := postJSON(ctx, apiBaseURL()+"/api/runs", body, &view); err != nil {
		fmt.Fprintf(os.Stderr, "run start: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "run: %s\nstatus: %s\nstage: %s\n", view.ID, view.Status, view.Stage)
	return 0
}

func runList(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: applyforge run list")
		return 2
	}
	var view runListView
	if err := getJSON(ctx, apiBaseURL()+"/api/runs", &view); err != nil {
		fmt.Fprintf(os.Stderr, "run list: %v\n", err)
		return 1
	}
	if len(view.Runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs")
		return 0
	}
	for _, r := range view.Runs {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Stage, r.Mode, r.JobURL)
	}
	return 0
}

func runShow(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: applyforge run show <run-id>")
		return 2
	}
	runID := strings.TrimSpace(args[0])

	var view runView
	if err := getJSON(ctx, apiBaseURL()+"/api/runs/"+runID, &view); err != nil {
		fmt.Fprintf(os.Stderr, "run show: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "id: %s\njob: %s\nprofile: %s\nmode: %s\nsubmit: %t\nstatus: %s\nstage: %s\n",
		view.ID, view.JobURL, view.ProfileID, view.Mode, view.SubmitRequested, view.Status, view.Stage)
	if view.Error != "" {
		fmt.Fprintf(os.Stdout, "error: %s\n", view.Error)
	}

	var timeline timelineView
	if err := getJSON(ctx, apiBaseURL()+"/api/runs/"+runID+"/timeline", &timeline); err != nil {
		fmt.Fprintf(os.Stderr, "run timeline: %v\n", err)
		return 1
	}
	for _, stage := range timeline.Stages {
		detail := ""
		if stage.Provider != "" {
			detail = "\tvia " + stage.Provider
			if stage.Degraded {
				detail += " (degraded)"
			}
		}
		if stage.GateAction != "" && stage.GateStatus == "pending" {
			detail += "\tawaiting approval: " + stage.GateAction
		}
		if stage.Error != "" {
			detail += "\t" + stage.Error
		}
		fmt.Fprintf(os.Stdout, "  %-12s %s%s\n", stage.Stage, stage.Status, detail)
	}
	return 0
}

func runSimplePost(ctx context.Context, args []string, verb string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: applyforge run %s <run-id>\n", verb)
		return 2
	}
	var view runView
	url := apiBaseURL() + "/api/runs/" + strings.TrimSpace(args[0]) + "/" + verb
	if err := postJSON(ctx, url, nil, &view); err != nil {
		fmt.Fprintf(os.Stderr, "run %s: %v\n", verb, err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "status: %s\nstage: %s\n", view.Status, view.Stage)
	return 0
}

func runResolve(ctx context.Context, args []string, verb string) int {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: applyforge run %s <run-id> <event-id>\n", verb)
		return 2
	}
	eventID, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run %s: event id must be a number: %v\n", verb, err)
		return 2
	}

	var view runView
	url := apiBaseURL() + "/api/runs/" + strings.TrimSpace(args[0]) + "/" + verb
	if err := postJSON(ctx, url, map[string]any{"event_id": eventID}, &view); err != nil {
		fmt.Fprintf(os.Stderr, "run %s: %v\n", verb, err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "status: %s\nstage: %s\n", view.Status, view.Stage)
	return 0
}

func runEvents(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("applyforge run events", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	after := fs.Int64("after", 0, "only events past this sequence number")
	follow := fs.Bool("follow", false, "stream live events after the replay")
	rest, flagArgs := splitPositional(args)
	if err := fs.Parse(flagArgs); err != nil {
		return 2
	}
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: applyforge run events <run-id> [--after <seq>] [--follow]")
		return 2
	}
	runID := strings.TrimSpace(rest[0])

	if *follow {
		return followEvents(ctx, runID, *after)
	}

	var view runEventListView
	url := fmt.Sprintf("%s/api/runs/%s/events?after_seq=%d", apiBaseURL(), runID, *after)
	if err := getJSON(ctx, url, &view); err != nil {
		fmt.Fprintf(os.Stderr, "run events: %v\n", err)
		return 1
	}
	for _, event := range view.Events {
		printEvent(event)
	}
	return 0
}

// followEvents reads the SSE stream, printing each run_event data line. The
// replay arrives first, then live events until the context is canceled.
func followEvents(ctx context.Context, runID string, after int64) int {
	url := fmt.Sprintf("%s/api/runs/%s/events/stream?after_seq=%d", apiBaseURL(), runID, after)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run events: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run events: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "run events: %s\n", resp.Status)
		return 1
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event runEventView
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		printEvent(event)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "run events: %v\n", err)
		return 1
	}
	return 0
}

func printEvent(event runEventView) {
	suffix := ""
	if event.RequiresApproval {
		suffix = "\t[" + event.ApprovalStatus + "]"
	}
	if detail, ok := event.Payload["detail"].(string); ok && detail != "" {
		suffix += "\t" + detail
	}
	fmt.Fprintf(os.Stdout, "%d\t%s\t%s\t%s%s\n", event.Seq, event.Kind, event.Stage, event.Action, suffix)
}
