package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
)

type jobView struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Domain       string   `json:"domain"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Requirements []string `json:"requirements"`
}

type jobListView struct {
	Jobs []jobView `json:"jobs"`
}

type jobIntakeView struct {
	JobID        string   `json:"job_id"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Requirements []string `json:"requirements"`
}

func runJobCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: applyforge job <intake|list> ...")
		return 2
	}

	sub := strings.ToLower(strings.TrimSpace(args[0]))
	switch sub {
	case "intake":
		fs := flag.NewFlagSet("applyforge job intake", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		profileID := fs.String("profile", "", "profile id to analyze against")
		rest, flagArgs := splitPositional(args[1:])
		if err := fs.Parse(flagArgs); err != nil {
			return 2
		}
		if len(rest) != 1 || strings.TrimSpace(*profileID) == "" {
			fmt.Fprintln(os.Stderr, "usage: applyforge job intake <url> --profile <profile-id>")
			return 2
		}

		body := map[string]any{"url": rest[0], "profile_id": *profileID}
		var view jobIntakeView
		if err := postJSON(ctx, apiBaseURL()+"/api/jobs/intake", body, &view); err != nil {
			fmt.Fprintf(os.Stderr, "job intake: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "job: %s\ntitle: %s\ncompany: %s\nlocation: %s\n", view.JobID, view.Title, view.Company, view.Location)
		for _, req := range view.Requirements {
			fmt.Fprintf(os.Stdout, "  - %s\n", req)
		}
		return 0

	case "list":
		fs := flag.NewFlagSet("applyforge job list", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		limit := fs.Int("limit", 50, "maximum jobs to list")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		var view jobListView
		if err := getJSON(ctx, fmt.Sprintf("%s/api/jobs?limit=%d", apiBaseURL(), *limit), &view); err != nil {
			fmt.Fprintf(os.Stderr, "job list: %v\n", err)
			return 1
		}
		if len(view.Jobs) == 0 {
			fmt.Fprintln(os.Stdout, "no jobs")
			return 0
		}
		for _, job := range view.Jobs {
			title := job.Title
			if title == "" {
				title = "(not analyzed)"
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n", job.ID, job.Domain, title, job.Company)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown job subcommand: %s\n", sub)
		return 2
	}
}

// splitPositional separates leading positional arguments from the flags that
// follow them, so "intake <url> --profile x" parses either way around.
func splitPositional(args []string) (positional []string, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}
