package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
)

type profileView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	JobFamily string `json:"job_family"`
	Summary   string `json:"summary"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at"`
}

type profileListView struct {
	Profiles []profileView `json:"profiles"`
}

func runProfileCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: applyforge profile <create|list|show> ...")
		return 2
	}

	sub := strings.ToLower(strings.TrimSpace(args[0]))
	switch sub {
	case "create":
		fs := flag.NewFlagSet("applyforge profile create", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		name := fs.String("name", "", "candidate name")
		family := fs.String("family", "", "job family, e.g. backend")
		summary := fs.String("summary", "", "short professional summary")
		isDefault := fs.Bool("default", false, "mark as the default profile")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if strings.TrimSpace(*name) == "" {
			fmt.Fprintln(os.Stderr, "usage: applyforge profile create --name <name> [--family <job-family>] [--summary <text>] [--default]")
			return 2
		}

		body := map[string]any{
			"name":       *name,
			"job_family": *family,
			"summary":    *summary,
			"is_default": *isDefault,
		}
		var created profileView
		if err := postJSON(ctx, apiBaseURL()+"/api/profiles", body, &created); err != nil {
			fmt.Fprintf(os.Stderr, "profile create: %v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stdout, created.ID)
		return 0

	case "list":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "usage: applyforge profile list")
			return 2
		}
		var view profileListView
		if err := getJSON(ctx, apiBaseURL()+"/api/profiles", &view); err != nil {
			fmt.Fprintf(os.Stderr, "profile list: %v\n", err)
			return 1
		}
		if len(view.Profiles) == 0 {
			fmt.Fprintln(os.Stdout, "no profiles")
			return 0
		}
		for _, p := range view.Profiles {
			marker := ""
			if p.IsDefault {
				marker = "\t(default)"
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s%s\n", p.ID, p.Name, p.JobFamily, marker)
		}
		return 0

	case "show":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: applyforge profile show <profile-id>")
			return 2
		}
		var p profileView
		if err := getJSON(ctx, apiBaseURL()+"/api/profiles/"+strings.TrimSpace(args[1]), &p); err != nil {
			fmt.Fprintf(os.Stderr, "profile show: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "id: %s\nname: %s\nfamily: %s\nsummary: %s\ndefault: %t\ncreated: %s\n",
			p.ID, p.Name, p.JobFamily, p.Summary, p.IsDefault, p.CreatedAt)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown profile subcommand: %s\n", sub)
		return 2
	}
}
