package main

import (
	"context"
	"fmt"
	"os"
	"sort"
)

type providerView struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	Reason     string `json:"reason"`
	Model      string `json:"model"`
	HasAPIKey  bool   `json:"has_api_key"`
	APIKeyHint string `json:"api_key_hint"`
}

type providersView struct {
	Providers []providerView    `json:"providers"`
	Routes    map[string]string `json:"routes"`
}

func runProvidersCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: applyforge providers")
		return 2
	}

	var view providersView
	if err := getJSON(ctx, apiBaseURL()+"/api/llm/providers", &view); err != nil {
		fmt.Fprintf(os.Stderr, "providers: %v\n", err)
		return 1
	}

	for _, p := range view.Providers {
		state := "available"
		if !p.Available {
			state = "unavailable"
			if p.Reason != "" {
				state += " (" + p.Reason + ")"
			}
		}
		key := "no key"
		if p.HasAPIKey {
			key = "key " + p.APIKeyHint
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n", p.Name, state, p.Model, key)
	}

	categories := make([]string, 0, len(view.Routes))
	for category := range view.Routes {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(os.Stdout, "route %s -> %s\n", category, view.Routes[category])
	}
	return 0
}
