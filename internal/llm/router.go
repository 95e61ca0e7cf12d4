package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type Category string

const (
	CategoryPlan    Category = "plan"
	CategoryExtract Category = "extract"
	CategoryPatch   Category = "db_patch"
	CategoryWriter  Category = "writer"
)

// Result is one routed completion: the raw text, the validated JSON for
// structured tasks, and the provider that served it.
type Result struct {
	Provider string
	Text     string
	JSON     json.RawMessage
}

// Router picks a provider per task category and falls through the candidate
// chain on transport errors, timeouts, and schema-invalid output.
type Router struct {
	cfg       Config
	providers map[string]Provider
}

func NewRouter(cfg Config) (*Router, error) {
	providers := map[string]Provider{}
	for _, name := range []string{ProviderOpenAI, ProviderLocal} {
		provider, err := newProvider(cfg, name)
		if err != nil {
			return nil, err
		}
		providers[name] = provider
	}
	return &Router{cfg: cfg, providers: providers}, nil
}

func (r *Router) providerFor(category Category) string {
	override := ""
	switch category {
	case CategoryPlan:
		override = r.cfg.PlanProvider
	case CategoryExtract:
		override = r.cfg.ExtractProvider
	case CategoryPatch:
		override = r.cfg.PatchProvider
	case CategoryWriter:
		override = r.cfg.WriterProvider
	}
	return defaultIfEmpty(override, defaultIfEmpty(r.cfg.DefaultProvider, ProviderOpenAI))
}

func (r *Router) candidates(category Category) []string {
	names := []string{r.providerFor(category)}
	if r.cfg.FallbackEnabled {
		if names[0] == ProviderLocal {
			names = append(names, ProviderOpenAI)
		} else {
			names = append(names, ProviderLocal)
		}
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (r *Router) available(name string) (bool, string) {
	switch name {
	case ProviderOpenAI:
		if r.cfg.OpenAIAPIKey == "" {
			return false, "missing API key"
		}
	case ProviderLocal:
		if !r.cfg.LocalEnabled {
			return false, "disabled"
		}
	default:
		return false, "unknown provider"
	}
	return true, ""
}

func (r *Router) modelFor(name string, category Category) string {
	if name == ProviderLocal {
		return r.cfg.LocalModel
	}
	switch category {
	case CategoryPlan:
		return r.cfg.OpenAIModelPlanner
	case CategoryWriter:
		return r.cfg.OpenAIModelWriter
	default:
		return r.cfg.OpenAIModelExtractor
	}
}

// Invoke routes one task to the first candidate that can serve it. A nil
// schema means free text; otherwise the response must contain JSON valid
// against the schema, and an invalid response advances the chain like any
// provider failure.
func (r *Router) Invoke(ctx context.Context, category Category, prompt string, schema *jsonschema.Schema) (Result, error) {
	var attempts []string
	for _, name := range r.candidates(category) {
		ok, reason := r.available(name)
		if !ok {
			attempts = append(attempts, name+": "+reason)
			continue
		}

		text, err := r.providers[name].Generate(ctx, r.modelFor(name, category), []Message{{Role: "user", Content: prompt}})
		if err != nil {
			log.Printf("llm call failed category=%s provider=%s error=%v", category, name, err)
			attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		if schema == nil {
			return Result{Provider: name, Text: text}, nil
		}

		raw, err := validateAgainst(schema, text)
		if err != nil {
			log.Printf("llm output rejected category=%s provider=%s error=%v", category, name, err)
			attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		return Result{Provider: name, Text: text, JSON: raw}, nil
	}
	return Result{}, &ProviderExhaustedError{Category: string(category), Attempts: attempts}
}

type ProviderStatus struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	Reason     string `json:"reason,omitempty"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	HasAPIKey  bool   `json:"has_api_key"`
	APIKeyHint string `json:"api_key_hint,omitempty"`
}

// Providers reports availability for the status endpoint. Keys are never
// exposed, only a short hint.
func (r *Router) Providers() []ProviderStatus {
	openaiOK, openaiReason := r.available(ProviderOpenAI)
	localOK, localReason := r.available(ProviderLocal)
	return []ProviderStatus{
		{
			Name:       ProviderOpenAI,
			Available:  openaiOK,
			Reason:     openaiReason,
			BaseURL:    defaultIfEmpty(r.cfg.OpenAIBaseURL, "https://api.openai.com/v1"),
			Model:      r.cfg.OpenAIModelExtractor,
			HasAPIKey:  r.cfg.OpenAIAPIKey != "",
			APIKeyHint: keyHint(r.cfg.OpenAIAPIKey),
		},
		{
			Name:       ProviderLocal,
			Available:  localOK,
			Reason:     localReason,
			BaseURL:    defaultIfEmpty(r.cfg.LocalBaseURL, "http://localhost:11434/v1"),
			Model:      r.cfg.LocalModel,
			HasAPIKey:  r.cfg.LocalAPIKey != "",
			APIKeyHint: keyHint(r.cfg.LocalAPIKey),
		},
	}
}

// Routes reports the category-to-provider table the router resolves against.
func (r *Router) Routes() map[string]string {
	return map[string]string{
		string(CategoryPlan):    r.providerFor(CategoryPlan),
		string(CategoryExtract): r.providerFor(CategoryExtract),
		string(CategoryPatch):   r.providerFor(CategoryPatch),
		string(CategoryWriter):  r.providerFor(CategoryWriter),
	}
}

func keyHint(key string) string {
	if len(key) < 4 {
		return ""
	}
	return key[len(key)-4:]
}
