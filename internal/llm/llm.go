package llm

import (
	"context"
)

const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is one OpenAI-compatible chat-completion endpoint. The model is
// chosen per call because a provider serves several task categories.
type Provider interface {
	Name() string
	Generate(ctx context.Context, model string, messages []Message) (string, error)
}

type Config struct {
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModelPlanner   string
	OpenAIModelExtractor string
	OpenAIModelWriter    string
	OpenAITimeoutSec     int

	LocalEnabled    bool
	LocalBaseURL    string
	LocalAPIKey     string
	LocalModel      string
	LocalTimeoutSec int

	DefaultProvider string
	PlanProvider    string
	ExtractProvider string
	PatchProvider   string
	WriterProvider  string
	FallbackEnabled bool
}

func newProvider(cfg Config, name string) (Provider, error) {
	switch name {
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			Name:       ProviderOpenAI,
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    defaultIfEmpty(cfg.OpenAIBaseURL, "https://api.openai.com/v1"),
			TimeoutSec: cfg.OpenAITimeoutSec,
		}), nil
	case ProviderLocal:
		return NewOpenAIProvider(OpenAIConfig{
			Name:       ProviderLocal,
			APIKey:     defaultIfEmpty(cfg.LocalAPIKey, "local"),
			BaseURL:    defaultIfEmpty(cfg.LocalBaseURL, "http://localhost:11434/v1"),
			TimeoutSec: cfg.LocalTimeoutSec,
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: name}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
