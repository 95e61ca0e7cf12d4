package llm

import (
	"testing"
)

func TestNewProvider_OpenAI(t *testing.T) {
	cfg := Config{
		OpenAIAPIKey:  "test-key",
		OpenAIBaseURL: "https://api.openai.com/v1",
	}
	provider, err := newProvider(cfg, ProviderOpenAI)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	openAIProvider, ok := provider.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", provider)
	}
	if openAIProvider.name != "openai" {
		t.Errorf("expected name 'openai', got %s", openAIProvider.name)
	}
	if openAIProvider.apiKey != "test-key" {
		t.Errorf("expected apiKey to be 'test-key', got %s", openAIProvider.apiKey)
	}
	if openAIProvider.baseURL != "https://api.openai.com/v1" {
		t.Errorf("expected baseURL 'https://api.openai.com/v1', got %s", openAIProvider.baseURL)
	}
}

func TestNewProvider_OpenAI_DefaultBaseURL(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "test-key"}
	provider, err := newProvider(cfg, ProviderOpenAI)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	openAIProvider := provider.(*OpenAIProvider)
	if openAIProvider.baseURL != "https://api.openai.com/v1" {
		t.Errorf("expected default base URL, got %s", openAIProvider.baseURL)
	}
}

func TestNewProvider_Local(t *testing.T) {
	cfg := Config{
		LocalEnabled: true,
		LocalBaseURL: "http://localhost:11434/v1",
	}
	provider, err := newProvider(cfg, ProviderLocal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	localProvider, ok := provider.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", provider)
	}
	if localProvider.name != "local" {
		t.Errorf("expected name 'local', got %s", localProvider.name)
	}
	// Local runtimes usually accept any key; the default keeps the Bearer
	// header present.
	if localProvider.apiKey != "local" {
		t.Errorf("expected apiKey 'local', got %s", localProvider.apiKey)
	}
}

func TestNewProvider_Local_DefaultBaseURL(t *testing.T) {
	cfg := Config{LocalEnabled: true}
	provider, err := newProvider(cfg, ProviderLocal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	localProvider := provider.(*OpenAIProvider)
	if localProvider.baseURL != "http://localhost:11434/v1" {
		t.Errorf("expected default local base URL, got %s", localProvider.baseURL)
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	provider, err := newProvider(Config{}, "unsupported-provider")
	if err == nil {
		t.Fatal("expected error for unsupported provider, got nil")
	}
	if provider != nil {
		t.Errorf("expected nil provider, got %T", provider)
	}
	errUnsupported, ok := err.(ErrUnsupportedProvider)
	if !ok {
		t.Fatalf("expected ErrUnsupportedProvider, got %T", err)
	}
	if errUnsupported.Provider != "unsupported-provider" {
		t.Errorf("expected provider name 'unsupported-provider', got %s", errUnsupported.Provider)
	}
}

func TestDefaultIfEmpty_WithValue(t *testing.T) {
	result := defaultIfEmpty("existing-value", "fallback")
	if result != "existing-value" {
		t.Errorf("expected 'existing-value', got %s", result)
	}
}

func TestDefaultIfEmpty_WithDefault(t *testing.T) {
	result := defaultIfEmpty("", "fallback")
	if result != "fallback" {
		t.Errorf("expected 'fallback', got %s", result)
	}
}
