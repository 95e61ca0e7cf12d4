package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/applyforge/applyforge/internal/store"
)

type stubProvider struct {
	name string
	fn   func(ctx context.Context, model string, messages []Message) (string, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	return s.fn(ctx, model, messages)
}

// bothAvailable marks openai and local reachable so routing decisions, not
// availability, drive the test.
func bothAvailable() Config {
	return Config{
		OpenAIAPIKey:         "sk-test-key",
		OpenAIModelPlanner:   "gpt-5",
		OpenAIModelExtractor: "gpt-5-mini",
		OpenAIModelWriter:    "gpt-5-mini",
		LocalEnabled:         true,
		LocalModel:           "qwen2.5:14b-instruct",
		FallbackEnabled:      true,
	}
}

func stubRouter(cfg Config, openaiFn, localFn func(ctx context.Context, model string, messages []Message) (string, error)) *Router {
	return &Router{
		cfg: cfg,
		providers: map[string]Provider{
			ProviderOpenAI: &stubProvider{name: ProviderOpenAI, fn: openaiFn},
			ProviderLocal:  &stubProvider{name: ProviderLocal, fn: localFn},
		},
	}
}

func textStub(text string) func(ctx context.Context, model string, messages []Message) (string, error) {
	return func(ctx context.Context, model string, messages []Message) (string, error) {
		return text, nil
	}
}

func errorStub(msg string) func(ctx context.Context, model string, messages []Message) (string, error) {
	return func(ctx context.Context, model string, messages []Message) (string, error) {
		return "", errors.New(msg)
	}
}

func TestRouter_Candidates(t *testing.T) {
	cfg := bothAvailable()
	cfg.PatchProvider = "local"
	router := stubRouter(cfg, textStub(""), textStub(""))

	got := router.candidates(CategoryPatch)
	if len(got) != 2 || got[0] != "local" || got[1] != "openai" {
		t.Fatalf("expected [local openai], got %v", got)
	}

	got = router.candidates(CategoryExtract)
	if len(got) != 2 || got[0] != "openai" || got[1] != "local" {
		t.Fatalf("expected [openai local], got %v", got)
	}
}

func TestRouter_Candidates_FallbackDisabled(t *testing.T) {
	cfg := bothAvailable()
	cfg.FallbackEnabled = false
	router := stubRouter(cfg, textStub(""), textStub(""))

	got := router.candidates(CategoryWriter)
	if len(got) != 1 || got[0] != "openai" {
		t.Fatalf("expected [openai], got %v", got)
	}
}

func TestRouter_Invoke_Text(t *testing.T) {
	router := stubRouter(bothAvailable(), textStub("fine answer"), errorStub("should not be called"))

	result, err := router.Invoke(context.Background(), CategoryWriter, "prompt", nil)
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", result.Provider, "openai")
	}
	if result.Text != "fine answer" {
		t.Errorf("Text = %q, want %q", result.Text, "fine answer")
	}
}

func TestRouter_Invoke_FallsBackOnProviderError(t *testing.T) {
	router := stubRouter(bothAvailable(),
		errorStub("connection refused"),
		textStub("local answer"))

	result, err := router.Invoke(context.Background(), CategoryWriter, "prompt", nil)
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Provider != "local" {
		t.Errorf("Provider = %q, want %q", result.Provider, "local")
	}
}

func TestRouter_Invoke_SchemaRejectionAdvancesChain(t *testing.T) {
	router := stubRouter(bothAvailable(),
		textStub("I could not produce JSON, sorry."),
		textStub("```json\n{\"title\": \"Backend Engineer\", \"keywords\": [\"go\"]}\n```"))

	result, err := router.Invoke(context.Background(), CategoryExtract, "prompt", jobAnalysisSchema)
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Provider != "local" {
		t.Errorf("Provider = %q, want %q", result.Provider, "local")
	}
	if !strings.Contains(string(result.JSON), "Backend Engineer") {
		t.Errorf("JSON = %s, want extracted object", result.JSON)
	}
}

func TestRouter_Invoke_SkipsUnavailableProviders(t *testing.T) {
	cfg := Config{FallbackEnabled: true} // no key, local disabled
	router := stubRouter(cfg, textStub("never"), textStub("never"))

	_, err := router.Invoke(context.Background(), CategoryExtract, "prompt", nil)
	var exhausted *ProviderExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ProviderExhaustedError, got %v", err)
	}
	msg := exhausted.Error()
	if !strings.Contains(msg, "openai: missing API key") {
		t.Errorf("error missing openai reason: %s", msg)
	}
	if !strings.Contains(msg, "local: disabled") {
		t.Errorf("error missing local reason: %s", msg)
	}
}

func TestRouter_Invoke_UsesCategoryModel(t *testing.T) {
	var gotModel string
	router := stubRouter(bothAvailable(),
		func(ctx context.Context, model string, messages []Message) (string, error) {
			gotModel = model
			return "ok", nil
		},
		errorStub("unused"))

	if _, err := router.Invoke(context.Background(), CategoryPlan, "prompt", nil); err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if gotModel != "gpt-5" {
		t.Errorf("plan model = %q, want %q", gotModel, "gpt-5")
	}

	if _, err := router.Invoke(context.Background(), CategoryExtract, "prompt", nil); err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if gotModel != "gpt-5-mini" {
		t.Errorf("extract model = %q, want %q", gotModel, "gpt-5-mini")
	}
}

func TestAnalyzeJob_ParsesStructuredOutput(t *testing.T) {
	response := `{"title": "Data Engineer", "company": "Initech", "location": "Remote",
		"responsibilities": ["Build pipelines"], "requirements": ["Python"],
		"compensation": "$150k", "keywords": ["python", "sql"]}`
	router := stubRouter(bothAvailable(), textStub(response), errorStub("unused"))

	analysis, err := router.AnalyzeJob(context.Background(), "https://example.com/job", "Data Engineer role")
	if err != nil {
		t.Fatalf("AnalyzeJob returned error: %v", err)
	}
	if analysis.Title != "Data Engineer" {
		t.Errorf("Title = %q, want %q", analysis.Title, "Data Engineer")
	}
	if analysis.Company != "Initech" {
		t.Errorf("Company = %q, want %q", analysis.Company, "Initech")
	}
	if analysis.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", analysis.Provider, "openai")
	}
	if analysis.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestAnalyzeJob_HeuristicWhenExhausted(t *testing.T) {
	cfg := Config{FallbackEnabled: true}
	router := stubRouter(cfg, textStub("never"), textStub("never"))

	jobText := "Senior Python Developer\nYou will own responsibilities across services.\nRequirements: 5 years of python and sql."
	analysis, err := router.AnalyzeJob(context.Background(), "https://example.com/job", jobText)
	if err != nil {
		t.Fatalf("AnalyzeJob returned error: %v", err)
	}
	if !analysis.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if analysis.Provider != "heuristic" {
		t.Errorf("Provider = %q, want %q", analysis.Provider, "heuristic")
	}
	if analysis.Title != "Senior Python Developer" {
		t.Errorf("Title = %q, want first line", analysis.Title)
	}
	wantKeywords := []string{"python", "sql"}
	if len(analysis.Keywords) != len(wantKeywords) {
		t.Fatalf("Keywords = %v, want %v", analysis.Keywords, wantKeywords)
	}
	for i, kw := range wantKeywords {
		if analysis.Keywords[i] != kw {
			t.Errorf("Keywords[%d] = %q, want %q", i, analysis.Keywords[i], kw)
		}
	}
}

func TestAnalyzeJob_TruncatesJobText(t *testing.T) {
	var gotPrompt string
	router := stubRouter(bothAvailable(),
		func(ctx context.Context, model string, messages []Message) (string, error) {
			gotPrompt = messages[0].Content
			return `{"title": "x"}`, nil
		},
		errorStub("unused"))

	longText := strings.Repeat("a", maxJobTextChars) + "OVERFLOW-MARKER"
	if _, err := router.AnalyzeJob(context.Background(), "https://example.com", longText); err != nil {
		t.Fatalf("AnalyzeJob returned error: %v", err)
	}
	if strings.Contains(gotPrompt, "OVERFLOW-MARKER") {
		t.Error("prompt contains text past the truncation bound")
	}
}

func TestTailorDocuments_HeuristicWhenExhausted(t *testing.T) {
	cfg := Config{FallbackEnabled: true}
	router := stubRouter(cfg, textStub("never"), textStub("never"))

	profile := store.Profile{Name: "Ada Lovelace", JobFamily: "Engineering"}
	analysis := JobAnalysis{
		Title:    "Platform Engineer",
		Company:  "Initech",
		Keywords: []string{"go", "kubernetes"},
	}
	docs, err := router.TailorDocuments(context.Background(), profile, nil, analysis)
	if err != nil {
		t.Fatalf("TailorDocuments returned error: %v", err)
	}
	if !docs.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if !strings.Contains(docs.ResumeMarkdown, "# Ada Lovelace") {
		t.Errorf("resume missing name heading:\n%s", docs.ResumeMarkdown)
	}
	if !strings.Contains(docs.ResumeMarkdown, "Target Role: Platform Engineer") {
		t.Errorf("resume missing target role:\n%s", docs.ResumeMarkdown)
	}
	if !strings.Contains(docs.CoverLetterMarkdown, "Dear Hiring Team at Initech,") {
		t.Errorf("cover letter missing greeting:\n%s", docs.CoverLetterMarkdown)
	}
	if docs.Metadata["strategy"] != "heuristic_fallback" {
		t.Errorf("Metadata[strategy] = %v, want heuristic_fallback", docs.Metadata["strategy"])
	}
}

func TestSuggestPatch_EmptyBundleWhenExhausted(t *testing.T) {
	cfg := Config{FallbackEnabled: true}
	router := stubRouter(cfg, textStub("never"), textStub("never"))

	bundle, err := router.SuggestPatch(context.Background(), store.Profile{}, nil, JobAnalysis{})
	if err != nil {
		t.Fatalf("SuggestPatch returned error: %v", err)
	}
	if !bundle.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if bundle.Rationale != "No patch suggestions" {
		t.Errorf("Rationale = %q", bundle.Rationale)
	}
	if len(bundle.Operations) != 0 {
		t.Errorf("Operations = %v, want empty", bundle.Operations)
	}
	if bundle.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", bundle.Confidence)
	}
}

func TestSuggestPatch_FiltersInvalidOperations(t *testing.T) {
	response := `{
		"rationale": "add observed skills",
		"confidence": 1.7,
		"operations": [
			{"table": "skills", "operation": "upsert", "key": {"name": "python"}, "values": {"name": "python"}, "source": "job", "confidence": 1.4},
			{"table": "bogus_table", "operation": "insert", "key": {}, "values": {}},
			{"table": "skills", "operation": "destroy", "key": {}, "values": {}}
		]
	}`
	router := stubRouter(bothAvailable(), textStub(response), errorStub("unused"))

	bundle, err := router.SuggestPatch(context.Background(), store.Profile{}, nil, JobAnalysis{})
	if err != nil {
		t.Fatalf("SuggestPatch returned error: %v", err)
	}
	if len(bundle.Operations) != 1 {
		t.Fatalf("Operations count = %d, want 1", len(bundle.Operations))
	}
	if bundle.Operations[0].Table != store.TableSkills || bundle.Operations[0].Operation != store.OpUpsert {
		t.Errorf("kept the wrong operation: %+v", bundle.Operations[0])
	}
	if bundle.Operations[0].Confidence != 1 {
		t.Errorf("op confidence = %v, want clamped to 1", bundle.Operations[0].Confidence)
	}
	if bundle.Confidence != 1 {
		t.Errorf("bundle confidence = %v, want clamped to 1", bundle.Confidence)
	}
	if bundle.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestDraftAnswer_TrimsText(t *testing.T) {
	router := stubRouter(bothAvailable(), textStub("  I have 5 years of Python experience.  "), errorStub("unused"))

	answer, err := router.DraftAnswer(context.Background(), "Years of Python?", store.Profile{}, nil, JobAnalysis{})
	if err != nil {
		t.Fatalf("DraftAnswer returned error: %v", err)
	}
	if answer != "I have 5 years of Python experience." {
		t.Errorf("answer = %q", answer)
	}
}

func TestDraftAnswer_UnknownWhenExhausted(t *testing.T) {
	cfg := Config{FallbackEnabled: true}
	router := stubRouter(cfg, textStub("never"), textStub("never"))

	answer, err := router.DraftAnswer(context.Background(), "Salary expectation?", store.Profile{}, nil, JobAnalysis{})
	if err != nil {
		t.Fatalf("DraftAnswer returned error: %v", err)
	}
	if answer != "UNKNOWN" {
		t.Errorf("answer = %q, want UNKNOWN", answer)
	}
}

func TestRouter_Providers_MasksKeys(t *testing.T) {
	cfg := bothAvailable()
	cfg.OpenAIAPIKey = "sk-proj-abcd1234"
	router := stubRouter(cfg, textStub(""), textStub(""))

	statuses := router.Providers()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 provider statuses, got %d", len(statuses))
	}
	openai := statuses[0]
	if !openai.HasAPIKey {
		t.Error("HasAPIKey = false, want true")
	}
	if openai.APIKeyHint != "1234" {
		t.Errorf("APIKeyHint = %q, want %q", openai.APIKeyHint, "1234")
	}
	if strings.Contains(openai.APIKeyHint, "sk-proj") {
		t.Error("hint leaks key prefix")
	}
}

func TestRouter_Routes(t *testing.T) {
	cfg := bothAvailable()
	cfg.PatchProvider = "local"
	router := stubRouter(cfg, textStub(""), textStub(""))

	routes := router.Routes()
	if routes["db_patch"] != "local" {
		t.Errorf("db_patch route = %q, want local", routes["db_patch"])
	}
	if routes["extract"] != "openai" {
		t.Errorf("extract route = %q, want openai", routes["extract"])
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "fenced json block",
			text: "Here you go:\n```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "generic fence",
			text: "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "embedded in prose",
			text: `The result is {"a": {"b": 2}} as requested.`,
			want: `{"a": {"b": 2}}`,
		},
		{
			name: "brace inside string",
			text: `{"a": "closing } inside"}`,
			want: `{"a": "closing } inside"}`,
		},
		{
			name: "no json",
			text: "no structured output here",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.text); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestValidateAgainst(t *testing.T) {
	raw, err := validateAgainst(tailoredDocsSchema, `{"resume_markdown": "# Resume", "cover_letter_markdown": "Dear"}`)
	if err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
	if !strings.Contains(string(raw), "resume_markdown") {
		t.Errorf("raw = %s", raw)
	}

	_, err = validateAgainst(tailoredDocsSchema, `{"resume_markdown": "# Resume"}`)
	if err == nil {
		t.Fatal("expected schema validation error for missing cover letter")
	}

	_, err = validateAgainst(tailoredDocsSchema, "no json at all")
	if err == nil {
		t.Fatal("expected error when response has no JSON")
	}
}

func TestKeyHint(t *testing.T) {
	if got := keyHint("sk-test-abcd"); got != "abcd" {
		t.Errorf("keyHint = %q, want %q", got, "abcd")
	}
	if got := keyHint("abc"); got != "" {
		t.Errorf("keyHint of short key = %q, want empty", got)
	}
}
