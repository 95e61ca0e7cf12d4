package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/applyforge/applyforge/internal/store"
)

// maxJobTextChars bounds the job text embedded in prompts.
const maxJobTextChars = 20000

// JobAnalysis is the structured extraction of a job posting. Provider and
// Degraded record which backend produced it.
type JobAnalysis struct {
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Location         string   `json:"location"`
	Responsibilities []string `json:"responsibilities"`
	Requirements     []string `json:"requirements"`
	Compensation     string   `json:"compensation"`
	Keywords         []string `json:"keywords"`
	Provider         string   `json:"provider,omitempty"`
	Degraded         bool     `json:"degraded,omitempty"`
}

// TailoredDocuments holds the generated resume and cover letter.
type TailoredDocuments struct {
	ResumeMarkdown      string         `json:"resume_markdown"`
	CoverLetterMarkdown string         `json:"cover_letter_markdown"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Provider            string         `json:"provider,omitempty"`
	Degraded            bool           `json:"degraded,omitempty"`
}

// PatchBundle is a set of proposed profile database changes.
type PatchBundle struct {
	Rationale  string                 `json:"rationale"`
	Operations []store.PatchOperation `json:"operations"`
	Confidence float64                `json:"confidence"`
	Provider   string                 `json:"provider,omitempty"`
	Degraded   bool                   `json:"degraded,omitempty"`
}

// AnalyzeJob extracts structured details from a job posting. When every
// provider is unavailable or fails it degrades to a keyword heuristic rather
// than failing the run.
func (r *Router) AnalyzeJob(ctx context.Context, jobURL, jobText string) (JobAnalysis, error) {
	trimmed := jobText
	if len(trimmed) > maxJobTextChars {
		trimmed = trimmed[:maxJobTextChars]
	}
	prompt := jobAnalysisPrompt(jobURL, trimmed)

	result, err := r.Invoke(ctx, CategoryExtract, prompt, jobAnalysisSchema)
	if err != nil {
		var exhausted *ProviderExhaustedError
		if errors.As(err, &exhausted) {
			return heuristicJobAnalysis(jobText), nil
		}
		return JobAnalysis{}, err
	}

	var analysis JobAnalysis
	if err := json.Unmarshal(result.JSON, &analysis); err != nil {
		log.Printf("invalid job analysis payload provider=%s error=%v; using heuristic", result.Provider, err)
		return heuristicJobAnalysis(jobText), nil
	}
	analysis.Provider = result.Provider
	return analysis, nil
}

// TailorDocuments generates a resume and cover letter tuned to the analyzed
// job. Degrades to templated documents when no provider responds.
func (r *Router) TailorDocuments(ctx context.Context, profile store.Profile, skills []store.Skill, analysis JobAnalysis) (TailoredDocuments, error) {
	prompt := tailorDocsPrompt(profileFactsJSON(profile, skills), analysisJSON(analysis))

	result, err := r.Invoke(ctx, CategoryWriter, prompt, tailoredDocsSchema)
	if err != nil {
		var exhausted *ProviderExhaustedError
		if errors.As(err, &exhausted) {
			return heuristicDocuments(profile, analysis), nil
		}
		return TailoredDocuments{}, err
	}

	var docs TailoredDocuments
	if err := json.Unmarshal(result.JSON, &docs); err != nil {
		log.Printf("invalid tailored document payload provider=%s error=%v; using heuristic", result.Provider, err)
		return heuristicDocuments(profile, analysis), nil
	}
	docs.Provider = result.Provider
	return docs, nil
}

// SuggestPatch asks for profile database enrichment operations based on what
// the job analysis revealed. Unknown tables and operations are dropped rather
// than rejected wholesale. Provider exhaustion yields an empty degraded
// bundle, never an error.
func (r *Router) SuggestPatch(ctx context.Context, profile store.Profile, skills []store.Skill, analysis JobAnalysis) (PatchBundle, error) {
	prompt := patchSuggestionPrompt(profileFactsJSON(profile, skills), analysisJSON(analysis))

	result, err := r.Invoke(ctx, CategoryPatch, prompt, patchBundleSchema)
	if err != nil {
		var exhausted *ProviderExhaustedError
		if errors.As(err, &exhausted) {
			return PatchBundle{Rationale: "No patch suggestions", Operations: []store.PatchOperation{}, Degraded: true, Provider: "heuristic"}, nil
		}
		return PatchBundle{}, err
	}

	var raw struct {
		Rationale  string                 `json:"rationale"`
		Confidence float64                `json:"confidence"`
		Operations []store.PatchOperation `json:"operations"`
	}
	if err := json.Unmarshal(result.JSON, &raw); err != nil {
		log.Printf("invalid patch bundle payload provider=%s error=%v", result.Provider, err)
		return PatchBundle{Rationale: "No patch suggestions", Operations: []store.PatchOperation{}, Degraded: true, Provider: result.Provider}, nil
	}

	operations := make([]store.PatchOperation, 0, len(raw.Operations))
	for _, op := range raw.Operations {
		if !validPatchOperation(op) {
			continue
		}
		op.Confidence = clamp01(op.Confidence)
		operations = append(operations, op)
	}

	return PatchBundle{
		Rationale:  raw.Rationale,
		Operations: operations,
		Confidence: clamp01(raw.Confidence),
		Provider:   result.Provider,
	}, nil
}

// DraftAnswer produces a short answer to an application question grounded in
// profile facts. Returns "UNKNOWN" when the model cannot answer truthfully or
// when no provider is reachable.
func (r *Router) DraftAnswer(ctx context.Context, question string, profile store.Profile, skills []store.Skill, analysis JobAnalysis) (string, error) {
	prompt := answerDraftPrompt(question, profileFactsJSON(profile, skills), analysisJSON(analysis))

	result, err := r.Invoke(ctx, CategoryWriter, prompt, nil)
	if err != nil {
		var exhausted *ProviderExhaustedError
		if errors.As(err, &exhausted) {
			return "UNKNOWN", nil
		}
		return "", err
	}

	answer := strings.TrimSpace(result.Text)
	if answer == "" {
		return "UNKNOWN", nil
	}
	return answer, nil
}

func validPatchOperation(op store.PatchOperation) bool {
	switch op.Table {
	case store.TablePersonal, store.TablePreferences, store.TableWorkAuth, store.TableSkills:
	default:
		return false
	}
	switch op.Operation {
	case store.OpInsert, store.OpUpdate, store.OpUpsert:
	default:
		return false
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// profileFactsJSON flattens a profile and its skills into the JSON blob the
// prompts embed.
func profileFactsJSON(profile store.Profile, skills []store.Skill) string {
	names := make([]map[string]any, 0, len(skills))
	for _, s := range skills {
		names = append(names, map[string]any{
			"name":        s.Name,
			"category":    s.Category,
			"years":       s.Years,
			"proficiency": s.Proficiency,
		})
	}
	facts := map[string]any{
		"name":        profile.Name,
		"job_family":  profile.JobFamily,
		"summary":     profile.Summary,
		"personal":    profile.Personal,
		"preferences": profile.Preferences,
		"work_auth":   profile.WorkAuth,
		"skills":      names,
	}
	out, err := json.Marshal(facts)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func analysisJSON(analysis JobAnalysis) string {
	out, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}
