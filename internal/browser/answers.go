package browser

import (
	"context"

	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/store"
)

// Answer sources, recorded with every resolved question.
const (
	SourceProfileAnswers = "profile_answers"
	SourceLLMInferred    = "llm_inferred"
	SourceUnknown        = "unknown"
)

// AnswerBank is the slice of the profile store the resolver reads.
type AnswerBank interface {
	GetAnswer(ctx context.Context, profileID string, questionHash string) (*store.Answer, error)
}

// Drafter produces a candidate answer when the bank has none.
type Drafter interface {
	DraftAnswer(ctx context.Context, question string, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (string, error)
}

// AnswerResolver answers application questions from the verified answer bank
// first and falls back to a drafted answer. Unresolvable questions surface
// with the unknown source so the run can request human review instead of
// guessing.
type AnswerResolver struct {
	bank    AnswerBank
	drafter Drafter
}

func NewAnswerResolver(bank AnswerBank, drafter Drafter) *AnswerResolver {
	return &AnswerResolver{bank: bank, drafter: drafter}
}

// Resolve returns the answer text, its source, and a confidence score.
func (r *AnswerResolver) Resolve(ctx context.Context, question string, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (string, string, float64, error) {
	existing, err := r.bank.GetAnswer(ctx, profile.ID, store.QuestionHash(question))
	if err != nil {
		return "", "", 0, err
	}
	if existing != nil && existing.AnswerText != "" && existing.VerificationState == store.AnswerVerified {
		return existing.AnswerText, SourceProfileAnswers, 0.98, nil
	}

	candidate, err := r.drafter.DraftAnswer(ctx, question, profile, skills, analysis)
	if err != nil {
		return "", "", 0, err
	}
	if candidate == "UNKNOWN" {
		return "", SourceUnknown, 0, nil
	}
	return candidate, SourceLLMInferred, 0.6, nil
}
