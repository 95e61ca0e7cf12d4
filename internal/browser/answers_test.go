package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/store"
)

type fakeBank struct {
	answers map[string]*store.Answer
	err     error
}

func (f *fakeBank) GetAnswer(ctx context.Context, profileID string, questionHash string) (*store.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answers[questionHash], nil
}

type fakeDrafter struct {
	answer string
	err    error
	calls  int
}

func (f *fakeDrafter) DraftAnswer(ctx context.Context, question string, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (string, error) {
	f.calls++
	return f.answer, f.err
}

func TestResolve_VerifiedBankHit(t *testing.T) {
	question := "Are you authorized to work in the US?"
	bank := &fakeBank{answers: map[string]*store.Answer{
		store.QuestionHash(question): {
			AnswerText:        "Yes",
			VerificationState: store.AnswerVerified,
		},
	}}
	drafter := &fakeDrafter{answer: "should not be used"}
	resolver := NewAnswerResolver(bank, drafter)

	text, source, confidence, err := resolver.Resolve(context.Background(), question, store.Profile{ID: "p-1"}, nil, llm.JobAnalysis{})
	require.NoError(t, err)
	require.Equal(t, "Yes", text)
	require.Equal(t, SourceProfileAnswers, source)
	require.Equal(t, 0.98, confidence)
	require.Zero(t, drafter.calls)
}

func TestResolve_UnverifiedBankMissesToDraft(t *testing.T) {
	question := "Years of Go experience?"
	bank := &fakeBank{answers: map[string]*store.Answer{
		store.QuestionHash(question): {
			AnswerText:        "6",
			VerificationState: store.AnswerNeedsReview,
		},
	}}
	drafter := &fakeDrafter{answer: "Six years building backend services."}
	resolver := NewAnswerResolver(bank, drafter)

	text, source, confidence, err := resolver.Resolve(context.Background(), question, store.Profile{ID: "p-1"}, nil, llm.JobAnalysis{})
	require.NoError(t, err)
	require.Equal(t, "Six years building backend services.", text)
	require.Equal(t, SourceLLMInferred, source)
	require.Equal(t, 0.6, confidence)
	require.Equal(t, 1, drafter.calls)
}

func TestResolve_UnknownDraft(t *testing.T) {
	bank := &fakeBank{}
	drafter := &fakeDrafter{answer: "UNKNOWN"}
	resolver := NewAnswerResolver(bank, drafter)

	text, source, confidence, err := resolver.Resolve(context.Background(), "Salary expectation?", store.Profile{ID: "p-1"}, nil, llm.JobAnalysis{})
	require.NoError(t, err)
	require.Empty(t, text)
	require.Equal(t, SourceUnknown, source)
	require.Zero(t, confidence)
}

func TestResolve_BankErrorPropagates(t *testing.T) {
	bank := &fakeBank{err: errors.New("db down")}
	resolver := NewAnswerResolver(bank, &fakeDrafter{})

	_, _, _, err := resolver.Resolve(context.Background(), "Any question", store.Profile{ID: "p-1"}, nil, llm.JobAnalysis{})
	require.Error(t, err)
}

func TestResolve_CanonicalizesQuestionForLookup(t *testing.T) {
	bank := &fakeBank{answers: map[string]*store.Answer{
		store.QuestionHash("are you authorized to work in the us?"): {
			AnswerText:        "Yes",
			VerificationState: store.AnswerVerified,
		},
	}}
	resolver := NewAnswerResolver(bank, &fakeDrafter{})

	text, source, _, err := resolver.Resolve(context.Background(), "  Are  You AUTHORIZED to work in the US?  ", store.Profile{ID: "p-1"}, nil, llm.JobAnalysis{})
	require.NoError(t, err)
	require.Equal(t, "Yes", text)
	require.Equal(t, SourceProfileAnswers, source)
}
