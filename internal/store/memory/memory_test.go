package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/applyforge/applyforge/internal/store"
)

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreateProfile(ctx, store.Profile{
		ID:        "p1",
		Name:      "Dana",
		JobFamily: "Data Engineering",
		Personal:  map[string]any{"first_name": "Dana"},
	}))

	profile, err := m.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, "Dana", profile.Name)
	require.NotEmpty(t, profile.CreatedAt)
	require.Equal(t, profile.CreatedAt, profile.UpdatedAt)

	// Mutating the returned copy must not leak into the store.
	profile.Personal["first_name"] = "Mallory"
	reread, err := m.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Dana", reread.Personal["first_name"])

	missing, err := m.GetProfile(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestListProfiles_NewestFirst(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreateProfile(ctx, store.Profile{ID: "p1", Name: "first", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, m.CreateProfile(ctx, store.Profile{ID: "p2", Name: "second", CreatedAt: "2026-01-02T00:00:00Z"}))

	profiles, err := m.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Equal(t, "p2", profiles[0].ID)
	require.Equal(t, "p1", profiles[1].ID)
}

func TestApplyPatchOperation_Sections(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateProfile(ctx, store.Profile{ID: "p1", Name: "Dana"}))

	require.NoError(t, m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TablePersonal,
		Operation: store.OpUpsert,
		Values:    map[string]any{"first_name": "Dana", "email": "dana@example.com"},
	}))
	require.NoError(t, m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TablePersonal,
		Operation: store.OpUpsert,
		Values:    map[string]any{"email": "dana@new.example.com"},
	}))

	profile, err := m.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Dana", profile.Personal["first_name"])
	require.Equal(t, "dana@new.example.com", profile.Personal["email"])

	// insert against an existing row is a no-op.
	require.NoError(t, m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TablePersonal,
		Operation: store.OpInsert,
		Values:    map[string]any{"first_name": "Ignored"},
	}))
	profile, err = m.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Dana", profile.Personal["first_name"])

	// update against a missing row fails.
	err = m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TableWorkAuth,
		Operation: store.OpUpdate,
		Values:    map[string]any{"visa_status": "citizen"},
	})
	require.ErrorContains(t, err, "cannot update missing row")
}

func TestApplyPatchOperation_Skills(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateProfile(ctx, store.Profile{ID: "p1", Name: "Dana"}))

	require.NoError(t, m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TableSkills,
		Operation: store.OpUpsert,
		Key:       map[string]any{"name": "Python"},
		Values:    map[string]any{"category": "language", "years": 4.0, "proficiency": "advanced"},
	}))
	require.NoError(t, m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TableSkills,
		Operation: store.OpUpsert,
		Key:       map[string]any{"name": "python"},
		Values:    map[string]any{"years": 5.0},
	}))

	skills, err := m.ListSkills(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	require.Equal(t, "Python", skills[0].Name)
	require.Equal(t, 5.0, skills[0].Years)
	require.Equal(t, "advanced", skills[0].Proficiency)

	err = m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{
		Table:     store.TableSkills,
		Operation: store.OpUpdate,
		Key:       map[string]any{"name": "Rust"},
		Values:    map[string]any{"years": 1.0},
	})
	require.ErrorContains(t, err, "cannot update missing row")
}

func TestApplyPatchOperation_Errors(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateProfile(ctx, store.Profile{ID: "p1", Name: "Dana"}))

	err := m.ApplyPatchOperation(ctx, "ghost", store.PatchOperation{Table: store.TablePersonal, Operation: store.OpUpsert})
	require.ErrorIs(t, err, store.ErrProfileNotFound)

	err = m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{Table: "payroll", Operation: store.OpUpsert})
	require.ErrorContains(t, err, "unsupported patch table")

	err = m.ApplyPatchOperation(ctx, "p1", store.PatchOperation{Table: store.TablePersonal, Operation: "delete"})
	require.ErrorContains(t, err, "unsupported patch operation")
}

func TestUpsertSkill_MergesByName(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.UpsertSkill(ctx, store.Skill{ID: "s1", ProfileID: "p1", Name: "SQL", Years: 2}))
	require.NoError(t, m.UpsertSkill(ctx, store.Skill{ID: "s2", ProfileID: "p1", Name: "sql", Years: 3, Proficiency: "expert"}))

	skills, err := m.ListSkills(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	require.Equal(t, "s1", skills[0].ID)
	require.Equal(t, 3.0, skills[0].Years)
	require.Equal(t, "expert", skills[0].Proficiency)
}

func TestAnswerLifecycle(t *testing.T) {
	ctx := context.Background()
	m := New()

	hash := store.QuestionHash("Are you authorized to work in the US?")
	require.NoError(t, m.UpsertAnswer(ctx, store.Answer{
		ID:                "a1",
		ProfileID:         "p1",
		QuestionHash:      hash,
		Question:          "Are you authorized to work in the US?",
		AnswerText:        "Yes",
		Source:            "profile",
		Confidence:        0.9,
		VerificationState: store.AnswerNeedsReview,
	}))

	answer, err := m.GetAnswer(ctx, "p1", hash)
	require.NoError(t, err)
	require.NotNil(t, answer)
	require.Equal(t, "Yes", answer.AnswerText)

	require.NoError(t, m.SetAnswerVerification(ctx, "p1", hash, store.AnswerVerified))
	answer, err = m.GetAnswer(ctx, "p1", hash)
	require.NoError(t, err)
	require.Equal(t, store.AnswerVerified, answer.VerificationState)

	// Re-upsert keeps identity but replaces content.
	require.NoError(t, m.UpsertAnswer(ctx, store.Answer{
		ID:           "a2",
		ProfileID:    "p1",
		QuestionHash: hash,
		AnswerText:   "Yes, US citizen",
	}))
	answer, err = m.GetAnswer(ctx, "p1", hash)
	require.NoError(t, err)
	require.Equal(t, "a1", answer.ID)
	require.Equal(t, "Yes, US citizen", answer.AnswerText)

	err = m.SetAnswerVerification(ctx, "p1", "no-such-hash", store.AnswerVerified)
	require.ErrorIs(t, err, store.ErrAnswerNotFound)

	missing, err := m.GetAnswer(ctx, "p1", "no-such-hash")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestJobAnalysisUpdate(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreateJob(ctx, store.Job{ID: "j1", URL: "https://boards.greenhouse.io/acme/jobs/1"}))
	require.NoError(t, m.UpdateJobAnalysis(ctx, store.Job{
		ID:           "j1",
		Title:        "Data Engineer",
		Company:      "Acme",
		Requirements: []string{"SQL", "Python"},
		Keywords:     []string{"sql", "python"},
		JDText:       "Data Engineer at Acme",
	}))

	job, err := m.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "Data Engineer", job.Title)
	require.Equal(t, []string{"SQL", "Python"}, job.Requirements)

	err = m.UpdateJobAnalysis(ctx, store.Job{ID: "ghost"})
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestListJobs_Limit(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreateJob(ctx, store.Job{ID: "j1", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, m.CreateJob(ctx, store.Job{ID: "j2", CreatedAt: "2026-01-02T00:00:00Z"}))
	require.NoError(t, m.CreateJob(ctx, store.Job{ID: "j3", CreatedAt: "2026-01-03T00:00:00Z"}))

	jobs, err := m.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "j3", jobs[0].ID)
	require.Equal(t, "j2", jobs[1].ID)
}

func TestRunUpdate(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreateRun(ctx, store.Run{
		ID:      "r1",
		Status:  store.StatusCreated,
		Stage:   store.StageParsing,
		Context: store.NewRunContext(false),
	}))

	status := store.StatusRunning
	require.NoError(t, m.UpdateRun(ctx, "r1", store.RunUpdate{Status: &status}))

	run, err := m.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, run.Status)
	require.Equal(t, store.StageParsing, run.Stage)
	require.Empty(t, run.CompletedAt)

	stage := store.StageDone
	completed := store.StatusCompleted
	require.NoError(t, m.UpdateRun(ctx, "r1", store.RunUpdate{Status: &completed, Stage: &stage, Completed: true}))
	run, err = m.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, run.Status)
	require.Equal(t, store.StageDone, run.Stage)
	require.NotEmpty(t, run.CompletedAt)

	err = m.UpdateRun(ctx, "ghost", store.RunUpdate{Status: &status})
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestEventLog(t *testing.T) {
	ctx := context.Background()
	m := New()

	seq1, err := m.NextSeq(ctx, "r1")
	require.NoError(t, err)
	seq2, err := m.NextSeq(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, int64(1), seq1)
	require.Equal(t, int64(2), seq2)

	other, err := m.NextSeq(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, int64(1), other)

	require.NoError(t, m.AppendEvent(ctx, store.RunEvent{RunID: "r1", Seq: 1, Kind: store.EventStageStarted, Stage: store.StageParsing}))
	require.NoError(t, m.AppendEvent(ctx, store.RunEvent{RunID: "r1", Seq: 2, Kind: store.EventStageCompleted, Stage: store.StageParsing}))

	all, err := m.ListEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	tail, err := m.ListEvents(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, int64(2), tail[0].Seq)

	event, err := m.GetEvent(ctx, "r1", 2)
	require.NoError(t, err)
	require.Equal(t, store.EventStageCompleted, event.Kind)

	_, err = m.GetEvent(ctx, "r1", 99)
	require.ErrorIs(t, err, store.ErrEventNotFound)
}

func TestEventApproval(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.AppendEvent(ctx, store.RunEvent{
		RunID:            "r1",
		Seq:              1,
		Kind:             store.EventApprovalRequested,
		Stage:            store.StageTailoring,
		Action:           "cv_tailoring_output",
		RequiresApproval: true,
		ApprovalStatus:   store.ApprovalPending,
	}))
	require.NoError(t, m.AppendEvent(ctx, store.RunEvent{
		RunID: "r1",
		Seq:   2,
		Kind:  store.EventStageStarted,
		Stage: store.StageTailoring,
	}))

	pending, err := m.PendingApprovalEvents(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, int64(1), pending[0].Seq)

	require.NoError(t, m.SetEventApproval(ctx, "r1", 1, store.ApprovalApproved))

	event, err := m.GetEvent(ctx, "r1", 1)
	require.NoError(t, err)
	require.Equal(t, store.ApprovalApproved, event.ApprovalStatus)

	// Resolving twice, or resolving a non-gate event, is rejected.
	err = m.SetEventApproval(ctx, "r1", 1, store.ApprovalRejected)
	require.ErrorIs(t, err, store.ErrEventNotPending)
	err = m.SetEventApproval(ctx, "r1", 2, store.ApprovalApproved)
	require.ErrorIs(t, err, store.ErrEventNotPending)
	err = m.SetEventApproval(ctx, "r1", 99, store.ApprovalApproved)
	require.ErrorIs(t, err, store.ErrEventNotFound)

	pending, err = m.PendingApprovalEvents(ctx, "r1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPatchSuggestions(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreatePatchSuggestion(ctx, store.PatchSuggestion{
		ID:        "ps1",
		RunID:     "r1",
		Provider:  "local",
		Rationale: "Add missing skills from the JD",
		Operations: []store.PatchOperation{
			{Table: store.TableSkills, Operation: store.OpUpsert, Key: map[string]any{"name": "airflow"}},
		},
		Confidence: 0.7,
		Status:     store.PatchSuggested,
	}))

	suggestions, err := m.ListPatchSuggestions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, store.PatchSuggested, suggestions[0].Status)
	require.Len(t, suggestions[0].Operations, 1)

	require.NoError(t, m.SetPatchStatus(ctx, "ps1", store.PatchApplied))
	suggestions, err = m.ListPatchSuggestions(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, store.PatchApplied, suggestions[0].Status)

	err = m.SetPatchStatus(ctx, "ghost", store.PatchApplied)
	require.ErrorIs(t, err, store.ErrPatchNotFound)

	none, err := m.ListPatchSuggestions(ctx, "other-run")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.SaveDocument(ctx, store.DocumentVersion{
		ID:       "d1",
		RunID:    "r1",
		Kind:     store.DocumentResume,
		Markdown: "# Dana",
		Metadata: map[string]any{"provider": "openai"},
	}))
	require.NoError(t, m.SaveDocument(ctx, store.DocumentVersion{
		ID:       "d2",
		RunID:    "r1",
		Kind:     store.DocumentCoverLetter,
		Markdown: "Dear Hiring Team,",
	}))

	docs, err := m.ListDocuments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, store.DocumentResume, docs[0].Kind)
	require.Equal(t, store.DocumentCoverLetter, docs[1].Kind)
}

func TestSubmissions(t *testing.T) {
	ctx := context.Background()
	m := New()

	missing, err := m.GetSubmission(ctx, "r1")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, m.CreateSubmission(ctx, store.Submission{
		ID:               "sub1",
		RunID:            "r1",
		ConfirmationText: "RUN-r1-20260825T120000Z",
		DryRun:           true,
	}))

	submission, err := m.GetSubmission(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, submission)
	require.True(t, submission.DryRun)
	require.NotEmpty(t, submission.SubmittedAt)
}
