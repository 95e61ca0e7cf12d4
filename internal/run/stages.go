package run

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/gate"
	"github.com/applyforge/applyforge/internal/jobs"
	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/store"
)

// advanceOnce executes the run's current stage. changed=true means the run
// moved to the next stage and the loop should go again; changed=false with a
// nil error means the run suspended or reached a terminal state; an error is
// an unrecoverable failure the loop records.
func (o *Orchestrator) advanceOnce(ctx context.Context, run *store.Run) (bool, error) {
	job, err := o.store.GetJob(ctx, run.JobID)
	if err != nil {
		return false, err
	}
	profile, err := o.store.GetProfile(ctx, run.ProfileID)
	if err != nil {
		return false, err
	}
	if job == nil || profile == nil {
		return false, fmt.Errorf("run %s references a missing job or profile", run.ID)
	}

	switch run.Stage {
	case store.StageParsing:
		return o.stageParsing(ctx, run, job)
	case store.StageTailoring:
		return o.stageTailoring(ctx, run, job, profile)
	case store.StagePatching:
		return o.stagePatching(ctx, run, job, profile)
	case store.StageBrowsing:
		return o.stageBrowsing(ctx, run, job)
	case store.StageSubmitting:
		return o.stageSubmitting(ctx, run, job)
	case store.StageDone:
		return false, nil
	}
	return false, fmt.Errorf("unsupported run stage %q", run.Stage)
}

func (o *Orchestrator) stageParsing(ctx context.Context, run *store.Run, job *store.Job) (bool, error) {
	proceed, err := o.approvalGate(ctx, run, gate.ActionJobParsingStart, "job_parsing_start", map[string]any{"job_url": job.URL})
	if err != nil || !proceed {
		return false, err
	}

	text, fetchErr := o.fetcher.FetchText(ctx, job.URL)
	if fetchErr != nil {
		// The router still gets a shot at the bare URL; only a posting that
		// yields nothing at all fails the run.
		log.Printf("run %s: job fetch failed: %v", run.ID, fetchErr)
		text = ""
	}

	analysis, err := o.tasks.AnalyzeJob(ctx, job.URL, text)
	if err != nil {
		return false, err
	}
	if unusableAnalysis(analysis, text) {
		reason := "posting yielded no readable content"
		if fetchErr != nil {
			reason = fetchErr.Error()
		}
		return false, &jobs.ParseError{URL: job.URL, Reason: reason}
	}

	job.Title = analysis.Title
	job.Company = analysis.Company
	job.Location = analysis.Location
	job.Compensation = analysis.Compensation
	job.Requirements = analysis.Requirements
	job.Responsibilities = analysis.Responsibilities
	job.Keywords = analysis.Keywords
	job.JDText = text
	job.JDHash = store.TextHash(text)
	if err := o.store.UpdateJobAnalysis(ctx, *job); err != nil {
		return false, err
	}

	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:  run.ID,
		Kind:   store.EventStageCompleted,
		Stage:  store.StageParsing,
		Action: "job_analyzed",
		Payload: map[string]any{
			"title":    analysis.Title,
			"company":  analysis.Company,
			"location": analysis.Location,
			"provider": analysis.Provider,
			"degraded": analysis.Degraded,
		},
	}); err != nil {
		return false, err
	}

	if err := o.enterStage(ctx, run.ID, store.StageTailoring, nil); err != nil {
		return false, err
	}
	return true, nil
}

// unusableAnalysis reports a posting that produced nothing to work with: no
// readable text and no usable title or requirements from the analysis.
func unusableAnalysis(analysis llm.JobAnalysis, text string) bool {
	if strings.TrimSpace(text) != "" {
		return false
	}
	if len(analysis.Requirements) > 0 {
		return false
	}
	title := strings.TrimSpace(analysis.Title)
	return title == "" || title == "Unknown Title"
}

// analysisFromJob rebuilds the parsed analysis from the persisted job row so
// later stages and resumed runs never depend on context blobs for it.
func analysisFromJob(job *store.Job) llm.JobAnalysis {
	return llm.JobAnalysis{
		Title:            job.Title,
		Company:          job.Company,
		Location:         job.Location,
		Responsibilities: job.Responsibilities,
		Requirements:     job.Requirements,
		Compensation:     job.Compensation,
		Keywords:         job.Keywords,
	}
}

func (o *Orchestrator) stageTailoring(ctx context.Context, run *store.Run, job *store.Job, profile *store.Profile) (bool, error) {
	runContext := store.CloneContext(run.Context)
	resumeID := store.ContextString(runContext, store.ContextResumeDocumentID)
	coverID := store.ContextString(runContext, store.ContextCoverDocumentID)

	// Documents are generated once per run; a rejected-then-retried gate or a
	// resumed run reuses the stored versions.
	if resumeID == "" || coverID == "" {
		skills, err := o.store.ListSkills(ctx, profile.ID)
		if err != nil {
			return false, err
		}
		docs, err := o.tasks.TailorDocuments(ctx, *profile, skills, analysisFromJob(job))
		if err != nil {
			return false, err
		}

		metadata := map[string]any{}
		for key, value := range docs.Metadata {
			metadata[key] = value
		}
		metadata["provider"] = docs.Provider
		metadata["degraded"] = docs.Degraded

		resumeID = uuid.NewString()
		coverID = uuid.NewString()
		if err := o.store.SaveDocument(ctx, store.DocumentVersion{
			ID:        resumeID,
			RunID:     run.ID,
			JobID:     job.ID,
			ProfileID: profile.ID,
			Kind:      store.DocumentResume,
			Markdown:  docs.ResumeMarkdown,
			Metadata:  metadata,
		}); err != nil {
			return false, err
		}
		if err := o.store.SaveDocument(ctx, store.DocumentVersion{
			ID:        coverID,
			RunID:     run.ID,
			JobID:     job.ID,
			ProfileID: profile.ID,
			Kind:      store.DocumentCoverLetter,
			Markdown:  docs.CoverLetterMarkdown,
			Metadata:  metadata,
		}); err != nil {
			return false, err
		}

		runContext[store.ContextResumeDocumentID] = resumeID
		runContext[store.ContextCoverDocumentID] = coverID
		if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
			return false, err
		}
		run.Context = runContext

		if _, err := o.emitter.Emit(ctx, store.RunEvent{
			RunID:  run.ID,
			Kind:   store.EventStageCompleted,
			Stage:  store.StageTailoring,
			Action: "documents_generated",
			Payload: map[string]any{
				"resume_document_id":       resumeID,
				"cover_letter_document_id": coverID,
				"provider":                 docs.Provider,
				"degraded":                 docs.Degraded,
			},
		}); err != nil {
			return false, err
		}
	}

	proceed, err := o.approvalGate(ctx, run, gate.ActionCVTailoringOutput, "cv_tailoring_output", map[string]any{
		"resume_document_id":       resumeID,
		"cover_letter_document_id": coverID,
	})
	if err != nil || !proceed {
		return false, err
	}

	if err := o.enterStage(ctx, run.ID, store.StagePatching, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) stagePatching(ctx context.Context, run *store.Run, job *store.Job, profile *store.Profile) (bool, error) {
	runContext := store.CloneContext(run.Context)

	if !store.ContextFlag(runContext, store.ContextPatchGenerated) {
		skills, err := o.store.ListSkills(ctx, profile.ID)
		if err != nil {
			return false, err
		}
		bundle, err := o.tasks.SuggestPatch(ctx, *profile, skills, analysisFromJob(job))
		if err != nil {
			return false, err
		}

		suggestion := store.PatchSuggestion{
			ID:         uuid.NewString(),
			RunID:      run.ID,
			Provider:   bundle.Provider,
			Rationale:  bundle.Rationale,
			Operations: bundle.Operations,
			Confidence: bundle.Confidence,
			Status:     store.PatchSuggested,
		}
		if err := o.store.CreatePatchSuggestion(ctx, suggestion); err != nil {
			return false, err
		}

		runContext[store.ContextPatchGenerated] = true
		runContext[store.ContextPatchSuggestionID] = suggestion.ID
		runContext[store.ContextPatchAppliedIdx] = []int{}
		if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
			return false, err
		}
		run.Context = runContext

		if _, err := o.emitter.Emit(ctx, store.RunEvent{
			RunID:  run.ID,
			Kind:   store.EventStageCompleted,
			Stage:  store.StagePatching,
			Action: "patch_suggested",
			Payload: map[string]any{
				"suggestion_id":   suggestion.ID,
				"operation_count": len(bundle.Operations),
				"confidence":      bundle.Confidence,
				"provider":        bundle.Provider,
				"degraded":        bundle.Degraded,
			},
		}); err != nil {
			return false, err
		}
	}

	suggestion, err := o.runSuggestion(ctx, run)
	if err != nil {
		return false, err
	}

	done, err := o.applyPatchOperations(ctx, run, profile, suggestion, runContext)
	if err != nil || !done {
		return false, err
	}

	applied := len(store.PatchAppliedIndexes(runContext))
	if suggestion != nil {
		status := store.PatchApplied
		if applied == 0 {
			status = store.PatchSkipped
		}
		if err := o.store.SetPatchStatus(ctx, suggestion.ID, status); err != nil {
			return false, err
		}
	}

	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:   run.ID,
		Kind:    store.EventStageCompleted,
		Stage:   store.StagePatching,
		Action:  "applied",
		Payload: map[string]any{"applied_count": applied},
	}); err != nil {
		return false, err
	}

	if err := o.enterStage(ctx, run.ID, store.StageBrowsing, runContext); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) runSuggestion(ctx context.Context, run *store.Run) (*store.PatchSuggestion, error) {
	suggestions, err := o.store.ListPatchSuggestions(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	suggestionID := store.ContextString(run.Context, store.ContextPatchSuggestionID)
	for i := range suggestions {
		if suggestions[i].ID == suggestionID {
			return &suggestions[i], nil
		}
	}
	if len(suggestions) > 0 {
		return &suggestions[len(suggestions)-1], nil
	}
	return nil, nil
}

// applyPatchOperations walks the suggestion's operations under the mode's
// gating rules, persisting the applied set after every write so a resumed
// run never re-applies an operation. done=false means the run suspended or
// blocked mid-walk.
func (o *Orchestrator) applyPatchOperations(ctx context.Context, run *store.Run, profile *store.Profile, suggestion *store.PatchSuggestion, runContext map[string]any) (bool, error) {
	if suggestion == nil || len(suggestion.Operations) == 0 {
		return true, nil
	}
	applied := store.PatchAppliedIndexes(runContext)

	switch gate.Mode(run.Mode) {
	case gate.ModeStrict:
		for idx, op := range suggestion.Operations {
			if applied[idx] {
				continue
			}
			payload := patchOperationPayload(op)
			proceed, err := o.approvalGate(ctx, run, gate.ActionDBPatchApply, fmt.Sprintf("db_patch_apply:%d", idx), payload)
			if err != nil || !proceed {
				return false, err
			}
			if err := o.store.ApplyPatchOperation(ctx, profile.ID, op); err != nil {
				return false, err
			}
			applied[idx] = true
			runContext[store.ContextPatchAppliedIdx] = sortedIndexes(applied)
			if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
				return false, err
			}
			if _, err := o.emitter.Emit(ctx, store.RunEvent{
				RunID:   run.ID,
				Kind:    store.EventStageCompleted,
				Stage:   store.StagePatching,
				Action:  fmt.Sprintf("patch_op_applied:%d", idx),
				Payload: payload,
			}); err != nil {
				return false, err
			}
		}
		return true, nil

	case gate.ModeMedium:
		if store.ContextFlag(runContext, store.ContextPatchBatchApplied) {
			return true, nil
		}
		proceed, err := o.approvalGate(ctx, run, gate.ActionDBPatchApply, "db_patch_apply", map[string]any{
			"operation_count": len(suggestion.Operations),
			"confidence":      suggestion.Confidence,
		})
		if err != nil || !proceed {
			return false, err
		}
		for idx, op := range suggestion.Operations {
			if applied[idx] {
				continue
			}
			if err := o.store.ApplyPatchOperation(ctx, profile.ID, op); err != nil {
				return false, err
			}
			applied[idx] = true
		}
		runContext[store.ContextPatchAppliedIdx] = sortedIndexes(applied)
		runContext[store.ContextPatchBatchApplied] = true
		return true, o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext})

	default:
		if suggestion.Confidence < o.opts.PatchAutoApplyMinConfidence {
			log.Printf("run %s: patch confidence %.2f below auto-apply floor %.2f, skipping %d operations",
				run.ID, suggestion.Confidence, o.opts.PatchAutoApplyMinConfidence, len(suggestion.Operations))
			return true, nil
		}
		for idx, op := range suggestion.Operations {
			if applied[idx] {
				continue
			}
			if err := o.store.ApplyPatchOperation(ctx, profile.ID, op); err != nil {
				return false, err
			}
			applied[idx] = true
		}
		runContext[store.ContextPatchAppliedIdx] = sortedIndexes(applied)
		runContext[store.ContextPatchBatchApplied] = true
		return true, o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext})
	}
}

func patchOperationPayload(op store.PatchOperation) map[string]any {
	return map[string]any{
		"table":      op.Table,
		"operation":  op.Operation,
		"key":        op.Key,
		"values":     op.Values,
		"source":     op.Source,
		"confidence": op.Confidence,
	}
}

func sortedIndexes(applied map[int]bool) []int {
	indexes := make([]int, 0, len(applied))
	for idx := range applied {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

func (o *Orchestrator) stageBrowsing(ctx context.Context, run *store.Run, job *store.Job) (bool, error) {
	if browser.IsExternalApply(job.URL) {
		if err := o.block(ctx, run, "external_apply",
			"posting routes to an external application site; apply there manually and record the outcome",
			map[string]any{"job_url": job.URL}); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := o.sessions.Acquire(o.opts.SessionKey, run.ID); err != nil {
		return false, err
	}
	defer o.sessions.Release(o.opts.SessionKey, run.ID)

	runContext := store.CloneContext(run.Context)
	idx := store.StepIndex(runContext)

	for idx < len(browser.Script) {
		if o.cancelRequested(run.ID, runContext) {
			if err := o.blockCanceled(ctx, run); err != nil {
				return false, err
			}
			return false, nil
		}

		step := browser.Script[idx]
		proceed, err := o.approvalGate(ctx, run, step.Action, step.Name, map[string]any{"action": step.Name, "step": idx})
		if err != nil || !proceed {
			return false, err
		}

		outcome := o.engine.Perform(ctx, browser.Intent{
			Kind:     step.Kind,
			Step:     idx,
			Section:  step.Name,
			JobURL:   job.URL,
			Metadata: intentMetadata(runContext),
		})

		switch outcome.Status {
		case browser.OutcomeCaptchaDetected:
			return false, o.suspendForCaptcha(ctx, run, idx, outcome.Detail)

		case browser.OutcomeFatal:
			return false, &FatalAutomationError{Step: step.Name, Detail: outcome.Detail}

		case browser.OutcomeFieldError:
			if o.opts.Retry.FieldFailure(runContext, outcome.FailedField) {
				log.Printf("run %s: retrying field %s at step %s", run.ID, outcome.FailedField, step.Name)
			} else if o.opts.Retry.PageFailure(runContext) {
				idx = browser.FirstFillStep
				runContext[store.ContextStepIndex] = idx
				log.Printf("run %s: field budget exhausted at %s, retrying page from step %d", run.ID, step.Name, idx)
			} else {
				return false, o.blockRetriesExhausted(ctx, run, runContext, step.Name, outcome.Detail)
			}
			if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
				return false, err
			}

		case browser.OutcomePageError:
			if !o.opts.Retry.PageFailure(runContext) {
				return false, o.blockRetriesExhausted(ctx, run, runContext, step.Name, outcome.Detail)
			}
			idx = browser.FirstFillStep
			runContext[store.ContextStepIndex] = idx
			log.Printf("run %s: page failed at %s, retrying from step %d", run.ID, step.Name, idx)
			if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
				return false, err
			}

		case browser.OutcomeSuccess:
			payload := map[string]any{"detail": outcome.Detail, "step": idx}
			if len(outcome.Fields) > 0 {
				payload["fields"] = fieldFillPayload(outcome.Fields)
			}
			if _, err := o.emitter.Emit(ctx, store.RunEvent{
				RunID:   run.ID,
				Kind:    store.EventStageCompleted,
				Stage:   store.StageBrowsing,
				Action:  step.Name,
				Payload: payload,
			}); err != nil {
				return false, err
			}
			idx++
			runContext[store.ContextStepIndex] = idx
			if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
				return false, err
			}

		default:
			return false, &FatalAutomationError{Step: step.Name, Detail: fmt.Sprintf("unsupported outcome status %q", outcome.Status)}
		}
	}

	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:   run.ID,
		Kind:    store.EventStageCompleted,
		Stage:   store.StageBrowsing,
		Action:  "sections_filled",
		Payload: map[string]any{"steps_completed": len(browser.Script)},
	}); err != nil {
		return false, err
	}

	if err := o.enterStage(ctx, run.ID, store.StageSubmitting, runContext); err != nil {
		return false, err
	}
	return true, nil
}

// suspendForCaptcha opens the mandatory human-verification interrupt. The
// step cursor stays on the interrupted step so the resumed run re-attempts
// it with the solve signal set.
func (o *Orchestrator) suspendForCaptcha(ctx context.Context, run *store.Run, step int, detail string) error {
	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:            run.ID,
		Kind:             store.EventCaptchaDetected,
		Stage:            run.Stage,
		Action:           "human_solve",
		Payload:          map[string]any{"detail": detail, "step": step},
		RequiresApproval: true,
		ApprovalStatus:   store.ApprovalPending,
	}); err != nil {
		return err
	}
	return o.suspendWaiting(ctx, run.ID, store.StatusWaitingCaptcha)
}

func (o *Orchestrator) blockRetriesExhausted(ctx context.Context, run *store.Run, runContext map[string]any, step, detail string) error {
	if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
		return err
	}
	return o.block(ctx, run, "page_retries_exhausted",
		fmt.Sprintf("automation retries exhausted at %s: %s; fix the page or profile data and start a new run", step, detail),
		map[string]any{"step": step})
}

func intentMetadata(runContext map[string]any) map[string]any {
	return map[string]any{
		"submit":         store.ContextFlag(runContext, store.ContextSubmit),
		"captcha_solved": store.ContextFlag(runContext, store.ContextCaptchaSolved),
	}
}

func fieldFillPayload(fields []browser.FieldFill) []map[string]any {
	out := make([]map[string]any, 0, len(fields))
	for _, field := range fields {
		out = append(out, map[string]any{
			"key":          field.Key,
			"locator":      field.Locator,
			"value_source": field.ValueSource,
			"confidence":   field.Confidence,
		})
	}
	return out
}

func (o *Orchestrator) stageSubmitting(ctx context.Context, run *store.Run, job *store.Job) (bool, error) {
	runContext := store.CloneContext(run.Context)

	if !run.SubmitRequested {
		// Dry run: no gate, no browser intent, just the record.
		return false, o.completeRun(ctx, run, "Application flow completed", true)
	}

	proceed, err := o.approvalGate(ctx, run, gate.ActionFinalSubmit, "final_submit", map[string]any{"job_url": job.URL})
	if err != nil || !proceed {
		return false, err
	}

	if err := o.sessions.Acquire(o.opts.SessionKey, run.ID); err != nil {
		return false, err
	}
	defer o.sessions.Release(o.opts.SessionKey, run.ID)

	step := browser.SubmitStep
	outcome := o.engine.Perform(ctx, browser.Intent{
		Kind:     step.Kind,
		Step:     len(browser.Script),
		Section:  step.Name,
		JobURL:   job.URL,
		Metadata: intentMetadata(runContext),
	})

	switch outcome.Status {
	case browser.OutcomeCaptchaDetected:
		return false, o.suspendForCaptcha(ctx, run, len(browser.Script), outcome.Detail)
	case browser.OutcomeFatal:
		return false, &FatalAutomationError{Step: step.Name, Detail: outcome.Detail}
	case browser.OutcomeSuccess:
		confirmation := strings.TrimSpace(outcome.Detail)
		if confirmation == "" {
			confirmation = "Application flow completed"
		}
		return false, o.completeRun(ctx, run, confirmation, false)
	default:
		// The final page pushed back; a person has to finish this one.
		return false, o.block(ctx, run, "submit_failed",
			fmt.Sprintf("submission did not go through: %s; complete it manually", outcome.Detail),
			map[string]any{"failed_field": outcome.FailedField})
	}
}

// completeRun records the submission row, the completed event, and the
// terminal transition, in that order.
func (o *Orchestrator) completeRun(ctx context.Context, run *store.Run, confirmation string, dryRun bool) error {
	if err := o.store.CreateSubmission(ctx, store.Submission{
		ID:               uuid.NewString(),
		RunID:            run.ID,
		ConfirmationText: confirmation,
		DryRun:           dryRun,
	}); err != nil {
		return err
	}

	ref := fmt.Sprintf("RUN-%s-%d", run.ID, time.Now().UTC().Unix())
	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:   run.ID,
		Kind:    store.EventCompleted,
		Stage:   store.StageDone,
		Action:  "completed",
		Payload: map[string]any{"confirmation_ref": ref, "dry_run": dryRun},
	}); err != nil {
		return err
	}

	done := store.StageDone
	completed := store.StatusCompleted
	return o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &completed, Stage: &done, Completed: true})
}

func (o *Orchestrator) enterStage(ctx context.Context, runID, stage string, runContext map[string]any) error {
	running := store.StatusRunning
	return o.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &running, Stage: &stage, Context: runContext})
}
