// Package run drives a job application from posting intake to submission.
// The orchestrator owns the run state machine: it sequences the fixed stage
// pipeline, enforces the mode's approval gates, and suspends by persisting
// status instead of parking a goroutine. Advance is the single re-entry
// point; invoking it on a waiting or terminal run returns a snapshot without
// re-executing anything.
package run

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/events"
	"github.com/applyforge/applyforge/internal/gate"
	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/store"
)

// Tasks is the slice of the model router the orchestrator invokes. Each call
// records its serving provider and degrades per category rules.
type Tasks interface {
	AnalyzeJob(ctx context.Context, jobURL, jobText string) (llm.JobAnalysis, error)
	TailorDocuments(ctx context.Context, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (llm.TailoredDocuments, error)
	SuggestPatch(ctx context.Context, profile store.Profile, skills []store.Skill, analysis llm.JobAnalysis) (llm.PatchBundle, error)
}

// TextFetcher downloads a posting and reduces it to plain text.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

type Options struct {
	// DefaultMode is used when a start request names no mode.
	DefaultMode gate.Mode
	// SessionKey identifies the browser profile directory every run of this
	// process contends for.
	SessionKey string
	Retry      Policy
	// PatchAutoApplyMinConfidence is the yolo-mode auto-apply floor. Bundles
	// below it are recorded as skipped, never silently applied.
	PatchAutoApplyMinConfidence float64
}

type Orchestrator struct {
	store    store.Store
	emitter  *events.Emitter
	tasks    Tasks
	fetcher  TextFetcher
	engine   browser.Engine
	sessions *browser.Sessions
	opts     Options

	advances singleflight.Group
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	cancels  map[string]struct{}
}

func NewOrchestrator(st store.Store, emitter *events.Emitter, tasks Tasks, fetcher TextFetcher, engine browser.Engine, sessions *browser.Sessions, opts Options) *Orchestrator {
	if opts.DefaultMode == "" {
		opts.DefaultMode = gate.ModeMedium
	}
	if opts.SessionKey == "" {
		opts.SessionKey = "browser_profile"
	}
	return &Orchestrator{
		store:    st,
		emitter:  emitter,
		tasks:    tasks,
		fetcher:  fetcher,
		engine:   engine,
		sessions: sessions,
		opts:     opts,
		locks:    map[string]*sync.Mutex{},
		cancels:  map[string]struct{}{},
	}
}

type StartInput struct {
	JobURL    string
	ProfileID string
	Mode      string
	Submit    bool
}

// Start creates the job and run records, emits the creation event, and runs
// the first advance pass. The returned snapshot reflects wherever that pass
// stopped: a gate, a captcha, a terminal state, or done.
func (o *Orchestrator) Start(ctx context.Context, input StartInput) (*store.Run, error) {
	if strings.TrimSpace(input.JobURL) == "" {
		return nil, errors.New("job_url required")
	}
	mode := input.Mode
	if mode == "" {
		mode = string(o.opts.DefaultMode)
	}
	parsedMode, err := gate.ParseMode(mode)
	if err != nil {
		return nil, err
	}

	profile, err := o.store.GetProfile(ctx, input.ProfileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, store.ErrProfileNotFound
	}

	job := store.Job{
		ID:     uuid.NewString(),
		URL:    input.JobURL,
		Domain: browser.DetectAdapter(input.JobURL).Name,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	run := store.Run{
		ID:              uuid.NewString(),
		JobID:           job.ID,
		ProfileID:       profile.ID,
		JobURL:          input.JobURL,
		Mode:            string(parsedMode),
		SubmitRequested: input.Submit,
		Status:          store.StatusCreated,
		Stage:           store.StageParsing,
		Context:         store.NewRunContext(input.Submit),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:  run.ID,
		Kind:   store.EventStageStarted,
		Stage:  store.StageParsing,
		Action: "created",
		Payload: map[string]any{
			"job_id":  job.ID,
			"job_url": input.JobURL,
			"mode":    run.Mode,
			"submit":  input.Submit,
		},
	}); err != nil {
		return nil, err
	}

	snapshot, err := o.Advance(ctx, run.ID)
	if err != nil {
		var busy *browser.SessionBusyError
		if errors.As(err, &busy) {
			// The run exists and keeps its pre-browsing state; a later
			// advance call picks it up once the session frees.
			return o.snapshot(ctx, run.ID)
		}
		return snapshot, err
	}
	return snapshot, nil
}

// Advance drives the run until it suspends, blocks, fails, or completes.
// Concurrent calls for the same run collapse into one execution; distinct
// runs advance independently.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (*store.Run, error) {
	value, err, _ := o.advances.Do(runID, func() (any, error) {
		lock := o.runLock(runID)
		lock.Lock()
		defer lock.Unlock()
		return o.advanceLoop(ctx, runID)
	})
	run, _ := value.(*store.Run)
	return run, err
}

func (o *Orchestrator) advanceLoop(ctx context.Context, runID string) (*store.Run, error) {
	for {
		run, err := o.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, store.ErrRunNotFound
		}

		if store.TerminalStatus(run.Status) || store.WaitingStatus(run.Status) {
			return run, nil
		}

		if o.cancelRequested(runID, run.Context) {
			if err := o.blockCanceled(ctx, run); err != nil {
				return nil, err
			}
			continue
		}

		changed, err := o.advanceOnce(ctx, run)
		if err != nil {
			var busy *browser.SessionBusyError
			if errors.As(err, &busy) {
				// Not a failure: the run keeps its state and the caller
				// retries once the holder releases the session.
				return run, err
			}
			return o.failRun(ctx, run, err)
		}
		if !changed {
			return o.snapshot(ctx, runID)
		}
	}
}

// failRun records the causal error event and moves the run to failed. failed
// is reserved for conditions no approval could fix; human-recoverable stops
// go through block instead.
func (o *Orchestrator) failRun(ctx context.Context, run *store.Run, cause error) (*store.Run, error) {
	log.Printf("run %s failed at stage %s: %v", run.ID, run.Stage, cause)
	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:   run.ID,
		Kind:    store.EventError,
		Stage:   run.Stage,
		Action:  "error",
		Payload: map[string]any{"error": cause.Error()},
	}); err != nil {
		log.Printf("emit error event for run %s: %v", run.ID, err)
	}
	status := store.StatusFailed
	message := cause.Error()
	if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &status, Error: &message, Completed: true}); err != nil {
		return nil, err
	}
	return o.snapshot(ctx, run.ID)
}

// Resolve records an approve or reject decision for the pending event seq
// and, on approval, re-advances the run. Approving a pending CAPTCHA event
// also records the human-solve signal so the automation proceeds past the
// challenge. Rejection is terminal: the run blocks and the gated work is
// never re-attempted. Decisions against a terminal run fail as stale.
func (o *Orchestrator) Resolve(ctx context.Context, runID string, seq int64, approve bool) (*store.Run, error) {
	lock := o.runLock(runID)
	lock.Lock()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if run == nil {
		lock.Unlock()
		return nil, store.ErrRunNotFound
	}
	if store.TerminalStatus(run.Status) {
		// A cancel or block can land while a gate is still pending; the
		// leftover gate must not reanimate a finished run.
		lock.Unlock()
		return nil, &StaleApprovalError{RunID: runID, Seq: seq}
	}

	event, err := o.store.GetEvent(ctx, runID, seq)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if !event.RequiresApproval || event.ApprovalStatus != store.ApprovalPending {
		lock.Unlock()
		return nil, &StaleApprovalError{RunID: runID, Seq: seq}
	}

	if approve && event.Kind == store.EventCaptchaDetected {
		// Persist the solve signal before flipping the event so a crash in
		// between leaves the gate still resolvable.
		runContext := store.CloneContext(run.Context)
		runContext[store.ContextCaptchaSolved] = true
		if err := o.store.UpdateRun(ctx, runID, store.RunUpdate{Context: runContext}); err != nil {
			lock.Unlock()
			return nil, err
		}
	}

	status := store.ApprovalApproved
	verb := "approved"
	if !approve {
		status = store.ApprovalRejected
		verb = "rejected"
	}
	if err := o.store.SetEventApproval(ctx, runID, seq, status); err != nil {
		lock.Unlock()
		if errors.Is(err, store.ErrEventNotPending) {
			return nil, &StaleApprovalError{RunID: runID, Seq: seq}
		}
		return nil, err
	}

	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:   runID,
		Kind:    store.EventApprovalResolved,
		Stage:   event.Stage,
		Action:  verb + ":" + event.Action,
		Payload: map[string]any{"event_id": seq, "approved": approve, "decision": status},
	}); err != nil {
		lock.Unlock()
		return nil, err
	}

	if !approve {
		if event.Stage == store.StagePatching {
			o.rejectPatchSuggestion(ctx, run)
		}
		blockErr := o.block(ctx, run, "rejected:"+event.Action,
			fmt.Sprintf("approval for %s was rejected; the run will not continue", event.Action),
			map[string]any{"event_id": seq})
		if blockErr != nil {
			lock.Unlock()
			return nil, blockErr
		}
		snapshot, err := o.snapshot(ctx, runID)
		lock.Unlock()
		return snapshot, err
	}

	running := store.StatusRunning
	if err := o.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &running}); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()
	return o.Advance(ctx, runID)
}

func (o *Orchestrator) rejectPatchSuggestion(ctx context.Context, run *store.Run) {
	suggestionID := store.ContextString(run.Context, store.ContextPatchSuggestionID)
	if suggestionID == "" {
		return
	}
	if err := o.store.SetPatchStatus(ctx, suggestionID, store.PatchRejected); err != nil {
		log.Printf("mark patch suggestion %s rejected: %v", suggestionID, err)
	}
}

// Cancel asks the run to stop. An executing run honors the request at its
// next stage boundary or browsing step; a suspended run blocks immediately.
// Terminal runs are returned untouched.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (*store.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, store.ErrRunNotFound
	}
	if store.TerminalStatus(run.Status) {
		return run, nil
	}

	o.markCancel(runID)
	defer o.clearCancel(runID)

	lock := o.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err = o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, store.ErrRunNotFound
	}
	if store.TerminalStatus(run.Status) {
		return run, nil
	}

	if err := o.blockCanceled(ctx, run); err != nil {
		return nil, err
	}
	return o.snapshot(ctx, runID)
}

func (o *Orchestrator) blockCanceled(ctx context.Context, run *store.Run) error {
	runContext := store.CloneContext(run.Context)
	runContext[store.ContextCancelRequested] = true
	if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Context: runContext}); err != nil {
		return err
	}
	o.clearCancel(run.ID)
	return o.block(ctx, run, "canceled", "canceled by operator", nil)
}

// block transitions the run to terminal blocked. detail always carries a
// human-actionable explanation, since blocked means a person can still do
// something about it.
func (o *Orchestrator) block(ctx context.Context, run *store.Run, action, detail string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["detail"] = detail
	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:   run.ID,
		Kind:    store.EventBlocked,
		Stage:   run.Stage,
		Action:  action,
		Payload: payload,
	}); err != nil {
		return err
	}
	status := store.StatusBlocked
	return o.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &status, Completed: true})
}

// approvalGate enforces one gated action. true means the caller may proceed:
// the mode does not gate the action, or the most recent gate event for
// (stage, eventAction) is approved. Otherwise the run suspends on a new or
// still-pending gate, or blocks on a recorded rejection.
func (o *Orchestrator) approvalGate(ctx context.Context, run *store.Run, action gate.Action, eventAction string, payload map[string]any) (bool, error) {
	if !gate.Requires(gate.Mode(run.Mode), action) {
		return true, nil
	}

	eventLog, err := o.store.ListEvents(ctx, run.ID, 0)
	if err != nil {
		return false, err
	}
	decision := ""
	for i := len(eventLog) - 1; i >= 0; i-- {
		event := eventLog[i]
		if !event.RequiresApproval || event.Stage != run.Stage || event.Action != eventAction {
			continue
		}
		decision = event.ApprovalStatus
		break
	}

	switch decision {
	case store.ApprovalApproved:
		return true, nil
	case store.ApprovalRejected:
		// Resolve normally blocks the run itself; re-blocking here covers a
		// crash between the approval flip and the status write.
		if err := o.block(ctx, run, "rejected:"+eventAction,
			fmt.Sprintf("approval for %s was rejected; the run will not continue", eventAction), nil); err != nil {
			return false, err
		}
		return false, nil
	case store.ApprovalPending:
		return false, o.suspendWaiting(ctx, run.ID, store.StatusWaitingApproval)
	}

	if _, err := o.emitter.Emit(ctx, store.RunEvent{
		RunID:            run.ID,
		Kind:             store.EventApprovalRequested,
		Stage:            run.Stage,
		Action:           eventAction,
		Payload:          payload,
		RequiresApproval: true,
		ApprovalStatus:   store.ApprovalPending,
	}); err != nil {
		return false, err
	}
	return false, o.suspendWaiting(ctx, run.ID, store.StatusWaitingApproval)
}

func (o *Orchestrator) suspendWaiting(ctx context.Context, runID string, status string) error {
	return o.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &status})
}

func (o *Orchestrator) snapshot(ctx context.Context, runID string) (*store.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, store.ErrRunNotFound
	}
	return run, nil
}

func (o *Orchestrator) runLock(runID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[runID] = lock
	}
	return lock
}

func (o *Orchestrator) markCancel(runID string) {
	o.mu.Lock()
	o.cancels[runID] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) clearCancel(runID string) {
	o.mu.Lock()
	delete(o.cancels, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) cancelRequested(runID string, runContext map[string]any) bool {
	o.mu.Lock()
	_, marked := o.cancels[runID]
	o.mu.Unlock()
	return marked || store.ContextFlag(runContext, store.ContextCancelRequested)
}
