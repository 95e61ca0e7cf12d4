// Package memory holds the full application state in process memory. It
// backs tests and the zero-setup dev loop; use sqlite or postgres for
// anything that must survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/applyforge/applyforge/internal/store"
)

type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]store.Profile
	skills      map[string]map[string]store.Skill
	answers     map[string]map[string]store.Answer
	jobs        map[string]store.Job
	runs        map[string]store.Run
	events      map[string][]store.RunEvent
	seq         map[string]int64
	suggestions map[string]store.PatchSuggestion
	documents   map[string][]store.DocumentVersion
	submissions map[string]store.Submission
}

func New() *MemoryStore {
	return &MemoryStore{
		profiles:    map[string]store.Profile{},
		skills:      map[string]map[string]store.Skill{},
		answers:     map[string]map[string]store.Answer{},
		jobs:        map[string]store.Job{},
		runs:        map[string]store.Run{},
		events:      map[string][]store.RunEvent{},
		seq:         map[string]int64{},
		suggestions: map[string]store.PatchSuggestion{},
		documents:   map[string][]store.DocumentVersion{},
		submissions: map[string]store.Submission{},
	}
}

func (m *MemoryStore) CreateProfile(ctx context.Context, profile store.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile.CreatedAt == "" {
		profile.CreatedAt = nowStamp()
	}
	if profile.UpdatedAt == "" {
		profile.UpdatedAt = profile.CreatedAt
	}
	m.profiles[profile.ID] = cloneProfile(profile)
	return nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[profileID]
	if !ok {
		return nil, nil
	}
	cloned := cloneProfile(profile)
	return &cloned, nil
}

func (m *MemoryStore) ListProfiles(ctx context.Context) ([]store.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Profile, 0, len(m.profiles))
	for _, profile := range m.profiles {
		results = append(results, cloneProfile(profile))
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID > results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

// ApplyPatchOperation mutates one profile sub-table. The three profile_*
// tables behave as single rows keyed by profile; skills rows are keyed by
// name. insert skips existing rows, update requires one, upsert does both.
func (m *MemoryStore) ApplyPatchOperation(ctx context.Context, profileID string, op store.PatchOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[profileID]
	if !ok {
		return store.ErrProfileNotFound
	}

	switch op.Table {
	case store.TablePersonal:
		merged, err := applySectionOp(profile.Personal, op)
		if err != nil {
			return err
		}
		profile.Personal = merged
	case store.TablePreferences:
		merged, err := applySectionOp(profile.Preferences, op)
		if err != nil {
			return err
		}
		profile.Preferences = merged
	case store.TableWorkAuth:
		merged, err := applySectionOp(profile.WorkAuth, op)
		if err != nil {
			return err
		}
		profile.WorkAuth = merged
	case store.TableSkills:
		if err := m.applySkillOpLocked(profileID, op); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported patch table %q", op.Table)
	}

	profile.UpdatedAt = nowStamp()
	m.profiles[profileID] = profile
	return nil
}

func (m *MemoryStore) applySkillOpLocked(profileID string, op store.PatchOperation) error {
	name := firstString(op.Key, "name")
	if name == "" {
		name = firstString(op.Values, "name")
	}
	if name == "" {
		return fmt.Errorf("skill patch missing name key")
	}

	byName := m.skills[profileID]
	existing, exists := byName[strings.ToLower(name)]

	switch op.Operation {
	case store.OpInsert:
		if exists {
			return nil
		}
	case store.OpUpdate:
		if !exists {
			return fmt.Errorf("cannot update missing row in table %q", store.TableSkills)
		}
	case store.OpUpsert:
	default:
		return fmt.Errorf("unsupported patch operation %q", op.Operation)
	}

	skill := existing
	if !exists {
		skill = store.Skill{
			ID:        fmt.Sprintf("%s:%s", profileID, strings.ToLower(name)),
			ProfileID: profileID,
			Name:      name,
			CreatedAt: nowStamp(),
		}
	}
	if category := firstString(op.Values, "category"); category != "" {
		skill.Category = category
	}
	if years, ok := firstFloat(op.Values, "years"); ok {
		skill.Years = years
	}
	if proficiency := firstString(op.Values, "proficiency"); proficiency != "" {
		skill.Proficiency = proficiency
	}

	if byName == nil {
		byName = map[string]store.Skill{}
		m.skills[profileID] = byName
	}
	byName[strings.ToLower(name)] = skill
	return nil
}

func applySectionOp(current map[string]any, op store.PatchOperation) (map[string]any, error) {
	exists := len(current) > 0
	switch op.Operation {
	case store.OpInsert:
		if exists {
			return current, nil
		}
	case store.OpUpdate:
		if !exists {
			return nil, fmt.Errorf("cannot update missing row in table %q", op.Table)
		}
	case store.OpUpsert:
	default:
		return nil, fmt.Errorf("unsupported patch operation %q", op.Operation)
	}

	merged := cloneMap(current)
	for key, value := range op.Values {
		merged[key] = value
	}
	return merged, nil
}

func (m *MemoryStore) UpsertSkill(ctx context.Context, skill store.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := m.skills[skill.ProfileID]
	if byName == nil {
		byName = map[string]store.Skill{}
		m.skills[skill.ProfileID] = byName
	}
	key := strings.ToLower(skill.Name)
	if existing, ok := byName[key]; ok {
		existing.Category = skill.Category
		existing.Years = skill.Years
		existing.Proficiency = skill.Proficiency
		byName[key] = existing
		return nil
	}
	if skill.CreatedAt == "" {
		skill.CreatedAt = nowStamp()
	}
	byName[key] = skill
	return nil
}

func (m *MemoryStore) ListSkills(ctx context.Context, profileID string) ([]store.Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName := m.skills[profileID]
	results := make([]store.Skill, 0, len(byName))
	for _, skill := range byName {
		results = append(results, skill)
	}
	sort.Slice(results, func(i, j int) bool {
		return strings.ToLower(results[i].Name) < strings.ToLower(results[j].Name)
	})
	return results, nil
}

func (m *MemoryStore) UpsertAnswer(ctx context.Context, answer store.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash := m.answers[answer.ProfileID]
	if byHash == nil {
		byHash = map[string]store.Answer{}
		m.answers[answer.ProfileID] = byHash
	}
	now := nowStamp()
	if existing, ok := byHash[answer.QuestionHash]; ok {
		existing.Question = answer.Question
		existing.AnswerText = answer.AnswerText
		existing.QuestionType = answer.QuestionType
		existing.Source = answer.Source
		existing.Confidence = answer.Confidence
		existing.VerificationState = answer.VerificationState
		existing.UpdatedAt = now
		byHash[answer.QuestionHash] = existing
		return nil
	}
	if answer.CreatedAt == "" {
		answer.CreatedAt = now
	}
	if answer.UpdatedAt == "" {
		answer.UpdatedAt = now
	}
	byHash[answer.QuestionHash] = answer
	return nil
}

func (m *MemoryStore) GetAnswer(ctx context.Context, profileID string, questionHash string) (*store.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	answer, ok := m.answers[profileID][questionHash]
	if !ok {
		return nil, nil
	}
	cloned := answer
	return &cloned, nil
}

func (m *MemoryStore) ListAnswers(ctx context.Context, profileID string) ([]store.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byHash := m.answers[profileID]
	results := make([]store.Answer, 0, len(byHash))
	for _, answer := range byHash {
		results = append(results, answer)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].UpdatedAt)
		right := parseTime(results[j].UpdatedAt)
		if left.Equal(right) {
			return results[i].QuestionHash < results[j].QuestionHash
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) SetAnswerVerification(ctx context.Context, profileID string, questionHash string, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	answer, ok := m.answers[profileID][questionHash]
	if !ok {
		return store.ErrAnswerNotFound
	}
	answer.VerificationState = state
	answer.UpdatedAt = nowStamp()
	m.answers[profileID][questionHash] = answer
	return nil
}

func (m *MemoryStore) CreateJob(ctx context.Context, job store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.CreatedAt == "" {
		job.CreatedAt = nowStamp()
	}
	if job.UpdatedAt == "" {
		job.UpdatedAt = job.CreatedAt
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cloned := cloneJob(job)
	return &cloned, nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, limit int) ([]store.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		results = append(results, cloneJob(job))
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID > results[j].ID
		}
		return left.After(right)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) UpdateJobAnalysis(ctx context.Context, job store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.jobs[job.ID]
	if !ok {
		return store.ErrJobNotFound
	}
	existing.Domain = job.Domain
	existing.Title = job.Title
	existing.Company = job.Company
	existing.Location = job.Location
	existing.Compensation = job.Compensation
	existing.Requirements = append([]string{}, job.Requirements...)
	existing.Responsibilities = append([]string{}, job.Responsibilities...)
	existing.Keywords = append([]string{}, job.Keywords...)
	existing.JDText = job.JDText
	existing.JDHash = job.JDHash
	existing.UpdatedAt = nowStamp()
	m.jobs[job.ID] = existing
	return nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.CreatedAt == "" {
		run.CreatedAt = nowStamp()
	}
	if run.UpdatedAt == "" {
		run.UpdatedAt = run.CreatedAt
	}
	run.Context = cloneMap(run.Context)
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cloned := run
	cloned.Context = store.CloneContext(run.Context)
	return &cloned, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		cloned := run
		cloned.Context = store.CloneContext(run.Context)
		results = append(results, cloned)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID > results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) UpdateRun(ctx context.Context, runID string, update store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return store.ErrRunNotFound
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Stage != nil {
		run.Stage = *update.Stage
	}
	if update.Context != nil {
		run.Context = store.CloneContext(update.Context)
	}
	if update.Error != nil {
		run.Error = *update.Error
	}
	now := nowStamp()
	if update.Completed {
		run.CompletedAt = now
	}
	run.UpdatedAt = now
	m.runs[runID] = run
	return nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[runID] += 1
	return m.seq[runID], nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Timestamp == "" {
		event.Timestamp = nowStamp()
	}
	event.Payload = cloneMap(event.Payload)
	m.events[event.RunID] = append(m.events[event.RunID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[runID]
	results := make([]store.RunEvent, 0, len(events))
	for _, event := range events {
		if afterSeq > 0 && event.Seq <= afterSeq {
			continue
		}
		cloned := event
		cloned.Payload = cloneMap(event.Payload)
		results = append(results, cloned)
	}
	return results, nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, runID string, seq int64) (*store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, event := range m.events[runID] {
		if event.Seq != seq {
			continue
		}
		cloned := event
		cloned.Payload = cloneMap(event.Payload)
		return &cloned, nil
	}
	return nil, store.ErrEventNotFound
}

func (m *MemoryStore) SetEventApproval(ctx context.Context, runID string, seq int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[runID]
	for idx := range events {
		if events[idx].Seq != seq {
			continue
		}
		if !events[idx].RequiresApproval || events[idx].ApprovalStatus != store.ApprovalPending {
			return store.ErrEventNotPending
		}
		events[idx].ApprovalStatus = status
		m.events[runID] = events
		return nil
	}
	return store.ErrEventNotFound
}

func (m *MemoryStore) PendingApprovalEvents(ctx context.Context, runID string) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.RunEvent{}
	for _, event := range m.events[runID] {
		if !event.RequiresApproval || event.ApprovalStatus != store.ApprovalPending {
			continue
		}
		cloned := event
		cloned.Payload = cloneMap(event.Payload)
		results = append(results, cloned)
	}
	return results, nil
}

func (m *MemoryStore) CreatePatchSuggestion(ctx context.Context, suggestion store.PatchSuggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if suggestion.CreatedAt == "" {
		suggestion.CreatedAt = nowStamp()
	}
	if suggestion.UpdatedAt == "" {
		suggestion.UpdatedAt = suggestion.CreatedAt
	}
	suggestion.Operations = append([]store.PatchOperation{}, suggestion.Operations...)
	m.suggestions[suggestion.ID] = suggestion
	return nil
}

func (m *MemoryStore) ListPatchSuggestions(ctx context.Context, runID string) ([]store.PatchSuggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.PatchSuggestion{}
	for _, suggestion := range m.suggestions {
		if suggestion.RunID != runID {
			continue
		}
		cloned := suggestion
		cloned.Operations = append([]store.PatchOperation{}, suggestion.Operations...)
		results = append(results, cloned)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.Before(right)
	})
	return results, nil
}

func (m *MemoryStore) SetPatchStatus(ctx context.Context, suggestionID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	suggestion, ok := m.suggestions[suggestionID]
	if !ok {
		return store.ErrPatchNotFound
	}
	suggestion.Status = status
	suggestion.UpdatedAt = nowStamp()
	m.suggestions[suggestionID] = suggestion
	return nil
}

func (m *MemoryStore) SaveDocument(ctx context.Context, doc store.DocumentVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.CreatedAt == "" {
		doc.CreatedAt = nowStamp()
	}
	doc.Metadata = cloneMap(doc.Metadata)
	m.documents[doc.RunID] = append(m.documents[doc.RunID], doc)
	return nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, runID string) ([]store.DocumentVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.documents[runID]
	results := make([]store.DocumentVersion, 0, len(docs))
	for _, doc := range docs {
		cloned := doc
		cloned.Metadata = cloneMap(doc.Metadata)
		results = append(results, cloned)
	}
	return results, nil
}

func (m *MemoryStore) CreateSubmission(ctx context.Context, submission store.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if submission.SubmittedAt == "" {
		submission.SubmittedAt = nowStamp()
	}
	m.submissions[submission.RunID] = submission
	return nil
}

func (m *MemoryStore) GetSubmission(ctx context.Context, runID string) (*store.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	submission, ok := m.submissions[runID]
	if !ok {
		return nil, nil
	}
	cloned := submission
	return &cloned, nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func cloneMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func cloneProfile(profile store.Profile) store.Profile {
	cloned := profile
	cloned.Personal = cloneMap(profile.Personal)
	cloned.Preferences = cloneMap(profile.Preferences)
	cloned.WorkAuth = cloneMap(profile.WorkAuth)
	return cloned
}

func cloneJob(job store.Job) store.Job {
	cloned := job
	cloned.Requirements = append([]string{}, job.Requirements...)
	cloned.Responsibilities = append([]string{}, job.Responsibilities...)
	cloned.Keywords = append([]string{}, job.Keywords...)
	return cloned
}

func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		if value, ok := payload[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstFloat(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch typed := payload[key].(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}
	return 0, false
}
