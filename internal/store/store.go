package store

import "context"

// Run statuses. A run is terminal in blocked, failed, or completed.
const (
	StatusCreated         = "created"
	StatusRunning         = "running"
	StatusWaitingApproval = "waiting_approval"
	StatusWaitingCaptcha  = "waiting_captcha"
	StatusBlocked         = "blocked"
	StatusFailed          = "failed"
	StatusCompleted       = "completed"
)

// Run stages, in pipeline order.
const (
	StageParsing    = "parsing"
	StageTailoring  = "tailoring"
	StagePatching   = "patching"
	StageBrowsing   = "browsing"
	StageSubmitting = "submitting"
	StageDone       = "done"
)

// RunEvent kinds.
const (
	EventStageStarted      = "stage_started"
	EventStageCompleted    = "stage_completed"
	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"
	EventCaptchaDetected   = "captcha_detected"
	EventError             = "error"
	EventBlocked           = "blocked"
	EventCompleted         = "completed"
)

// Approval statuses on a RunEvent. Empty means the event never required
// approval. pending is the only state that may transition.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// PatchSuggestion statuses.
const (
	PatchSuggested = "suggested"
	PatchApproved  = "approved"
	PatchApplied   = "applied"
	PatchRejected  = "rejected"
	PatchSkipped   = "skipped"
)

// Document kinds.
const (
	DocumentResume      = "resume"
	DocumentCoverLetter = "cover_letter"
)

// Patchable profile tables and operations.
const (
	TablePersonal    = "profile_personal"
	TablePreferences = "profile_preferences"
	TableWorkAuth    = "profile_work_auth"
	TableSkills      = "skills"

	OpInsert = "insert"
	OpUpdate = "update"
	OpUpsert = "upsert"
)

// Answer verification states.
const (
	AnswerVerified    = "verified"
	AnswerNeedsReview = "needs_review"
	AnswerRejected    = "rejected"
)

type Run struct {
	ID              string
	JobID           string
	ProfileID       string
	JobURL          string
	Mode            string
	SubmitRequested bool
	Status          string
	Stage           string
	Context         map[string]any
	Error           string
	CreatedAt       string
	UpdatedAt       string
	CompletedAt     string
}

type RunEvent struct {
	RunID            string
	Seq              int64
	Kind             string
	Stage            string
	Action           string
	Timestamp        string
	Payload          map[string]any
	RequiresApproval bool
	ApprovalStatus   string
}

// RunUpdate carries the mutable run fields; nil pointers leave the stored
// value untouched. Completed stamps CompletedAt.
type RunUpdate struct {
	Status    *string
	Stage     *string
	Context   map[string]any
	Error     *string
	Completed bool
}

type Job struct {
	ID               string
	URL              string
	Domain           string
	Title            string
	Company          string
	Location         string
	Compensation     string
	Requirements     []string
	Responsibilities []string
	Keywords         []string
	JDText           string
	JDHash           string
	CreatedAt        string
	UpdatedAt        string
}

type Profile struct {
	ID          string
	Name        string
	JobFamily   string
	Summary     string
	IsDefault   bool
	Personal    map[string]any
	Preferences map[string]any
	WorkAuth    map[string]any
	CreatedAt   string
	UpdatedAt   string
}

type Skill struct {
	ID          string
	ProfileID   string
	Name        string
	Category    string
	Years       float64
	Proficiency string
	CreatedAt   string
}

type Answer struct {
	ID                string
	ProfileID         string
	QuestionHash      string
	Question          string
	AnswerText        string
	QuestionType      string
	Source            string
	Confidence        float64
	VerificationState string
	CreatedAt         string
	UpdatedAt         string
}

type PatchOperation struct {
	Table      string         `json:"table"`
	Operation  string         `json:"operation"`
	Key        map[string]any `json:"key"`
	Values     map[string]any `json:"values"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
}

type PatchSuggestion struct {
	ID         string
	RunID      string
	Provider   string
	Rationale  string
	Operations []PatchOperation
	Confidence float64
	Status     string
	CreatedAt  string
	UpdatedAt  string
}

type DocumentVersion struct {
	ID        string
	RunID     string
	JobID     string
	ProfileID string
	Kind      string
	Markdown  string
	Metadata  map[string]any
	CreatedAt string
}

type Submission struct {
	ID               string
	RunID            string
	ConfirmationText string
	DryRun           bool
	SubmittedAt      string
}

type Store interface {
	CreateProfile(ctx context.Context, profile Profile) error
	GetProfile(ctx context.Context, profileID string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	ApplyPatchOperation(ctx context.Context, profileID string, op PatchOperation) error
	UpsertSkill(ctx context.Context, skill Skill) error
	ListSkills(ctx context.Context, profileID string) ([]Skill, error)

	UpsertAnswer(ctx context.Context, answer Answer) error
	GetAnswer(ctx context.Context, profileID string, questionHash string) (*Answer, error)
	ListAnswers(ctx context.Context, profileID string) ([]Answer, error)
	SetAnswerVerification(ctx context.Context, profileID string, questionHash string, state string) error

	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	UpdateJobAnalysis(ctx context.Context, job Job) error

	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	UpdateRun(ctx context.Context, runID string, update RunUpdate) error

	NextSeq(ctx context.Context, runID string) (int64, error)
	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]RunEvent, error)
	GetEvent(ctx context.Context, runID string, seq int64) (*RunEvent, error)
	SetEventApproval(ctx context.Context, runID string, seq int64, status string) error
	PendingApprovalEvents(ctx context.Context, runID string) ([]RunEvent, error)

	CreatePatchSuggestion(ctx context.Context, suggestion PatchSuggestion) error
	ListPatchSuggestions(ctx context.Context, runID string) ([]PatchSuggestion, error)
	SetPatchStatus(ctx context.Context, suggestionID string, status string) error

	SaveDocument(ctx context.Context, doc DocumentVersion) error
	ListDocuments(ctx context.Context, runID string) ([]DocumentVersion, error)

	CreateSubmission(ctx context.Context, submission Submission) error
	GetSubmission(ctx context.Context, runID string) (*Submission, error)
}

// TerminalStatus reports whether a run can make no further progress.
func TerminalStatus(status string) bool {
	switch status {
	case StatusBlocked, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// WaitingStatus reports whether a run is suspended pending external input.
func WaitingStatus(status string) bool {
	return status == StatusWaitingApproval || status == StatusWaitingCaptcha
}
