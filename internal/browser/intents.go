// Package browser is the boundary to the automation capability. The core
// builds coarse intents, the engine performs them, and structured outcomes
// flow back; nothing here inspects page DOM.
package browser

import "github.com/applyforge/applyforge/internal/gate"

const (
	IntentNavigate   = "navigate"
	IntentFillField  = "fill_field"
	IntentSubmitPage = "submit_page"
)

const (
	OutcomeSuccess         = "success"
	OutcomeFieldError      = "field_error"
	OutcomePageError       = "page_error"
	OutcomeCaptchaDetected = "captcha_detected"
	OutcomeFatal           = "fatal"
)

// Intent is one coarse browser action. Metadata carries run-scoped flags the
// engine honors (submit, captcha_solved).
type Intent struct {
	Kind     string            `json:"kind"`
	Step     int               `json:"step"`
	Section  string            `json:"section"`
	JobURL   string            `json:"job_url"`
	Fields   map[string]string `json:"fields,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// FieldFill records one field the engine filled and where the value came
// from.
type FieldFill struct {
	Key         string  `json:"key"`
	Locator     string  `json:"locator"`
	ValueSource string  `json:"value_source"`
	Confidence  float64 `json:"confidence"`
}

// Outcome is the engine's structured report for one intent.
type Outcome struct {
	Status      string      `json:"status"`
	Detail      string      `json:"detail"`
	FailedField string      `json:"failed_field,omitempty"`
	Fields      []FieldFill `json:"fields,omitempty"`
}

// Step is one entry of the fixed application script.
type Step struct {
	Name   string
	Kind   string
	Action gate.Action
}

// Script is the browsing plan. The run's persisted step index points into
// it, so resumed runs re-enter at the step last attempted.
var Script = []Step{
	{Name: "start_session", Kind: IntentNavigate, Action: gate.ActionStartBrowserSession},
	{Name: "fill_personal_info", Kind: IntentFillField, Action: gate.ActionFillRequiredSection},
	{Name: "fill_work_history", Kind: IntentFillField, Action: gate.ActionFillRequiredSection},
	{Name: "fill_compliance", Kind: IntentFillField, Action: gate.ActionFillRequiredSection},
	{Name: "upload_resume", Kind: IntentFillField, Action: gate.ActionFileUpload},
}

// SubmitStep runs during the submitting stage, after the script proper.
var SubmitStep = Step{Name: "submit_application", Kind: IntentSubmitPage, Action: gate.ActionFinalSubmit}

// FirstFillStep is where a page-level retry rewinds to: the first step after
// session start.
const FirstFillStep = 1
