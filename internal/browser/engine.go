package browser

import (
	"context"
	"fmt"
	"strings"
)

// Engine performs one intent against the live page and reports a structured
// outcome. Implementations own all navigation and DOM work.
type Engine interface {
	Perform(ctx context.Context, intent Intent) Outcome
}

// AutomationEngine is the scripted implementation: outcomes derive from the
// posting URL and the step script. CAPTCHA detection is a URL heuristic,
// honored until the run records a human solve.
type AutomationEngine struct{}

func NewAutomationEngine() *AutomationEngine {
	return &AutomationEngine{}
}

func (e *AutomationEngine) Perform(ctx context.Context, intent Intent) Outcome {
	if containsFold(intent.JobURL, "captcha") && !metaBool(intent.Metadata, "captcha_solved") {
		return Outcome{
			Status: OutcomeCaptchaDetected,
			Detail: "CAPTCHA detected from URL heuristic; waiting for human intervention.",
		}
	}

	switch intent.Section {
	case "start_session":
		adapter := DetectAdapter(intent.JobURL)
		return Outcome{
			Status: OutcomeSuccess,
			Detail: fmt.Sprintf("Opened %s and stopped at the first visible application form section (%s adapter).", intent.JobURL, adapter.Name),
		}

	case "fill_personal_info":
		return Outcome{
			Status: OutcomeSuccess,
			Detail: "Filled personal info section",
			Fields: []FieldFill{
				{Key: "first_name", Locator: "input[name*=first]", ValueSource: "profile_personal.first_name", Confidence: 0.95},
				{Key: "email", Locator: "input[type=email]", ValueSource: "profile_personal.email", Confidence: 0.95},
			},
		}

	case "fill_work_history":
		return Outcome{
			Status: OutcomeSuccess,
			Detail: "Filled work history section",
			Fields: []FieldFill{
				{Key: "current_title", Locator: "input[name*=title]", ValueSource: "experiences[0].title", Confidence: 0.86},
			},
		}

	case "fill_compliance":
		return Outcome{
			Status: OutcomeSuccess,
			Detail: "Filled compliance section",
			Fields: []FieldFill{
				{Key: "work_authorization", Locator: "select[name*=auth]", ValueSource: "profile_work_auth", Confidence: 0.8},
			},
		}

	case "upload_resume":
		return Outcome{
			Status: OutcomeSuccess,
			Detail: "Uploaded tailored resume",
			Fields: []FieldFill{
				{Key: "resume_file", Locator: "input[type=file]", ValueSource: "resume_versions.latest", Confidence: 0.9},
			},
		}

	case "submit_application":
		if !metaBool(intent.Metadata, "submit") {
			return Outcome{
				Status: OutcomeSuccess,
				Detail: "Submit disabled (submit not requested). Dry run completed.",
			}
		}
		return Outcome{
			Status: OutcomeSuccess,
			Detail: fmt.Sprintf("Reviewed required fields and submitted the application at %s.", intent.JobURL),
		}
	}

	return Outcome{
		Status: OutcomeFatal,
		Detail: fmt.Sprintf("unsupported browser action: %s", intent.Section),
	}
}

func metaBool(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
