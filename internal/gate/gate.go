// Package gate decides which run actions need a human approval for a
// given run mode. The lookup is pure: no I/O, no run state.
package gate

import "fmt"

type Mode string

const (
	ModeStrict Mode = "strict"
	ModeMedium Mode = "medium"
	ModeYolo   Mode = "yolo"
)

type Action string

const (
	ActionJobParsingStart        Action = "job_parsing_start"
	ActionCVTailoringOutput      Action = "cv_tailoring_output"
	ActionDBPatchApply           Action = "db_patch_apply"
	ActionQuestionReviewRequired Action = "question_review_required"
	ActionStartBrowserSession    Action = "start_browser_session"
	ActionFillRequiredSection    Action = "fill_required_section"
	ActionFileUpload             Action = "file_upload"
	ActionFinalSubmit            Action = "final_submit"
)

var strictActions = map[Action]struct{}{
	ActionJobParsingStart:        {},
	ActionCVTailoringOutput:      {},
	ActionDBPatchApply:           {},
	ActionQuestionReviewRequired: {},
	ActionStartBrowserSession:    {},
	ActionFillRequiredSection:    {},
	ActionFileUpload:             {},
	ActionFinalSubmit:            {},
}

var mediumActions = map[Action]struct{}{
	ActionCVTailoringOutput:      {},
	ActionDBPatchApply:           {},
	ActionQuestionReviewRequired: {},
	ActionFillRequiredSection:    {},
	ActionFileUpload:             {},
	ActionFinalSubmit:            {},
}

// Requires reports whether mode pauses the run before action. Captcha
// interrupts are not part of the table: the state machine forces them
// for every mode.
func Requires(mode Mode, action Action) bool {
	switch mode {
	case ModeStrict:
		_, ok := strictActions[action]
		return ok
	case ModeMedium:
		_, ok := mediumActions[action]
		return ok
	default:
		return false
	}
}

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeStrict, ModeMedium, ModeYolo:
		return Mode(raw), nil
	}
	return "", fmt.Errorf("unsupported run mode %q", raw)
}
