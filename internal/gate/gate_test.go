package gate

import "testing"

var allActions = []Action{
	ActionJobParsingStart,
	ActionCVTailoringOutput,
	ActionDBPatchApply,
	ActionQuestionReviewRequired,
	ActionStartBrowserSession,
	ActionFillRequiredSection,
	ActionFileUpload,
	ActionFinalSubmit,
}

func TestRequires_Strict(t *testing.T) {
	for _, action := range allActions {
		if !Requires(ModeStrict, action) {
			t.Fatalf("strict mode should gate %q", action)
		}
	}
}

func TestRequires_Medium(t *testing.T) {
	gated := map[Action]bool{
		ActionJobParsingStart:        false,
		ActionCVTailoringOutput:      true,
		ActionDBPatchApply:           true,
		ActionQuestionReviewRequired: true,
		ActionStartBrowserSession:    false,
		ActionFillRequiredSection:    true,
		ActionFileUpload:             true,
		ActionFinalSubmit:            true,
	}

	for action, want := range gated {
		if got := Requires(ModeMedium, action); got != want {
			t.Fatalf("Requires(medium, %q) = %v, want %v", action, got, want)
		}
	}
}

func TestRequires_Yolo(t *testing.T) {
	for _, action := range allActions {
		if Requires(ModeYolo, action) {
			t.Fatalf("yolo mode should not gate %q", action)
		}
	}
}

func TestRequires_UnknownMode(t *testing.T) {
	if Requires(Mode("turbo"), ActionFinalSubmit) {
		t.Fatal("unknown mode should never gate")
	}
}

func TestParseMode(t *testing.T) {
	for _, raw := range []string{"strict", "medium", "yolo"} {
		mode, err := ParseMode(raw)
		if err != nil {
			t.Fatalf("ParseMode(%q) returned error: %v", raw, err)
		}
		if string(mode) != raw {
			t.Fatalf("ParseMode(%q) = %q", raw, mode)
		}
	}

	if _, err := ParseMode("turbo"); err == nil {
		t.Fatal("ParseMode should reject unknown modes")
	}
}
