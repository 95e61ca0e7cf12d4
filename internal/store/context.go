package store

import "strings"

// Keys used inside Run.Context. The context map is the run's persisted
// scratchpad; values survive a JSON round-trip, so numeric reads must
// tolerate float64.
const (
	ContextSubmit          = "submit"
	ContextStepIndex       = "step_index"
	ContextPageRetries     = "page_retries"
	ContextFieldRetries    = "field_retries"
	ContextCaptchaSolved   = "captcha_solved"
	ContextCancelRequested = "cancel_requested"
	ContextPatchGenerated  = "patch_generated"

	ContextResumeDocumentID  = "tailored_resume_id"
	ContextCoverDocumentID   = "tailored_cover_letter_id"
	ContextPatchSuggestionID = "patch_suggestion_id"
	ContextPatchAppliedIdx   = "patch_applied_indexes"
	ContextPatchBatchApplied = "patch_batch_applied"
)

// NewRunContext builds the initial context for a freshly created run.
func NewRunContext(submit bool) map[string]any {
	return map[string]any{
		ContextSubmit:         submit,
		ContextStepIndex:      0,
		ContextPageRetries:    0,
		ContextFieldRetries:   map[string]any{},
		ContextPatchGenerated: false,
	}
}

// StepIndex returns the persisted browsing step cursor.
func StepIndex(context map[string]any) int {
	return firstInt(context, ContextStepIndex)
}

// PageRetries returns how many full-page retries the run has consumed.
func PageRetries(context map[string]any) int {
	return firstInt(context, ContextPageRetries)
}

// FieldRetries returns the per-field retry counters, keyed by field key.
func FieldRetries(context map[string]any) map[string]int {
	counters := map[string]int{}
	if context == nil {
		return counters
	}
	raw, ok := context[ContextFieldRetries].(map[string]any)
	if !ok {
		return counters
	}
	for key := range raw {
		counters[key] = firstInt(raw, key)
	}
	return counters
}

// PatchAppliedIndexes returns the set of patch operation indexes the run has
// already applied. Tolerates both []int (in memory) and []any (after a JSON
// round trip).
func PatchAppliedIndexes(context map[string]any) map[int]bool {
	applied := map[int]bool{}
	if context == nil {
		return applied
	}
	switch raw := context[ContextPatchAppliedIdx].(type) {
	case []int:
		for _, idx := range raw {
			applied[idx] = true
		}
	case []any:
		for _, value := range raw {
			switch idx := value.(type) {
			case int:
				applied[idx] = true
			case int64:
				applied[int(idx)] = true
			case float64:
				applied[int(idx)] = true
			}
		}
	}
	return applied
}

// ContextFlag reads a boolean context value, tolerating absent keys.
func ContextFlag(context map[string]any, key string) bool {
	if context == nil {
		return false
	}
	value, ok := context[key].(bool)
	return ok && value
}

// ContextString reads a string context value, tolerating absent keys.
func ContextString(context map[string]any, key string) string {
	return firstString(context, key)
}

// CloneContext copies a context map so callers can mutate without aliasing
// the stored run.
func CloneContext(context map[string]any) map[string]any {
	cloned := make(map[string]any, len(context))
	for key, value := range context {
		if nested, ok := value.(map[string]any); ok {
			inner := make(map[string]any, len(nested))
			for k, v := range nested {
				inner[k] = v
			}
			cloned[key] = inner
			continue
		}
		cloned[key] = value
	}
	return cloned
}

func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		if typed, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstInt(payload map[string]any, keys ...string) int {
	if payload == nil {
		return 0
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case int:
			return typed
		case int64:
			return int(typed)
		case float64:
			return int(typed)
		}
	}
	return 0
}

func firstBool(payload map[string]any, keys ...string) bool {
	if payload == nil {
		return false
	}
	for _, key := range keys {
		if typed, ok := payload[key].(bool); ok {
			return typed
		}
	}
	return false
}
