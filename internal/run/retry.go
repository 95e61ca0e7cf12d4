package run

import "github.com/applyforge/applyforge/internal/store"

// Policy bounds automation retries inside the browsing stage. Counters live
// in the run context so they survive suspension and process restarts.
//
// A field failure increments that field's counter and the same step is
// retried until the counter reaches MaxPerField, at which point the failure
// escalates to the page level. A page failure increments the page counter,
// clears the field counters, and rewinds the step cursor to the first fill
// step; when the page counter reaches MaxPerPage the run blocks.
type Policy struct {
	MaxPerField int
	MaxPerPage  int
}

const (
	defaultMaxPerField = 3
	defaultMaxPerPage  = 2
)

func (p Policy) fieldBound() int {
	if p.MaxPerField > 0 {
		return p.MaxPerField
	}
	return defaultMaxPerField
}

func (p Policy) pageBound() int {
	if p.MaxPerPage > 0 {
		return p.MaxPerPage
	}
	return defaultMaxPerPage
}

// FieldFailure records a failed fill attempt for field and reports whether
// the step may be retried. false means the field budget is exhausted and the
// failure escalates to the page level.
func (p Policy) FieldFailure(runContext map[string]any, field string) bool {
	if field == "" {
		field = "unknown_field"
	}
	counters := store.FieldRetries(runContext)
	counters[field]++
	persisted := make(map[string]any, len(counters))
	for key, count := range counters {
		persisted[key] = count
	}
	runContext[store.ContextFieldRetries] = persisted
	return counters[field] < p.fieldBound()
}

// PageFailure records a full-page failure: the page counter goes up and the
// field counters reset so the retried page starts fresh. false means the
// page budget is exhausted and the run must block.
func (p Policy) PageFailure(runContext map[string]any) bool {
	retries := store.PageRetries(runContext) + 1
	runContext[store.ContextPageRetries] = retries
	runContext[store.ContextFieldRetries] = map[string]any{}
	return retries < p.pageBound()
}
