package run

import "fmt"

// StaleApprovalError rejects a resolution that references an event which is
// not currently pending. No run state changes; the caller must re-read the
// run and resolve the gate that is actually open.
type StaleApprovalError struct {
	RunID string
	Seq   int64
}

func (e *StaleApprovalError) Error() string {
	return fmt.Sprintf("event %d of run %s is not pending approval", e.Seq, e.RunID)
}

// FatalAutomationError reports the automation capability failing in a way
// neither the retry policy nor a human approval can recover.
type FatalAutomationError struct {
	Step   string
	Detail string
}

func (e *FatalAutomationError) Error() string {
	return fmt.Sprintf("browser automation failed fatally at %s: %s", e.Step, e.Detail)
}
