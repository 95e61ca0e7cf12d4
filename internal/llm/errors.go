package llm

import (
	"fmt"
	"strings"
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

// ProviderExhaustedError reports that every candidate provider for a task
// category was skipped or failed, with the per-candidate reasons.
type ProviderExhaustedError struct {
	Category string
	Attempts []string
}

func (e *ProviderExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no provider available for %s task", e.Category)
	}
	return fmt.Sprintf("no provider could serve %s task: %s", e.Category, strings.Join(e.Attempts, "; "))
}
