package browser

import (
	"fmt"
	"sync"
)

// SessionBusyError reports that a browser profile directory is already owned
// by another run.
type SessionBusyError struct {
	Key    string
	Holder string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("browser session %q is held by run %s", e.Key, e.Holder)
}

// Sessions serializes access to browser profile directories. A directory is
// owned by at most one run; a second Acquire fails fast so the caller can
// retry later instead of corrupting session state.
type Sessions struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewSessions() *Sessions {
	return &Sessions{owners: map[string]string{}}
}

// Acquire takes ownership of key for runID. Re-acquiring a key the run
// already holds is a no-op, so resumed advances stay idempotent.
func (s *Sessions) Acquire(key, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.owners[key]; ok && holder != runID {
		return &SessionBusyError{Key: key, Holder: holder}
	}
	s.owners[key] = runID
	return nil
}

// Release gives up ownership. Only the holding run can release.
func (s *Sessions) Release(key, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[key] == runID {
		delete(s.owners, key)
	}
}

// Holder reports the run currently owning key, if any.
func (s *Sessions) Holder(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holder, ok := s.owners[key]
	return holder, ok
}
