package store

import "errors"

var (
	// ErrEventNotFound is returned when a (run, seq) pair matches no event.
	ErrEventNotFound = errors.New("run event not found")
	// ErrEventNotPending is returned when resolving an approval on an event
	// whose approval status is not pending.
	ErrEventNotPending = errors.New("run event is not pending approval")
	// ErrRunNotFound is returned by updates against an unknown run.
	ErrRunNotFound = errors.New("run not found")
	// ErrProfileNotFound is returned by patch operations against an unknown profile.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrAnswerNotFound is returned when a verification update matches no answer.
	ErrAnswerNotFound = errors.New("profile answer not found")
	// ErrJobNotFound is returned by analysis updates against an unknown job.
	ErrJobNotFound = errors.New("job not found")
	// ErrPatchNotFound is returned by status updates against an unknown suggestion.
	ErrPatchNotFound = errors.New("patch suggestion not found")
)
