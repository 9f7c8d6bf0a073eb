package review

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSubmission     = errors.New("invalid submission")
	ErrDocumentUnreadable    = errors.New("document unreadable")
	ErrPersistFailed         = errors.New("persist failed")
	ErrDispatchDeadline      = errors.New("dispatch deadline exceeded")
	ErrEndpointNotConfigured = errors.New("endpoint not configured")
)

// SubmissionError names the phase of Submit that failed.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
