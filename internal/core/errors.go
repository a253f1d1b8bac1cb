package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
)

// ValidationError reports the first violated constraint of a submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter '%s' %s", e.Field, e.Reason)
}

// FatalError marks faults that retries cannot fix without operator
// intervention, such as identifier space exhaustion or a storage outage.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func stateError(precondition string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, precondition)
}

func notFoundError(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}
