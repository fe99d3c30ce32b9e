package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/jdziat/jobflow/pkg/security"
)

// Validation errors, defined next to the rules in pkg/security.
var (
	ErrInvalidKind      = security.ErrInvalidKind
	ErrKindTooLong      = security.ErrKindTooLong
	ErrInvalidQueueName = security.ErrInvalidQueueName
	ErrQueueNameTooLong = security.ErrQueueNameTooLong
	ErrPayloadTooLarge  = security.ErrPayloadTooLarge
	ErrUniqueKeyTooLong = security.ErrUniqueKeyTooLong
)

// Sentinel errors. Compare with errors.Is.
var (
	ErrJobNotOwned       = errors.New("jobflow: job not owned by this worker")
	ErrDuplicateJob      = errors.New("jobflow: duplicate job with same unique key")
	ErrUnknownKind       = errors.New("jobflow: no handler registered for kind")
	ErrEmptyResult       = errors.New("jobflow: handler returned an empty result")
	ErrAlreadySubscribed = errors.New("jobflow: processor already registered")
	ErrNoProcessor       = errors.New("jobflow: no processor registered")
)

// UnknownKindError reports a job whose kind has no registered handler.
// It matches ErrUnknownKind with errors.Is.
type UnknownKindError struct {
	JobID string
	Kind  string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("jobflow: no handler registered for kind %q (job %s)", e.Kind, e.JobID)
}

func (e *UnknownKindError) Is(target error) bool {
	return target == ErrUnknownKind
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
