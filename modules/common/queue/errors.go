package queue

import "errors"

// JobError - classified handler failure. The harness decides requeue vs.
// terminal-fail on the Retryable flag instead of matching error strings.
type JobError struct {
	Err       error
	Retryable bool
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return "job failed"
	}
	return e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Fatal - wrap a validation-class error so the job fails without retry
func Fatal(err error) error {
	return &JobError{Err: err, Retryable: false}
}

// Retryable - wrap a transient error so the backoff policy applies
func Retryable(err error) error {
	return &JobError{Err: err, Retryable: true}
}

// IsFatal - unclassified errors default to retryable
func IsFatal(err error) bool {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return !jobErr.Retryable
	}
	return false
}
