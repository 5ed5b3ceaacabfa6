package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration signals missing credentials, endpoints or invalid settings. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrEmptyInput signals a blank or whitespace-only document.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidCriteria signals a criteria set that violates weight or key constraints.
	ErrInvalidCriteria = errors.New("invalid criteria")
	// ErrTransientProvider signals a timeout, rate limit or network failure worth retrying.
	ErrTransientProvider = errors.New("transient provider error")
	// ErrTerminalProvider signals a provider failure that will not be retried.
	ErrTerminalProvider = errors.New("terminal provider error")
	// ErrMalformedResponse signals generated output that is not repairable JSON.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrDimensionMismatch signals a provider vector of unexpected length.
	// Always recovered by normalization, only used for log context.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// JobError is a terminal failure with enough context for the caller to log and decide on a retry.
type JobError struct {
	JobID    string
	Key      string
	Attempts int
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s (attempts=%d): %v", e.JobID, e.Key, e.Attempts, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// AttemptsError records how many provider attempts were made before Err was returned.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// AttemptsOf returns the attempt count recorded in err, or 0 when none was recorded.
func AttemptsOf(err error) int {
	var ae *AttemptsError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}

// NewJobError wraps err with job context. The attempt count is taken from err when present.
func NewJobError(jobID, key string, err error) error {
	return &JobError{JobID: jobID, Key: key, Attempts: AttemptsOf(err), Err: err}
}
