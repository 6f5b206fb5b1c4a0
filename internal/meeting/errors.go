package meeting

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a meeting or speaker mapping does not exist.
var ErrNotFound = errors.New("not found")

// TransientError marks a provider failure that is worth retrying: network
// errors, timeouts, rate limits, 5xx responses. Retry logic lives inside the
// adapter boundary; once retries exhaust, the error crosses into the
// orchestrator as a terminal stage failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PermanentInputError marks input the pipeline can never process:
// undecodable audio, text past the provider input ceiling. It is not
// retried and surfaces as status=failed with its message.
type PermanentInputError struct {
	Msg string
}

func (e *PermanentInputError) Error() string { return e.Msg }

// PermanentInput builds a PermanentInputError.
func PermanentInput(format string, args ...any) error {
	return &PermanentInputError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a re-trigger is requested for a meeting
// whose pipeline is still running. The request is rejected, never queued.
type ConflictError struct {
	Status Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("meeting is busy (status %s)", e.Status)
}
