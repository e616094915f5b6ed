package provider

import (
	"context"
	"errors"
	"fmt"
)

// RecoverableError marks a failure that degrades a single turn without
// aborting the session: timeouts, rate limits, transient backend errors,
// malformed output.
type RecoverableError struct {
	Reason string
	Err    error
}

func (e *RecoverableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recoverable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("recoverable: %s", e.Reason)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// FatalError marks a failure after which no call in the session can
// succeed: invalid credentials, broken configuration. The session aborts.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Recoverable wraps err as a recoverable provider error.
func Recoverable(reason string, err error) error {
	return &RecoverableError{Reason: reason, Err: err}
}

// Fatal wraps err as a fatal provider error.
func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsFatal reports whether err is (or wraps) a fatal provider error.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRecoverable reports whether err should degrade the turn rather than
// abort the session. Context deadline expiry counts as recoverable.
func IsRecoverable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var re *RecoverableError
	return errors.As(err, &re)
}
