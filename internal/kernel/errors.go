package kernel

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors, mirroring the predefined-error-values block in
// internal/core/errors.go but scoped to the iteration kernel's own
// failure modes.
var (
	ErrNotFound        = errors.New("not found")
	ErrToolUnavailable = errors.New("tool unavailable")
	ErrTimeout         = errors.New("operation timed out")
	ErrLockHeld        = errors.New("another driver holds the lock")
	ErrGatePending     = errors.New("risk gate pending human approval")
	ErrPaused          = errors.New("driver is paused")
	ErrDuplicateRecord = errors.New("iteration record already exists")
)

// StageError wraps a failure from a dispatched pipeline stage, carrying
// enough context for the fallback wrapper to classify and log it.
type StageError struct {
	Step      string
	Cause     error
	Timestamp time.Time
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Step, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// NewStageError builds a StageError with a timestamp, mirroring
// core.NewPhaseError's constructor shape.
func NewStageError(step string, cause error) *StageError {
	return &StageError{Step: step, Cause: cause, Timestamp: time.Now()}
}

// ProtectedPathError reports that a protected path was touched during an
// iteration; it is always a CRITICAL, rollback-triggering failure.
type ProtectedPathError struct {
	Path   string
	Reason string // "deleted", "modified", "appeared unexpectedly"
}

func (e *ProtectedPathError) Error() string {
	return fmt.Sprintf("protected path %s was %s", e.Path, e.Reason)
}

// RetryableError marks an error as safe for the fallback/quota wrappers
// to retry, carrying the delay the caller should honor before retrying.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (retry after %v): %v", e.RetryAfter, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable classifies whether err should be retried rather than
// treated as terminal, mirroring core.IsRetryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrToolUnavailable)
}

// IsProtectedViolation reports whether err represents a protected-path
// tamper, which is always a loud, rollback-triggering failure.
func IsProtectedViolation(err error) bool {
	var ppe *ProtectedPathError
	return errors.As(err, &ppe)
}

// ClassifyError maps an arbitrary error onto the coarse classification
// the health monitor records for a fallback event: "unavailable" when err
// wraps ErrToolUnavailable, "runtime" for any other error. (The dispatch
// table records an unbound implementation as "unavailable" itself,
// without calling this.)
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrToolUnavailable) {
		return "unavailable"
	}
	return "runtime"
}
