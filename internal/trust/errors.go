package trust

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	// ErrPolicyNotFound means no threshold row applies to a transition, not
	// even a platform default. It is not a failure: the transition is
	// permanently blocked and the promotion engine skips the key.
	ErrPolicyNotFound = errors.New("no applicable threshold policy")

	// ErrAggregateNotFound means no signal has ever been recorded for a key.
	ErrAggregateNotFound = errors.New("confidence aggregate not found")

	// ErrContention means a write kept hitting lock/busy contention past the
	// retry budget. Callers may retry the whole operation.
	ErrContention = errors.New("persistent lock contention")
)

// ValidationError rejects a malformed input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConsistencyError means a recompute produced an aggregate violating its own
// invariants (negative count, count/total mismatch, score outside [0,1]).
// Fatal for the enclosing transaction: a corrupted aggregate must never be
// persisted, so the signal write that triggered the recompute is rolled back.
type ConsistencyError struct {
	Invariant string
	Detail    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("aggregate consistency violated (%s): %s", e.Invariant, e.Detail)
}

// NewConsistencyError builds a ConsistencyError for one invariant.
func NewConsistencyError(invariant, format string, args ...interface{}) *ConsistencyError {
	return &ConsistencyError{Invariant: invariant, Detail: fmt.Sprintf(format, args...)}
}

// IsConsistency reports whether err is (or wraps) a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
