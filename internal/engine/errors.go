package engine

import (
	"errors"
	"fmt"
)

// ReconcileError represents an error detected while reconciling a payload.
//
// Reconcile errors fall into three categories:
//   - Referential: the payload names a discussion or message that does not
//     exist. Dropped and logged at debug.
//   - Invariant violation: the arena would be left inconsistent. The
//     transaction is rolled back and the error is returned.
//   - Policy rejection: the payload was not authorized upstream. Dropped.
type ReconcileError struct {
	// Code identifies the error category.
	Code ReconcileErrorCode

	// Message is a human-readable description.
	Message string

	// DiscussionID identifies the affected discussion, if known.
	DiscussionID int64

	// Details contains additional context.
	Details map[string]string
}

// ReconcileErrorCode categorizes reconcile errors.
type ReconcileErrorCode string

const (
	// ErrCodeReferential indicates a dangling reference.
	ErrCodeReferential ReconcileErrorCode = "REFERENTIAL"

	// ErrCodeInvariantViolation indicates the step would break an arena
	// invariant.
	ErrCodeInvariantViolation ReconcileErrorCode = "INVARIANT_VIOLATION"

	// ErrCodePolicyRejected indicates an unauthorized request.
	ErrCodePolicyRejected ReconcileErrorCode = "POLICY_REJECTED"
)

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	if e.DiscussionID != 0 {
		return fmt.Sprintf("%s: %s (discussion=%d)", e.Code, e.Message, e.DiscussionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ReconcileErrorCode) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsReferential returns true if the error is a dangling reference.
// Uses errors.As to handle wrapped errors.
func IsReferential(err error) bool {
	return hasCode(err, ErrCodeReferential)
}

// IsInvariantViolation returns true if the error is an invariant violation.
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariantViolation)
}

// IsPolicyRejection returns true if the error is a policy rejection.
func IsPolicyRejection(err error) bool {
	return hasCode(err, ErrCodePolicyRejected)
}

// isDropped reports whether err is silently dropped rather than returned.
func isDropped(err error) bool {
	return IsReferential(err) || IsPolicyRejection(err)
}

// NewReferentialError creates a ReconcileError for a dangling reference.
func NewReferentialError(discussionID int64, format string, args ...any) *ReconcileError {
	return &ReconcileError{
		Code:         ErrCodeReferential,
		Message:      fmt.Sprintf(format, args...),
		DiscussionID: discussionID,
	}
}

// NewInvariantError creates a ReconcileError for an invariant violation.
func NewInvariantError(discussionID int64, format string, args ...any) *ReconcileError {
	return &ReconcileError{
		Code:         ErrCodeInvariantViolation,
		Message:      fmt.Sprintf(format, args...),
		DiscussionID: discussionID,
	}
}

// NewPolicyError creates a ReconcileError for an unauthorized request.
func NewPolicyError(discussionID int64, requester string, format string, args ...any) *ReconcileError {
	return &ReconcileError{
		Code:         ErrCodePolicyRejected,
		Message:      fmt.Sprintf(format, args...),
		DiscussionID: discussionID,
		Details: map[string]string{
			"requester": requester,
		},
	}
}
