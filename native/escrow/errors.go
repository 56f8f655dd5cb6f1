package escrow

import "errors"

// Failure kinds surfaced by the escrow engine. Every transition either
// succeeds or fails with exactly one of these, leaving record and vault
// untouched. Callers match with errors.Is.
var (
	// ErrNotFound is returned when no escrow exists under the supplied id.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidAmount rejects a non-positive payment amount at creation.
	ErrInvalidAmount = errors.New("escrow: payment amount must be positive")
	// ErrInvalidState rejects an operation attempted from a state that does
	// not permit it, including replays of an already-applied transition.
	ErrInvalidState = errors.New("escrow: state does not permit operation")
	// ErrUnauthorized rejects a caller that does not hold the role the
	// operation requires.
	ErrUnauthorized = errors.New("escrow: caller not authorized")
	// ErrInvalidDeadline rejects a creation deadline that is not strictly in
	// the future.
	ErrInvalidDeadline = errors.New("escrow: deadline must be in the future")
	// ErrDescriptionTooLong rejects a job description above the size bound.
	ErrDescriptionTooLong = errors.New("escrow: description exceeds size bound")
	// ErrOverflow rejects amounts whose pooled sum would wrap 64-bit
	// arithmetic. Raised at creation, never during settlement.
	ErrOverflow = errors.New("escrow: amount arithmetic overflow")
	// ErrReviewPeriodActive rejects auto-approval before the review window
	// has elapsed.
	ErrReviewPeriodActive = errors.New("escrow: review period still active")
	// ErrReviewPeriodExpired rejects a dispute raised after the review
	// window has elapsed.
	ErrReviewPeriodExpired = errors.New("escrow: review period elapsed")
)
