package ledger

import "errors"

// Shared error taxonomy for the core engines. Callers classify with
// errors.Is; the boundary layer maps these onto user-facing replies.
var (
	// ErrValidation marks malformed input: out-of-range digits,
	// non-positive multipliers, bad stage indices.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds is returned when a debit would require a
	// balance the actor does not have.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidParticipant covers self-duels, un-initiated actors and
	// pairs that already have an unfinished duel.
	ErrInvalidParticipant = errors.New("invalid participant")

	// ErrWrongTurn is returned for a duel action by the side whose turn
	// it is not.
	ErrWrongTurn = errors.New("not your turn")

	// ErrAlreadyResolved is returned for operations on a finished duel
	// or a lottery round that is not open.
	ErrAlreadyResolved = errors.New("already resolved")

	// ErrTransientFailure is surfaced after the bounded retry budget is
	// exhausted. Safe to show the caller as "try again".
	ErrTransientFailure = errors.New("transient storage failure")

	// ErrAdmissionDenied is returned when a rate or concurrency ceiling
	// is reached.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrNotFound is returned for unknown actors, duels or rounds.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores when an optimistic write lost
	// the race. The retry policy treats it as retryable; it never
	// escapes the ledger unwrapped.
	ErrConflict = errors.New("write conflict")
)
