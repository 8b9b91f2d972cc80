package arena

import "errors"

// Validation errors: the caller sent something malformed and must correct it.
var (
	ErrSelfDuplicate        = errors.New("animation cannot be a duplicate of itself")
	ErrInsufficientEntrants = errors.New("at least two distinct entrants required")
	ErrEmptyDescription     = errors.New("description must not be empty")
)

// Conflict errors: a concurrent operation won the race; retry may succeed
// once conditions clear.
var (
	ErrDuplicateActiveTournament = errors.New("chat already has an active tournament")
	ErrActiveMatchupExists       = errors.New("tournament already has a started matchup")
	ErrDuplicateSubmission       = errors.New("animation already submitted by this user")
	ErrConflictingCanonical      = errors.New("animation already has a canonical primary")
	ErrWrongState                = errors.New("operation not permitted in current state")
)

// Domain errors: surfaced to the tournament controller for policy
// resolution, never dropped.
var (
	ErrTieUnresolved      = errors.New("matchup votes are equal")
	ErrMatchupClosed      = errors.New("matchup is no longer accepting votes")
	ErrMatchupNotFinished = errors.New("matchup has no result yet")
	ErrNegativeTally      = errors.New("vote tally would become negative")
)

// ErrDataIntegrity wraps stored rows that violate the per-state
// attribute-presence contract.
var ErrDataIntegrity = errors.New("data integrity error")
