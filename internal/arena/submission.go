package arena

import (
	"time"

	"github.com/google/uuid"
)

// Submission links a user's entry to a tournament. The ternary key lets
// distinct users submit the same animation, but each user only once per
// tournament. Rows are immutable and removed only by an abort cascade.
type Submission struct {
	TournamentID uuid.UUID `db:"tournament_id"`
	AnimationID  uuid.UUID `db:"animation_id"`
	SubmitterID  int64     `db:"submitter_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// CanonicalDuplicate is a directed edge from a canonical primary to an
// animation merged into it. An animation has at most one primary.
type CanonicalDuplicate struct {
	DuplicateID uuid.UUID `db:"duplicate_animation_id"`
	PrimaryID   uuid.UUID `db:"primary_animation_id"`
}

// SuggestedDuplicate is a symmetric flag-for-review pair recorded when two
// different submitters enter near-identical animations before the
// submission phase closes. Stored as an ordered unique pair (A < B).
type SuggestedDuplicate struct {
	AnimationA uuid.UUID `db:"animation_a_id"`
	AnimationB uuid.UUID `db:"animation_b_id"`
}
