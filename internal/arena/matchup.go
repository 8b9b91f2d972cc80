package arena

import (
	"time"

	"github.com/google/uuid"
)

type MatchupState string

const (
	MatchupNotStarted MatchupState = "not_started"
	MatchupStarted    MatchupState = "started"
	MatchupFinished   MatchupState = "finished"
	MatchupAborted    MatchupState = "aborted"
)

// Side identifies one of the two slots of a matchup.
type Side int

const (
	SideA Side = iota
	SideB
)

// Phase carries the state-dependent fields of a matchup. Exactly one
// payload type exists per state, so an inconsistent combination (say, a
// finish time on a matchup that never started) cannot be represented.
// The store translates phases to and from the nullable-column row format.
type Phase interface {
	State() MatchupState
}

type NotStarted struct{}

func (NotStarted) State() MatchupState { return MatchupNotStarted }

// Started holds the live-poll fields. VotesA/VotesB are the engine's
// incremental counts; the poll service's final tally wins at close time.
type Started struct {
	PollID    string
	MessageID int64
	VotesA    int
	VotesB    int
	StartedAt time.Time
}

func (Started) State() MatchupState { return MatchupStarted }

type Finished struct {
	PollID     string
	MessageID  int64
	VotesA     int
	VotesB     int
	StartedAt  time.Time
	FinishedAt time.Time
}

func (Finished) State() MatchupState { return MatchupFinished }

// Aborted keeps whatever live data existed when the tournament was
// aborted. Last is nil when the matchup never started.
type Aborted struct {
	Last *Started
}

func (Aborted) State() MatchupState { return MatchupAborted }

// Matchup is one pairing in a tournament bracket, keyed by
// (tournament, index). Index is zero-based and monotonic across the
// whole tournament; Round counts down to 1 at the final. AnimationB is
// nil for a bye, which resolves without a poll.
type Matchup struct {
	TournamentID uuid.UUID
	Index        int
	Round        int
	AnimationA   uuid.UUID
	AnimationB   *uuid.UUID
	DurationSecs int
	Phase        Phase
}

func (m *Matchup) State() MatchupState { return m.Phase.State() }

func (m *Matchup) IsBye() bool { return m.AnimationB == nil }

func (m *Matchup) Deadline() (time.Time, bool) {
	live, ok := m.Phase.(Started)
	if !ok {
		return time.Time{}, false
	}
	return live.StartedAt.Add(time.Duration(m.DurationSecs) * time.Second), true
}

// Winner returns the majority-tally winner of a finished matchup.
// A bye always resolves to the single real entrant.
func (m *Matchup) Winner() (uuid.UUID, error) {
	result, ok := m.Phase.(Finished)
	if !ok {
		return uuid.Nil, ErrMatchupNotFinished
	}
	if m.IsBye() {
		return m.AnimationA, nil
	}
	switch {
	case result.VotesA > result.VotesB:
		return m.AnimationA, nil
	case result.VotesB > result.VotesA:
		return *m.AnimationB, nil
	default:
		return uuid.Nil, ErrTieUnresolved
	}
}
