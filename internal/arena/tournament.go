package arena

import (
	"time"

	"github.com/google/uuid"
)

type TournamentState string

const (
	TournamentSubmitting TournamentState = "submitting"
	TournamentVoting     TournamentState = "voting"
	TournamentFinished   TournamentState = "finished"
	TournamentAborted    TournamentState = "aborted"
)

// Tournament is a single-elimination bracket owned by one chat. Rounds and
// MinVotes are set when submissions close and stay nil while submitting.
type Tournament struct {
	ID         uuid.UUID       `db:"id"`
	ChatID     int64           `db:"chat_id"`
	State      TournamentState `db:"state"`
	Rounds     *int            `db:"rounds"`
	MinVotes   *int            `db:"min_votes"`
	ChampionID *uuid.UUID      `db:"champion_id"`
	CreatedAt  time.Time       `db:"created_at"`
}

func (t *Tournament) Active() bool {
	return t.State == TournamentSubmitting || t.State == TournamentVoting
}
