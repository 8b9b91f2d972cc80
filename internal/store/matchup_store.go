package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type MatchupStore struct {
	db *sqlx.DB
}

func NewMatchupStore(db *sqlx.DB) *MatchupStore {
	return &MatchupStore{db: db}
}

// matchupRow is the relational shape of a matchup: one nullable column per
// transient field, constrained by the per-state CHECK in the schema. The
// domain type replaces this with a tagged phase; translation happens here
// and nowhere else.
type matchupRow struct {
	TournamentID uuid.UUID          `db:"tournament_id"`
	Index        int                `db:"idx"`
	Round        int                `db:"round"`
	AnimationA   uuid.UUID          `db:"animation_a_id"`
	AnimationB   *uuid.UUID         `db:"animation_b_id"`
	State        arena.MatchupState `db:"state"`
	PollID       *string            `db:"poll_id"`
	MessageID    *int64             `db:"message_id"`
	VotesA       *int               `db:"votes_a"`
	VotesB       *int               `db:"votes_b"`
	DurationSecs int                `db:"duration_secs"`
	StartedAt    *time.Time         `db:"started_at"`
	FinishedAt   *time.Time         `db:"finished_at"`
}

func (r *matchupRow) live() (*arena.Started, error) {
	if r.PollID == nil || r.MessageID == nil || r.VotesA == nil || r.VotesB == nil || r.StartedAt == nil {
		return nil, fmt.Errorf("%w: %s matchup %d missing live fields", arena.ErrDataIntegrity, r.State, r.Index)
	}
	return &arena.Started{
		PollID:    *r.PollID,
		MessageID: *r.MessageID,
		VotesA:    *r.VotesA,
		VotesB:    *r.VotesB,
		StartedAt: *r.StartedAt,
	}, nil
}

func (r *matchupRow) toMatchup() (*arena.Matchup, error) {
	var phase arena.Phase
	switch r.State {
	case arena.MatchupNotStarted:
		if r.PollID != nil || r.MessageID != nil || r.VotesA != nil || r.VotesB != nil || r.StartedAt != nil || r.FinishedAt != nil {
			return nil, fmt.Errorf("%w: not_started matchup %d has transient fields", arena.ErrDataIntegrity, r.Index)
		}
		phase = arena.NotStarted{}
	case arena.MatchupStarted:
		live, err := r.live()
		if err != nil {
			return nil, err
		}
		if r.FinishedAt != nil {
			return nil, fmt.Errorf("%w: started matchup %d has finish time", arena.ErrDataIntegrity, r.Index)
		}
		phase = *live
	case arena.MatchupFinished:
		if r.VotesA == nil || r.VotesB == nil || r.StartedAt == nil || r.FinishedAt == nil {
			return nil, fmt.Errorf("%w: finished matchup %d missing result fields", arena.ErrDataIntegrity, r.Index)
		}
		if r.AnimationB != nil && (r.PollID == nil || r.MessageID == nil) {
			return nil, fmt.Errorf("%w: finished matchup %d missing poll fields", arena.ErrDataIntegrity, r.Index)
		}
		phase = arena.Finished{
			PollID:     utils.OrZero(r.PollID),
			MessageID:  utils.OrZero(r.MessageID),
			VotesA:     *r.VotesA,
			VotesB:     *r.VotesB,
			StartedAt:  *r.StartedAt,
			FinishedAt: *r.FinishedAt,
		}
	case arena.MatchupAborted:
		if r.StartedAt != nil {
			live, err := r.live()
			if err != nil {
				return nil, err
			}
			phase = arena.Aborted{Last: live}
		} else {
			phase = arena.Aborted{}
		}
	default:
		return nil, fmt.Errorf("%w: unknown matchup state %q", arena.ErrDataIntegrity, r.State)
	}

	return &arena.Matchup{
		TournamentID: r.TournamentID,
		Index:        r.Index,
		Round:        r.Round,
		AnimationA:   r.AnimationA,
		AnimationB:   r.AnimationB,
		DurationSecs: r.DurationSecs,
		Phase:        phase,
	}, nil
}

func fromMatchup(m *arena.Matchup) matchupRow {
	row := matchupRow{
		TournamentID: m.TournamentID,
		Index:        m.Index,
		Round:        m.Round,
		AnimationA:   m.AnimationA,
		AnimationB:   m.AnimationB,
		State:        m.State(),
		DurationSecs: m.DurationSecs,
	}
	switch phase := m.Phase.(type) {
	case arena.Started:
		row.PollID = &phase.PollID
		row.MessageID = &phase.MessageID
		row.VotesA = &phase.VotesA
		row.VotesB = &phase.VotesB
		row.StartedAt = &phase.StartedAt
	case arena.Finished:
		row.PollID = utils.StringOrNil(phase.PollID)
		if phase.MessageID != 0 {
			row.MessageID = &phase.MessageID
		}
		row.VotesA = &phase.VotesA
		row.VotesB = &phase.VotesB
		row.StartedAt = &phase.StartedAt
		row.FinishedAt = &phase.FinishedAt
	case arena.Aborted:
		if phase.Last != nil {
			row.PollID = &phase.Last.PollID
			row.MessageID = &phase.Last.MessageID
			row.VotesA = &phase.Last.VotesA
			row.VotesB = &phase.Last.VotesB
			row.StartedAt = &phase.Last.StartedAt
		}
	}
	return row
}

const insertMatchupQuery = `
	INSERT INTO matchups (tournament_id, idx, round, animation_a_id, animation_b_id, state,
		poll_id, message_id, votes_a, votes_b, duration_secs, started_at, finished_at)
	VALUES (:tournament_id, :idx, :round, :animation_a_id, :animation_b_id, :state,
		:poll_id, :message_id, :votes_a, :votes_b, :duration_secs, :started_at, :finished_at)
`

func (s *MatchupStore) CreateMatchups(ctx context.Context, tx *sqlx.Tx, matchups []*arena.Matchup) error {
	if len(matchups) == 0 {
		return nil
	}
	rows := make([]matchupRow, 0, len(matchups))
	for _, m := range matchups {
		rows = append(rows, fromMatchup(m))
	}
	_, err := tx.NamedExecContext(ctx, insertMatchupQuery, rows)
	return err
}

func (s *MatchupStore) GetMatchup(ctx context.Context, tournamentID uuid.UUID, index int) (*arena.Matchup, error) {
	var row matchupRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM matchups WHERE tournament_id = ? AND idx = ?", tournamentID, index)
	if err != nil {
		return nil, err
	}
	return row.toMatchup()
}

func (s *MatchupStore) GetMatchupTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, index int) (*arena.Matchup, error) {
	var row matchupRow
	err := tx.GetContext(ctx, &row,
		"SELECT * FROM matchups WHERE tournament_id = ? AND idx = ?", tournamentID, index)
	if err != nil {
		return nil, err
	}
	return row.toMatchup()
}

func (s *MatchupStore) Matchups(ctx context.Context, tournamentID uuid.UUID) ([]*arena.Matchup, error) {
	var rows []matchupRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM matchups WHERE tournament_id = ? ORDER BY idx ASC", tournamentID)
	if err != nil {
		return nil, err
	}
	return rowsToMatchups(rows)
}

func (s *MatchupStore) RoundMatchupsTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, round int) ([]*arena.Matchup, error) {
	var rows []matchupRow
	err := tx.SelectContext(ctx, &rows,
		"SELECT * FROM matchups WHERE tournament_id = ? AND round = ? ORDER BY idx ASC", tournamentID, round)
	if err != nil {
		return nil, err
	}
	return rowsToMatchups(rows)
}

// NextNotStarted returns the lowest-index pending matchup, or nil when
// the bracket has none left.
func (s *MatchupStore) NextNotStarted(ctx context.Context, tournamentID uuid.UUID) (*arena.Matchup, error) {
	var row matchupRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM matchups WHERE tournament_id = ? AND state = 'not_started' ORDER BY idx ASC LIMIT 1",
		tournamentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toMatchup()
}

// LatestRoundTx returns the most recently built round. Rounds count down
// to 1 at the final, so the latest round is the minimum on file.
func (s *MatchupStore) LatestRoundTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) (int, error) {
	var round int
	err := tx.GetContext(ctx, &round,
		"SELECT MIN(round) FROM matchups WHERE tournament_id = ?", tournamentID)
	return round, err
}

// NextIndexTx returns the index the next created matchup should take,
// keeping indexes monotonic across the whole tournament.
func (s *MatchupStore) NextIndexTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) (int, error) {
	var next int
	err := tx.GetContext(ctx, &next,
		"SELECT COALESCE(MAX(idx) + 1, 0) FROM matchups WHERE tournament_id = ?", tournamentID)
	return next, err
}

func (s *MatchupStore) StartedMatchupTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) (*arena.Matchup, error) {
	var row matchupRow
	err := tx.GetContext(ctx, &row,
		"SELECT * FROM matchups WHERE tournament_id = ? AND state = 'started'", tournamentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toMatchup()
}

// StartMatchup transitions not_started -> started atomically. The state
// guard rejects double starts of the same matchup; the partial unique
// index rejects a second started matchup anywhere in the tournament.
func (s *MatchupStore) StartMatchup(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, index int, live arena.Started) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE matchups
		SET state = 'started', poll_id = ?, message_id = ?, votes_a = ?, votes_b = ?, started_at = ?
		WHERE tournament_id = ? AND idx = ? AND state = 'not_started'`,
		live.PollID, live.MessageID, live.VotesA, live.VotesB, live.StartedAt,
		tournamentID, index)
	if isUniqueViolation(err) {
		return arena.ErrActiveMatchupExists
	}
	if err != nil {
		return err
	}
	return oneRowOr(res, arena.ErrWrongState)
}

// AddVote applies a commutative tally increment while the matchup is live.
// Returns the number of rows changed; zero means the matchup was not
// started or the tally would have gone negative.
func (s *MatchupStore) AddVote(ctx context.Context, tournamentID uuid.UUID, index int, side arena.Side, delta int) (int64, error) {
	column := "votes_a"
	if side == arena.SideB {
		column = "votes_b"
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE matchups SET %[1]s = %[1]s + ?
		WHERE tournament_id = ? AND idx = ? AND state = 'started' AND %[1]s + ? >= 0`, column),
		delta, tournamentID, index, delta)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SyncTallies overwrites both tallies from an absolute poll update. Closed
// matchups are left alone: the happens-before cutoff lives in the state
// guard.
func (s *MatchupStore) SyncTallies(ctx context.Context, pollID string, votesA, votesB int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE matchups SET votes_a = ?, votes_b = ? WHERE poll_id = ? AND state = 'started'",
		votesA, votesB, pollID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetTalliesTx pins the authoritative tallies from a closed poll while a
// close is in flight.
func (s *MatchupStore) SetTalliesTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, index int, votesA, votesB int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE matchups SET votes_a = ?, votes_b = ? WHERE tournament_id = ? AND idx = ? AND state = 'started'",
		votesA, votesB, tournamentID, index)
	if err != nil {
		return err
	}
	return oneRowOr(res, arena.ErrWrongState)
}

// FinishMatchup transitions started -> finished, recording the
// authoritative tallies and the finish time.
func (s *MatchupStore) FinishMatchup(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, index int, votesA, votesB int, finishedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE matchups SET state = 'finished', votes_a = ?, votes_b = ?, finished_at = ?
		WHERE tournament_id = ? AND idx = ? AND state = 'started'`,
		votesA, votesB, finishedAt, tournamentID, index)
	if err != nil {
		return err
	}
	return oneRowOr(res, arena.ErrWrongState)
}

// AbortMatchups cascades a tournament abort onto every matchup that has
// not finished. Finished results are left untouched.
func (s *MatchupStore) AbortMatchups(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE matchups SET state = 'aborted' WHERE tournament_id = ? AND state IN ('not_started', 'started')",
		tournamentID)
	return err
}

// StartedMatchup pairs a live matchup with the chat and vote threshold of
// its tournament, for the deadline sweep.
type StartedMatchup struct {
	Matchup  *arena.Matchup
	ChatID   int64
	MinVotes int
}

func (s *MatchupStore) StartedMatchups(ctx context.Context) ([]StartedMatchup, error) {
	type startedRow struct {
		matchupRow
		ChatID   int64 `db:"chat_id"`
		MinVotes int   `db:"min_votes"`
	}
	var rows []startedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT m.*, t.chat_id, t.min_votes
		FROM matchups m
		JOIN tournaments t ON t.id = m.tournament_id
		WHERE m.state = 'started'
		ORDER BY m.tournament_id, m.idx`)
	if err != nil {
		return nil, err
	}
	started := make([]StartedMatchup, 0, len(rows))
	for i := range rows {
		matchup, err := rows[i].toMatchup()
		if err != nil {
			return nil, err
		}
		started = append(started, StartedMatchup{
			Matchup:  matchup,
			ChatID:   rows[i].ChatID,
			MinVotes: rows[i].MinVotes,
		})
	}
	return started, nil
}

func rowsToMatchups(rows []matchupRow) ([]*arena.Matchup, error) {
	matchups := make([]*arena.Matchup, 0, len(rows))
	for i := range rows {
		matchup, err := rows[i].toMatchup()
		if err != nil {
			return nil, err
		}
		matchups = append(matchups, matchup)
	}
	return matchups, nil
}
