package store

import (
	"context"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

// CreateTournament inserts a tournament in the submitting state. The
// partial unique index on active tournaments makes the one-per-chat
// invariant hold even across concurrent engine instances.
func (s *TournamentStore) CreateTournament(ctx context.Context, tx *sqlx.Tx, tournament *arena.Tournament) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO tournaments (id, chat_id, state, rounds, min_votes, champion_id, created_at)
		VALUES (:id, :chat_id, :state, :rounds, :min_votes, :champion_id, :created_at)`,
		tournament)
	if isUniqueViolation(err) {
		return arena.ErrDuplicateActiveTournament
	}
	return err
}

func (s *TournamentStore) GetTournament(ctx context.Context, id uuid.UUID) (*arena.Tournament, error) {
	var tournament arena.Tournament
	err := s.db.GetContext(ctx, &tournament, "SELECT * FROM tournaments WHERE id = ?", id)
	return &tournament, err
}

func (s *TournamentStore) GetTournamentTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*arena.Tournament, error) {
	var tournament arena.Tournament
	err := tx.GetContext(ctx, &tournament, "SELECT * FROM tournaments WHERE id = ?", id)
	return &tournament, err
}

func (s *TournamentStore) GetActiveTournamentByChat(ctx context.Context, chatID int64) (*arena.Tournament, error) {
	var tournament arena.Tournament
	err := s.db.GetContext(ctx, &tournament,
		"SELECT * FROM tournaments WHERE chat_id = ? AND state IN ('submitting', 'voting')", chatID)
	return &tournament, err
}

// OpenVoting moves a submitting tournament into voting, fixing the bracket
// depth and the vote threshold. The state guard makes racing calls lose.
func (s *TournamentStore) OpenVoting(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, rounds, minVotes int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE tournaments SET state = 'voting', rounds = ?, min_votes = ? WHERE id = ? AND state = 'submitting'",
		rounds, minVotes, id)
	if err != nil {
		return err
	}
	return oneRowOr(res, arena.ErrWrongState)
}

func (s *TournamentStore) FinishTournament(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, championID uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE tournaments SET state = 'finished', champion_id = ? WHERE id = ? AND state = 'voting'",
		championID, id)
	if err != nil {
		return err
	}
	return oneRowOr(res, arena.ErrWrongState)
}

func (s *TournamentStore) AbortTournament(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE tournaments SET state = 'aborted' WHERE id = ? AND state IN ('submitting', 'voting')", id)
	if err != nil {
		return err
	}
	return oneRowOr(res, arena.ErrWrongState)
}

// StalledVotingTournaments lists voting tournaments with no started
// matchup but at least one pending, which happens when a poll fails to
// open after the bracket has committed.
func (s *TournamentStore) StalledVotingTournaments(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT t.id FROM tournaments t
		WHERE t.state = 'voting'
			AND NOT EXISTS (SELECT 1 FROM matchups m WHERE m.tournament_id = t.id AND m.state = 'started')
			AND EXISTS (SELECT 1 FROM matchups m WHERE m.tournament_id = t.id AND m.state = 'not_started')`)
	return ids, err
}

func (s *TournamentStore) CreateSubmission(ctx context.Context, tx *sqlx.Tx, submission *arena.Submission) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO submissions (tournament_id, animation_id, submitter_id, created_at)
		VALUES (:tournament_id, :animation_id, :submitter_id, :created_at)`,
		submission)
	if isUniqueViolation(err) {
		return arena.ErrDuplicateSubmission
	}
	return err
}

func (s *TournamentStore) DeleteSubmissions(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM submissions WHERE tournament_id = ?", tournamentID)
	return err
}

func (s *TournamentStore) Submissions(ctx context.Context, tournamentID uuid.UUID) ([]arena.Submission, error) {
	var submissions []arena.Submission
	err := s.db.SelectContext(ctx, &submissions,
		"SELECT * FROM submissions WHERE tournament_id = ? ORDER BY created_at ASC", tournamentID)
	return submissions, err
}

// HasCanonicalSubmissionTx reports whether the user already has a
// submission in this tournament that folds onto the given canonical
// animation, counting duplicate redirects.
func (s *TournamentStore) HasCanonicalSubmissionTx(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, submitterID int64, canonicalID uuid.UUID) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT count(*)
		FROM submissions s
		LEFT JOIN duplicates d ON d.duplicate_animation_id = s.animation_id
		WHERE s.tournament_id = ? AND s.submitter_id = ?
			AND COALESCE(d.primary_animation_id, s.animation_id) = ?`,
		tournamentID, submitterID, canonicalID)
	return count > 0, err
}

// CanonicalEntrants folds submissions onto their canonical animations and
// returns the distinct entrant set in a deterministic order. Seeding is
// the bracket builder's job; this order only keeps reruns reproducible.
func (s *TournamentStore) CanonicalEntrants(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) ([]uuid.UUID, error) {
	var entrants []uuid.UUID
	err := tx.SelectContext(ctx, &entrants, `
		SELECT COALESCE(d.primary_animation_id, s.animation_id) AS entrant_id
		FROM submissions s
		LEFT JOIN duplicates d ON d.duplicate_animation_id = s.animation_id
		WHERE s.tournament_id = ?
		GROUP BY entrant_id
		ORDER BY count(DISTINCT s.submitter_id) DESC, entrant_id ASC`,
		tournamentID)
	return entrants, err
}
