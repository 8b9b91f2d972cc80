package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MatchupScheduler drives single matchups through their lifecycle:
// not_started -> started -> finished, with abort as the tournament-level
// escape hatch. All transitions are guarded store updates, so concurrent
// schedulers cannot double-start or double-finish a matchup.
type MatchupScheduler struct {
	db          *sqlx.DB
	matchups    *store.MatchupStore
	tournaments *store.TournamentStore
	animations  *store.AnimationStore
	poller      Poller
	now         func() time.Time
}

func NewMatchupScheduler(db *sqlx.DB, matchups *store.MatchupStore, tournaments *store.TournamentStore, animations *store.AnimationStore, poller Poller) *MatchupScheduler {
	return &MatchupScheduler{
		db:          db,
		matchups:    matchups,
		tournaments: tournaments,
		animations:  animations,
		poller:      poller,
		now:         time.Now,
	}
}

// Start opens a poll for a pending matchup. The one-active-matchup
// invariant is enforced by the store, not here: a racing start loses with
// ErrActiveMatchupExists.
func (s *MatchupScheduler) Start(ctx context.Context, tournamentID uuid.UUID, index int) (*arena.Matchup, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tournament, err := s.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("get tournament: %w", err)
	}
	matchup, err := s.matchups.GetMatchupTx(ctx, tx, tournamentID, index)
	if err != nil {
		return nil, fmt.Errorf("get matchup: %w", err)
	}
	if matchup.State() != arena.MatchupNotStarted {
		return nil, arena.ErrWrongState
	}

	// Check before opening the poll so a racing start does not publish a
	// poll it immediately has to retract. The unique index still backstops
	// the race window.
	active, err := s.matchups.StartedMatchupTx(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("check started matchup: %w", err)
	}
	if active != nil {
		return nil, arena.ErrActiveMatchupExists
	}

	contenderA, err := s.animations.GetAnimationTx(ctx, tx, matchup.AnimationA)
	if err != nil {
		return nil, fmt.Errorf("get contender: %w", err)
	}
	contenderB, err := s.animations.GetAnimationTx(ctx, tx, *matchup.AnimationB)
	if err != nil {
		return nil, fmt.Errorf("get contender: %w", err)
	}

	pollID, messageID, err := s.poller.OpenPoll(ctx, PollRequest{
		ChatID:       tournament.ChatID,
		MatchupIndex: matchup.Index,
		Round:        matchup.Round,
		DurationSecs: matchup.DurationSecs,
		FileA:        contenderA.FileIdentifier,
		FileB:        contenderB.FileIdentifier,
	})
	if err != nil {
		return nil, fmt.Errorf("open poll: %w", err)
	}

	live := arena.Started{
		PollID:    pollID,
		MessageID: messageID,
		StartedAt: s.now(),
	}
	if err := s.matchups.StartMatchup(ctx, tx, tournamentID, index, live); err != nil {
		// The poll is already public; stop it rather than leave an
		// orphan collecting votes for a matchup that never started.
		if _, _, closeErr := s.poller.ClosePoll(ctx, tournament.ChatID, messageID); closeErr != nil {
			slog.Warn("failed to close orphaned poll", "poll_id", pollID, "error", closeErr)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	matchup.Phase = live
	return matchup, nil
}

// RecordVote applies a tally increment. Increments commute, so vote
// ordering between concurrent voters does not matter; only the final
// counts do. Votes landing after close are rejected with
// ErrMatchupClosed, never queued.
func (s *MatchupScheduler) RecordVote(ctx context.Context, tournamentID uuid.UUID, index int, side arena.Side, delta int) error {
	rows, err := s.matchups.AddVote(ctx, tournamentID, index, side, delta)
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	matchup, err := s.matchups.GetMatchup(ctx, tournamentID, index)
	if err != nil {
		return err
	}
	switch matchup.State() {
	case arena.MatchupStarted:
		return arena.ErrNegativeTally
	case arena.MatchupNotStarted:
		return arena.ErrWrongState
	default:
		return arena.ErrMatchupClosed
	}
}

// SyncTallies reconciles the engine's counts with an absolute poll update.
func (s *MatchupScheduler) SyncTallies(ctx context.Context, pollID string, votesA, votesB int) error {
	if votesA < 0 || votesB < 0 {
		return arena.ErrNegativeTally
	}
	rows, err := s.matchups.SyncTallies(ctx, pollID, votesA, votesB)
	if err != nil {
		return err
	}
	if rows == 0 {
		return arena.ErrMatchupClosed
	}
	return nil
}

// Close stops the poll and finishes the matchup. Closing an already
// finished matchup returns the existing result, so duplicate timer fires
// and a timer racing an explicit close are both harmless. Equal final
// tallies leave the matchup started and surface ErrTieUnresolved for the
// controller's tiebreak policy.
func (s *MatchupScheduler) Close(ctx context.Context, tournamentID uuid.UUID, index int) (*arena.Matchup, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	matchup, err := s.matchups.GetMatchupTx(ctx, tx, tournamentID, index)
	if err != nil {
		return nil, fmt.Errorf("get matchup: %w", err)
	}

	live, ok := matchup.Phase.(arena.Started)
	if !ok {
		if matchup.State() == arena.MatchupFinished {
			return matchup, nil
		}
		return nil, arena.ErrWrongState
	}

	tournament, err := s.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("get tournament: %w", err)
	}

	votesA, votesB, err := s.poller.ClosePoll(ctx, tournament.ChatID, live.MessageID)
	if err != nil {
		return nil, fmt.Errorf("close poll: %w", err)
	}

	if votesA == votesB {
		// Keep the authoritative counts so the tiebreak builds on them.
		if err := s.matchups.SetTalliesTx(ctx, tx, tournamentID, index, votesA, votesB); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		live.VotesA = votesA
		live.VotesB = votesB
		matchup.Phase = live
		return matchup, arena.ErrTieUnresolved
	}

	finishedAt := s.now()
	if err := s.matchups.FinishMatchup(ctx, tx, tournamentID, index, votesA, votesB, finishedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	matchup.Phase = arena.Finished{
		PollID:     live.PollID,
		MessageID:  live.MessageID,
		VotesA:     votesA,
		VotesB:     votesB,
		StartedAt:  live.StartedAt,
		FinishedAt: finishedAt,
	}
	return matchup, nil
}

// ForceClose finishes a tied matchup by crediting one deciding vote to the
// given side. The poll is already closed by the time this runs.
func (s *MatchupScheduler) ForceClose(ctx context.Context, tournamentID uuid.UUID, index int, winner arena.Side) (*arena.Matchup, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	matchup, err := s.matchups.GetMatchupTx(ctx, tx, tournamentID, index)
	if err != nil {
		return nil, fmt.Errorf("get matchup: %w", err)
	}
	live, ok := matchup.Phase.(arena.Started)
	if !ok {
		if matchup.State() == arena.MatchupFinished {
			return matchup, nil
		}
		return nil, arena.ErrWrongState
	}

	votesA, votesB := live.VotesA, live.VotesB
	if winner == arena.SideA {
		votesA++
	} else {
		votesB++
	}

	finishedAt := s.now()
	if err := s.matchups.FinishMatchup(ctx, tx, tournamentID, index, votesA, votesB, finishedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	matchup.Phase = arena.Finished{
		PollID:     live.PollID,
		MessageID:  live.MessageID,
		VotesA:     votesA,
		VotesB:     votesB,
		StartedAt:  live.StartedAt,
		FinishedAt: finishedAt,
	}
	return matchup, nil
}

// DueMatchups lists started matchups whose deadline has passed and whose
// vote total meets the tournament threshold. Polls below the threshold
// stay open past their deadline until enough votes arrive or someone
// closes them explicitly.
func (s *MatchupScheduler) DueMatchups(ctx context.Context) ([]store.StartedMatchup, error) {
	started, err := s.matchups.StartedMatchups(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	due := make([]store.StartedMatchup, 0, len(started))
	for _, sm := range started {
		deadline, ok := sm.Matchup.Deadline()
		if !ok || deadline.After(now) {
			continue
		}
		live := sm.Matchup.Phase.(arena.Started)
		if live.VotesA+live.VotesB < sm.MinVotes {
			continue
		}
		due = append(due, sm)
	}
	return due, nil
}
