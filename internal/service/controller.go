package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TournamentController owns the tournament state machine and is the only
// component allowed to mutate tournament state. It coordinates the
// duplicate resolver, the bracket builder, and the matchup scheduler.
type TournamentController struct {
	db          *sqlx.DB
	chats       *store.ChatStore
	tournaments *store.TournamentStore
	matchups    *store.MatchupStore
	resolver    *DuplicateResolver
	builder     *BracketBuilder
	scheduler   *MatchupScheduler
	poller      Poller
	minVotes    int
	now         func() time.Time
}

func NewTournamentController(
	db *sqlx.DB,
	chats *store.ChatStore,
	tournaments *store.TournamentStore,
	matchups *store.MatchupStore,
	resolver *DuplicateResolver,
	builder *BracketBuilder,
	scheduler *MatchupScheduler,
	poller Poller,
	minVotes int,
) *TournamentController {
	return &TournamentController{
		db:          db,
		chats:       chats,
		tournaments: tournaments,
		matchups:    matchups,
		resolver:    resolver,
		builder:     builder,
		scheduler:   scheduler,
		poller:      poller,
		minVotes:    minVotes,
		now:         time.Now,
	}
}

// Open creates a tournament in the submitting state for a chat. The store
// rejects a second active tournament in the same chat.
func (c *TournamentController) Open(ctx context.Context, chat *arena.Chat) (*arena.Tournament, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := c.chats.UpsertChat(ctx, tx, chat); err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}

	tournament := &arena.Tournament{
		ID:        uuid.New(),
		ChatID:    chat.ID,
		State:     arena.TournamentSubmitting,
		CreatedAt: c.now(),
	}
	if err := c.tournaments.CreateTournament(ctx, tx, tournament); err != nil {
		return nil, err
	}
	return tournament, tx.Commit()
}

// Submit routes a submission through the duplicate resolver and records
// it. Each user gets one submission per canonical animation per
// tournament; distinct users submitting the same item is fine.
func (c *TournamentController) Submit(ctx context.Context, tournamentID uuid.UUID, user *arena.User, params arena.AnimationParams) (*ResolveResult, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tournament, err := c.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("get tournament: %w", err)
	}
	if tournament.State != arena.TournamentSubmitting {
		return nil, arena.ErrWrongState
	}

	if err := c.chats.UpsertUser(ctx, tx, user); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	result, err := c.resolver.Resolve(ctx, tx, tournamentID, user.ID, params)
	if err != nil {
		return nil, err
	}

	// An exact duplicate gets a fresh animation identity for audit, so
	// the submission key alone will not catch a resubmit of the same
	// content. Check against the canonical identity instead.
	if result.Resolution == ResolutionDuplicate {
		already, err := c.tournaments.HasCanonicalSubmissionTx(ctx, tx, tournamentID, user.ID, result.CanonicalID)
		if err != nil {
			return nil, err
		}
		if already {
			return nil, arena.ErrDuplicateSubmission
		}
	}

	submission := &arena.Submission{
		TournamentID: tournamentID,
		AnimationID:  result.Animation.ID,
		SubmitterID:  user.ID,
		CreatedAt:    c.now(),
	}
	if err := c.tournaments.CreateSubmission(ctx, tx, submission); err != nil {
		return nil, err
	}
	return result, tx.Commit()
}

// CloseSubmissions freezes the entrant set, builds round one, moves the
// tournament into voting, and starts the first matchup.
func (c *TournamentController) CloseSubmissions(ctx context.Context, tournamentID uuid.UUID) (*arena.Tournament, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tournament, err := c.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("get tournament: %w", err)
	}
	if tournament.State != arena.TournamentSubmitting {
		return nil, arena.ErrWrongState
	}

	entrants, err := c.tournaments.CanonicalEntrants(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("load entrants: %w", err)
	}

	matchups, err := c.builder.Build(tournamentID, entrants, 0, c.now())
	if err != nil {
		return nil, err
	}
	rounds := matchups[0].Round

	if err := c.tournaments.OpenVoting(ctx, tx, tournamentID, rounds, c.minVotes); err != nil {
		return nil, err
	}
	if err := c.matchups.CreateMatchups(ctx, tx, matchups); err != nil {
		return nil, fmt.Errorf("create matchups: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	tournament.State = arena.TournamentVoting
	tournament.Rounds = &rounds
	tournament.MinVotes = &c.minVotes

	if err := c.startNextMatchup(ctx, tournamentID); err != nil {
		return nil, err
	}
	return tournament, nil
}

// CloseMatchup closes a matchup, applying the deterministic tiebreak when
// the poll ends level, then advances the tournament. Used by both the
// deadline sweep and explicit early close.
func (c *TournamentController) CloseMatchup(ctx context.Context, tournamentID uuid.UUID, index int) (*arena.Matchup, error) {
	matchup, err := c.scheduler.Close(ctx, tournamentID, index)
	if errors.Is(err, arena.ErrTieUnresolved) {
		matchup, err = c.scheduler.ForceClose(ctx, tournamentID, index, tieBreakSide(tournamentID, index))
	}
	if err != nil {
		return nil, err
	}
	if err := c.OnMatchupFinished(ctx, tournamentID, index); err != nil {
		return nil, err
	}
	return matchup, nil
}

// OnMatchupFinished advances the bracket after a matchup result lands:
// start the next pending matchup if one exists, otherwise fold the
// completed round into the next one, or finish the tournament when a
// single survivor remains. A replayed close of an already-folded round
// or of a settled tournament advances nothing.
func (c *TournamentController) OnMatchupFinished(ctx context.Context, tournamentID uuid.UUID, finishedIndex int) error {
	next, err := c.matchups.NextNotStarted(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("find next matchup: %w", err)
	}
	if next != nil {
		_, err := c.scheduler.Start(ctx, tournamentID, next.Index)
		// A duplicate advance (say, a sweep racing an explicit close) finds
		// the next matchup already running.
		if errors.Is(err, arena.ErrActiveMatchupExists) {
			return nil
		}
		return err
	}

	finished, err := c.matchups.GetMatchup(ctx, tournamentID, finishedIndex)
	if err != nil {
		return fmt.Errorf("get finished matchup: %w", err)
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tournament, err := c.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("get tournament: %w", err)
	}
	if tournament.State != arena.TournamentVoting {
		return nil
	}

	// Rounds count down toward the final; a smaller round on file means an
	// earlier close already folded this one.
	latest, err := c.matchups.LatestRoundTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("get latest round: %w", err)
	}
	if latest < finished.Round {
		return nil
	}

	roundMatchups, err := c.matchups.RoundMatchupsTx(ctx, tx, tournamentID, finished.Round)
	if err != nil {
		return fmt.Errorf("load round: %w", err)
	}
	survivors := make([]uuid.UUID, 0, len(roundMatchups))
	for _, m := range roundMatchups {
		winner, err := m.Winner()
		if err != nil {
			return fmt.Errorf("matchup %d: %w", m.Index, err)
		}
		survivors = append(survivors, winner)
	}

	if len(survivors) == 1 {
		if err := c.tournaments.FinishTournament(ctx, tx, tournamentID, survivors[0]); err != nil {
			return err
		}
		return tx.Commit()
	}

	nextIndex, err := c.matchups.NextIndexTx(ctx, tx, tournamentID)
	if err != nil {
		return err
	}
	nextRound, err := c.builder.Build(tournamentID, survivors, nextIndex, c.now())
	if err != nil {
		return err
	}
	if err := c.matchups.CreateMatchups(ctx, tx, nextRound); err != nil {
		return fmt.Errorf("create matchups: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return c.startNextMatchup(ctx, tournamentID)
}

// Abort terminates an active tournament, cascading onto every unfinished
// matchup and dropping its submissions. Finished matchup results survive
// for audit. A deadline fire racing the abort finds no started matchup
// and no-ops.
func (c *TournamentController) Abort(ctx context.Context, tournamentID uuid.UUID) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tournament, err := c.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("get tournament: %w", err)
	}
	started, err := c.matchups.StartedMatchupTx(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("get started matchup: %w", err)
	}

	if err := c.tournaments.AbortTournament(ctx, tx, tournamentID); err != nil {
		return err
	}
	if err := c.matchups.AbortMatchups(ctx, tx, tournamentID); err != nil {
		return fmt.Errorf("abort matchups: %w", err)
	}
	if err := c.tournaments.DeleteSubmissions(ctx, tx, tournamentID); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if started != nil {
		live := started.Phase.(arena.Started)
		if _, _, err := c.poller.ClosePoll(ctx, tournament.ChatID, live.MessageID); err != nil {
			slog.Warn("failed to stop poll for aborted tournament",
				"tournament_id", tournamentID, "poll_id", live.PollID, "error", err)
		}
	}
	return nil
}

// SweepDueMatchups closes every matchup whose deadline has passed, then
// resumes any voting tournament left with nothing running. Called
// periodically; duplicate fires are absorbed by idempotent close, and a
// matchup aborted between the scan and the close is skipped.
func (c *TournamentController) SweepDueMatchups(ctx context.Context) {
	due, err := c.scheduler.DueMatchups(ctx)
	if err != nil {
		slog.Error("failed to scan due matchups", "error", err)
		return
	}
	for _, sm := range due {
		key := sm.Matchup
		if _, err := c.CloseMatchup(ctx, key.TournamentID, key.Index); err != nil {
			if errors.Is(err, arena.ErrWrongState) {
				continue
			}
			slog.Error("failed to close matchup",
				"tournament_id", key.TournamentID, "index", key.Index, "error", err)
		}
	}

	// A poll that failed to open leaves the tournament in voting with no
	// started matchup; nothing else would ever start the pending one.
	stalled, err := c.tournaments.StalledVotingTournaments(ctx)
	if err != nil {
		slog.Error("failed to scan stalled tournaments", "error", err)
		return
	}
	for _, id := range stalled {
		if err := c.startNextMatchup(ctx, id); err != nil {
			slog.Error("failed to resume tournament", "tournament_id", id, "error", err)
		}
	}
}

// TournamentData is the read model for one tournament: its row plus every
// matchup in index order.
type TournamentData struct {
	Tournament *arena.Tournament
	Matchups   []*arena.Matchup
}

func (c *TournamentController) GetTournamentData(ctx context.Context, tournamentID uuid.UUID) (*TournamentData, error) {
	tournament, err := c.tournaments.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	matchups, err := c.matchups.Matchups(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	return &TournamentData{Tournament: tournament, Matchups: matchups}, nil
}

func (c *TournamentController) startNextMatchup(ctx context.Context, tournamentID uuid.UUID) error {
	next, err := c.matchups.NextNotStarted(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("find next matchup: %w", err)
	}
	if next == nil {
		return nil
	}
	_, err = c.scheduler.Start(ctx, tournamentID, next.Index)
	if errors.Is(err, arena.ErrActiveMatchupExists) {
		return nil
	}
	return err
}

// tieBreakSide picks the winner of a dead-even matchup: a coin flip seeded
// by the matchup identity, so every engine instance lands on the same
// side.
func tieBreakSide(tournamentID uuid.UUID, index int) arena.Side {
	h := fnv.New64a()
	h.Write(tournamentID[:])
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(index))
	h.Write(buf[:])
	if h.Sum64()%2 == 0 {
		return arena.SideA
	}
	return arena.SideB
}
