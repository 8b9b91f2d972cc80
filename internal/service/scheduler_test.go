package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertMatchup(t *testing.T, db *sqlx.DB, tournamentID uuid.UUID, index int, a, b uuid.UUID) {
	t.Helper()
	matchups := store.NewMatchupStore(db)
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = matchups.CreateMatchups(context.Background(), tx, []*arena.Matchup{{
		TournamentID: tournamentID,
		Index:        index,
		Round:        1,
		AnimationA:   a,
		AnimationB:   &b,
		DurationSecs: 600,
		Phase:        arena.NotStarted{},
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func newTestScheduler(t *testing.T, db *sqlx.DB, poller Poller) *MatchupScheduler {
	t.Helper()
	return NewMatchupScheduler(db, store.NewMatchupStore(db), store.NewTournamentStore(db), store.NewAnimationStore(db), poller)
}

func TestStartOpensPoll(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	a := insertAnimation(t, db)
	b := insertAnimation(t, db)
	insertMatchup(t, db, tournament.ID, 0, a, b)

	matchup, err := scheduler.Start(context.Background(), tournament.ID, 0)
	require.NoError(t, err)

	live, ok := matchup.Phase.(arena.Started)
	require.True(t, ok)
	assert.Equal(t, "poll-1", live.PollID)
	assert.Equal(t, 0, live.VotesA)
	assert.Equal(t, 0, live.VotesB)

	require.Len(t, poller.opened, 1)
	assert.Equal(t, int64(10), poller.opened[0].ChatID)
	assert.Equal(t, 600, poller.opened[0].DurationSecs)
	assert.Equal(t, "file-"+a.String(), poller.opened[0].FileA)
	assert.Equal(t, "file-"+b.String(), poller.opened[0].FileB)

	// The transition is persisted, not just returned.
	stored, err := store.NewMatchupStore(db).GetMatchup(context.Background(), tournament.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, arena.MatchupStarted, stored.State())
}

func TestStartSecondMatchupConflicts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))
	insertMatchup(t, db, tournament.ID, 1, insertAnimation(t, db), insertAnimation(t, db))

	_, err := scheduler.Start(context.Background(), tournament.ID, 0)
	require.NoError(t, err)

	_, err = scheduler.Start(context.Background(), tournament.ID, 1)
	assert.ErrorIs(t, err, arena.ErrActiveMatchupExists)

	// The losing start never published a poll.
	assert.Len(t, poller.opened, 1)
	assert.Empty(t, poller.closed)
}

func TestInterleavedStartsLeaveOneActive(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	for i := 0; i < 4; i++ {
		insertMatchup(t, db, tournament.ID, i, insertAnimation(t, db), insertAnimation(t, db))
	}

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, err := scheduler.Start(ctx, tournament.ID, index)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, arena.ErrActiveMatchupExists):
			lost++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 3, lost)

	var started int
	require.NoError(t, db.Get(&started,
		"SELECT count(*) FROM matchups WHERE tournament_id = ? AND state = 'started'", tournament.ID))
	assert.Equal(t, 1, started)

	// Every poll a losing start managed to publish was retracted.
	assert.Len(t, poller.closed, len(poller.opened)-1)
}

func TestStartRequiresPendingMatchup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	scheduler := newTestScheduler(t, db, newFakePoller())

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))

	_, err := scheduler.Start(context.Background(), tournament.ID, 0)
	require.NoError(t, err)

	_, err = scheduler.Start(context.Background(), tournament.ID, 0)
	assert.ErrorIs(t, err, arena.ErrWrongState)
}

func TestRecordVoteIncrementsCommute(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	scheduler := newTestScheduler(t, db, newFakePoller())

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))

	_, err := scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)

	require.NoError(t, scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideA, 1))
	require.NoError(t, scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideB, 1))
	require.NoError(t, scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideA, 1))

	matchup, err := store.NewMatchupStore(db).GetMatchup(ctx, tournament.ID, 0)
	require.NoError(t, err)
	live := matchup.Phase.(arena.Started)
	assert.Equal(t, 2, live.VotesA)
	assert.Equal(t, 1, live.VotesB)

	// A retraction below zero is rejected and the tallies are untouched.
	err = scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideB, -2)
	assert.ErrorIs(t, err, arena.ErrNegativeTally)
}

func TestRecordVoteOutsideLiveWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))

	err := scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideA, 1)
	assert.ErrorIs(t, err, arena.ErrWrongState)

	_, err = scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)
	poller.finalA, poller.finalB = 2, 1
	_, err = scheduler.Close(ctx, tournament.ID, 0)
	require.NoError(t, err)

	err = scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideA, 1)
	assert.ErrorIs(t, err, arena.ErrMatchupClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	a := insertAnimation(t, db)
	b := insertAnimation(t, db)
	insertMatchup(t, db, tournament.ID, 0, a, b)

	_, err := scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)

	poller.finalA, poller.finalB = 3, 1
	first, err := scheduler.Close(ctx, tournament.ID, 0)
	require.NoError(t, err)
	result := first.Phase.(arena.Finished)
	assert.Equal(t, 3, result.VotesA)
	assert.Equal(t, 1, result.VotesB)

	winner, err := first.Winner()
	require.NoError(t, err)
	assert.Equal(t, a, winner)

	// A duplicate close returns the recorded result without touching the poll.
	poller.finalA, poller.finalB = 99, 99
	second, err := scheduler.Close(ctx, tournament.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Phase, second.Phase)
	assert.Len(t, poller.closed, 1)
}

func TestCloseSurfacesTie(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	a := insertAnimation(t, db)
	b := insertAnimation(t, db)
	insertMatchup(t, db, tournament.ID, 0, a, b)

	_, err := scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)

	poller.finalA, poller.finalB = 2, 2
	_, err = scheduler.Close(ctx, tournament.ID, 0)
	assert.ErrorIs(t, err, arena.ErrTieUnresolved)

	// The matchup stays live with the authoritative counts pinned.
	stored, err := store.NewMatchupStore(db).GetMatchup(ctx, tournament.ID, 0)
	require.NoError(t, err)
	live, ok := stored.Phase.(arena.Started)
	require.True(t, ok)
	assert.Equal(t, 2, live.VotesA)
	assert.Equal(t, 2, live.VotesB)

	// The tiebreak credits one deciding vote to the chosen side.
	forced, err := scheduler.ForceClose(ctx, tournament.ID, 0, arena.SideB)
	require.NoError(t, err)
	result := forced.Phase.(arena.Finished)
	assert.Equal(t, 2, result.VotesA)
	assert.Equal(t, 3, result.VotesB)

	winner, err := forced.Winner()
	require.NoError(t, err)
	assert.Equal(t, b, winner)

	// ForceClose after the fact returns the settled result.
	again, err := scheduler.ForceClose(ctx, tournament.ID, 0, arena.SideA)
	require.NoError(t, err)
	assert.Equal(t, forced.Phase, again.Phase)
}

func TestCloseAbortedMatchup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	scheduler := newTestScheduler(t, db, newFakePoller())

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))

	_, err := scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.NewMatchupStore(db).AbortMatchups(ctx, tx, tournament.ID))
	require.NoError(t, tx.Commit())

	// A deadline fire racing the abort finds nothing to close.
	_, err = scheduler.Close(ctx, tournament.ID, 0)
	assert.ErrorIs(t, err, arena.ErrWrongState)
}

func TestDueMatchupsHonorsDeadlineAndThreshold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	scheduler := newTestScheduler(t, db, newFakePoller())

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))

	_, err := scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)

	due, err := scheduler.DueMatchups(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "deadline has not passed yet")

	// Move the start time past the poll duration.
	_, err = db.Exec("UPDATE matchups SET started_at = ? WHERE tournament_id = ?",
		time.Now().UTC().Add(-time.Hour), tournament.ID)
	require.NoError(t, err)

	due, err = scheduler.DueMatchups(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "below the vote threshold the poll stays open")

	require.NoError(t, scheduler.RecordVote(ctx, tournament.ID, 0, arena.SideA, 1))

	due, err = scheduler.DueMatchups(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].Matchup.Index)
	assert.Equal(t, int64(10), due[0].ChatID)
	assert.Equal(t, 1, due[0].MinVotes)
}

func TestSyncTallies(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	poller := newFakePoller()
	scheduler := newTestScheduler(t, db, poller)

	insertChat(t, db, 10)
	tournament := createTournament(t, db, 10, arena.TournamentVoting)
	insertMatchup(t, db, tournament.ID, 0, insertAnimation(t, db), insertAnimation(t, db))

	started, err := scheduler.Start(ctx, tournament.ID, 0)
	require.NoError(t, err)
	pollID := started.Phase.(arena.Started).PollID

	require.NoError(t, scheduler.SyncTallies(ctx, pollID, 4, 2))

	stored, err := store.NewMatchupStore(db).GetMatchup(ctx, tournament.ID, 0)
	require.NoError(t, err)
	live := stored.Phase.(arena.Started)
	assert.Equal(t, 4, live.VotesA)
	assert.Equal(t, 2, live.VotesB)

	assert.ErrorIs(t, scheduler.SyncTallies(ctx, pollID, -1, 0), arena.ErrNegativeTally)

	poller.finalA, poller.finalB = 4, 2
	_, err = scheduler.Close(ctx, tournament.ID, 0)
	require.NoError(t, err)

	// Updates for a settled poll are stale by definition.
	assert.ErrorIs(t, scheduler.SyncTallies(ctx, pollID, 5, 2), arena.ErrMatchupClosed)
}
