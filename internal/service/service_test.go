package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")

	// A second pool connection would see its own empty in-memory database.
	database.SetMaxOpenConns(1)

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	driver, err := sqlite3.WithInstance(database.DB, &sqlite3.Config{})
	require.NoError(t, err, "Failed to create migrate driver instance")

	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"sqlite3",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to apply migrations")
	}

	return database
}

// fakePoller is an in-memory Poller. Closed polls report finalA/finalB as
// the authoritative tallies.
type fakePoller struct {
	mu            sync.Mutex
	nextMessageID int64
	opened        []PollRequest
	closed        map[int64]bool
	finalA        int
	finalB        int
	openErr       error
	closeErr      error
}

func newFakePoller() *fakePoller {
	return &fakePoller{closed: make(map[int64]bool)}
}

func (p *fakePoller) OpenPoll(ctx context.Context, req PollRequest) (string, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return "", 0, p.openErr
	}
	p.nextMessageID++
	p.opened = append(p.opened, req)
	return fmt.Sprintf("poll-%d", p.nextMessageID), p.nextMessageID, nil
}

func (p *fakePoller) ClosePoll(ctx context.Context, chatID, messageID int64) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeErr != nil {
		return 0, 0, p.closeErr
	}
	p.closed[messageID] = true
	return p.finalA, p.finalB, nil
}

func insertChat(t *testing.T, db *sqlx.DB, id int64) {
	t.Helper()
	_, err := db.Exec("INSERT INTO chats (id, kind, title) VALUES (?, 'group', 'test chat')", id)
	require.NoError(t, err)
}

func insertUser(t *testing.T, db *sqlx.DB, id int64) {
	t.Helper()
	_, err := db.Exec("INSERT INTO users (id, username) VALUES (?, ?)", id, fmt.Sprintf("user%d", id))
	require.NoError(t, err)
}

func insertAnimation(t *testing.T, db *sqlx.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO animations (id, file_identifier, width, height, mime_type, frames, fps_num, fps_denom, content_hash)
		VALUES (?, ?, 320, 240, 'video/mp4', 48, 24, 1, ?)`,
		id, "file-"+id.String(), "hash-"+id.String())
	require.NoError(t, err)
	return id
}

func createTournament(t *testing.T, db *sqlx.DB, chatID int64, state arena.TournamentState) *arena.Tournament {
	t.Helper()
	tournament := &arena.Tournament{
		ID:        uuid.New(),
		ChatID:    chatID,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	if state == arena.TournamentVoting {
		rounds, minVotes := 3, 1
		tournament.Rounds = &rounds
		tournament.MinVotes = &minVotes
	}
	tournaments := store.NewTournamentStore(db)
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, tournaments.CreateTournament(context.Background(), tx, tournament))
	require.NoError(t, tx.Commit())
	return tournament
}
