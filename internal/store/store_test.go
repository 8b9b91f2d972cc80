package store

import (
	"context"
	"testing"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
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

func inTx(t *testing.T, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		require.NoError(t, tx.Rollback())
		return err
	}
	require.NoError(t, tx.Commit())
	return nil
}

func seedChat(t *testing.T, db *sqlx.DB, id int64) {
	t.Helper()
	_, err := db.Exec("INSERT INTO chats (id, kind, title) VALUES (?, 'group', 'test chat')", id)
	require.NoError(t, err)
}

func seedUser(t *testing.T, db *sqlx.DB, id int64) {
	t.Helper()
	_, err := db.Exec("INSERT INTO users (id, username) VALUES (?, ?)", id, "user")
	require.NoError(t, err)
}

func seedAnimation(t *testing.T, db *sqlx.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO animations (id, file_identifier, width, height, mime_type, frames, fps_num, fps_denom, content_hash)
		VALUES (?, ?, 320, 240, 'video/mp4', 48, 24, 1, ?)`,
		id, "file-"+id.String(), "hash-"+id.String())
	require.NoError(t, err)
	return id
}

func seedTournament(t *testing.T, db *sqlx.DB, chatID int64, state arena.TournamentState) *arena.Tournament {
	t.Helper()
	tournament := &arena.Tournament{
		ID:        uuid.New(),
		ChatID:    chatID,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	if state == arena.TournamentVoting {
		rounds, minVotes := 2, 1
		tournament.Rounds = &rounds
		tournament.MinVotes = &minVotes
	}
	store := NewTournamentStore(db)
	require.NoError(t, inTx(t, db, func(tx *sqlx.Tx) error {
		return store.CreateTournament(context.Background(), tx, tournament)
	}))
	return tournament
}
