package store

import (
	"context"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/jmoiron/sqlx"
)

type ChatStore struct {
	db *sqlx.DB
}

func NewChatStore(db *sqlx.DB) *ChatStore {
	return &ChatStore{db: db}
}

const (
	upsertChatQuery = `
		INSERT INTO chats (id, kind, title, username) VALUES (:id, :kind, :title, :username)
		ON CONFLICT (id) DO UPDATE SET kind = :kind, title = :title, username = :username
	`
	upsertUserQuery = `
		INSERT INTO users (id, username) VALUES (:id, :username)
		ON CONFLICT (id) DO UPDATE SET username = :username
	`
)

func (s *ChatStore) UpsertChat(ctx context.Context, tx *sqlx.Tx, chat *arena.Chat) error {
	_, err := tx.NamedExecContext(ctx, upsertChatQuery, chat)
	return err
}

func (s *ChatStore) UpsertUser(ctx context.Context, tx *sqlx.Tx, user *arena.User) error {
	_, err := tx.NamedExecContext(ctx, upsertUserQuery, user)
	return err
}

func (s *ChatStore) GetChat(ctx context.Context, id int64) (*arena.Chat, error) {
	var chat arena.Chat
	err := s.db.GetContext(ctx, &chat, "SELECT * FROM chats WHERE id = ?", id)
	return &chat, err
}
