package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type AnimationStore struct {
	db *sqlx.DB
}

func NewAnimationStore(db *sqlx.DB) *AnimationStore {
	return &AnimationStore{db: db}
}

func (s *AnimationStore) CreateAnimation(ctx context.Context, tx *sqlx.Tx, animation *arena.Animation) error {
	if animation.Description != nil && strings.TrimSpace(*animation.Description) == "" {
		return arena.ErrEmptyDescription
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO animations (id, file_identifier, width, height, mime_type, frames, fps_num, fps_denom, content_hash, description)
		VALUES (:id, :file_identifier, :width, :height, :mime_type, :frames, :fps_num, :fps_denom, :content_hash, :description)`,
		animation)
	return err
}

func (s *AnimationStore) AddFilename(ctx context.Context, tx *sqlx.Tx, animationID uuid.UUID, filename string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO animation_filenames (animation_id, filename) VALUES (?, ?)",
		animationID, filename)
	return err
}

func (s *AnimationStore) GetAnimation(ctx context.Context, id uuid.UUID) (*arena.Animation, error) {
	var animation arena.Animation
	err := s.db.GetContext(ctx, &animation, "SELECT * FROM animations WHERE id = ?", id)
	return &animation, err
}

func (s *AnimationStore) GetAnimationTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*arena.Animation, error) {
	var animation arena.Animation
	err := tx.GetContext(ctx, &animation, "SELECT * FROM animations WHERE id = ?", id)
	return &animation, err
}

// BackfillDescription sets a description on an animation that has none.
// Animations are otherwise immutable.
func (s *AnimationStore) BackfillDescription(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, description string) error {
	if strings.TrimSpace(description) == "" {
		return arena.ErrEmptyDescription
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE animations SET description = ? WHERE id = ? AND description IS NULL",
		description, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return arena.ErrWrongState
	}
	return nil
}

// FindByContentHash returns the animation with an identical content hash,
// or nil when none is known yet.
func (s *AnimationStore) FindByContentHash(ctx context.Context, tx *sqlx.Tx, contentHash string) (*arena.Animation, error) {
	var animation arena.Animation
	err := tx.GetContext(ctx, &animation,
		"SELECT * FROM animations WHERE content_hash = ? ORDER BY id LIMIT 1", contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &animation, nil
}

type NearSubmission struct {
	AnimationID uuid.UUID `db:"animation_id"`
	SubmitterID int64     `db:"submitter_id"`
}

// NearSubmissions finds submissions in an open tournament whose animation
// shares the shape fingerprint but not the content hash of the new item.
func (s *AnimationStore) NearSubmissions(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, fp arena.Fingerprint, contentHash string) ([]NearSubmission, error) {
	var near []NearSubmission
	err := tx.SelectContext(ctx, &near, `
		SELECT s.animation_id, s.submitter_id
		FROM submissions s
		JOIN animations a ON a.id = s.animation_id
		WHERE s.tournament_id = ?
			AND a.width = ? AND a.height = ? AND a.frames = ?
			AND a.fps_num * ? = a.fps_denom * ?
			AND a.content_hash != ?
		ORDER BY s.animation_id`,
		tournamentID, fp.Width, fp.Height, fp.Frames, fp.FPSDenom, fp.FPSNum, contentHash)
	return near, err
}

// CanonicalID resolves an animation to its canonical primary, following
// the duplicate edge if one exists. Edges always point at a root, so a
// single hop suffices.
func (s *AnimationStore) CanonicalID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (uuid.UUID, error) {
	var primary uuid.UUID
	err := tx.GetContext(ctx, &primary,
		"SELECT primary_animation_id FROM duplicates WHERE duplicate_animation_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return primary, nil
}

// AddCanonicalDuplicate records primary -> duplicate. The primary keeps the
// strict direction acyclic: callers must pass a root primary, and an
// animation that already has a primary cannot be given a second one.
func (s *AnimationStore) AddCanonicalDuplicate(ctx context.Context, tx *sqlx.Tx, primaryID, duplicateID uuid.UUID) error {
	if primaryID == duplicateID {
		return arena.ErrSelfDuplicate
	}
	var count int
	if err := tx.GetContext(ctx, &count,
		"SELECT count(*) FROM duplicates WHERE duplicate_animation_id = ?", primaryID); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s is itself a duplicate", arena.ErrConflictingCanonical, primaryID)
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO duplicates (duplicate_animation_id, primary_animation_id) VALUES (?, ?)",
		duplicateID, primaryID)
	if isUniqueViolation(err) {
		return arena.ErrConflictingCanonical
	}
	return err
}

// AddSuggestedDuplicate flags two animations submitted by different users
// as near-duplicates. The pair is symmetric and stored once, lower ID first.
func (s *AnimationStore) AddSuggestedDuplicate(ctx context.Context, tx *sqlx.Tx, a, b uuid.UUID) error {
	if a == b {
		return arena.ErrSelfDuplicate
	}
	if strings.Compare(a.String(), b.String()) > 0 {
		a, b = b, a
	}
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO suggested_duplicates (animation_a_id, animation_b_id) VALUES (?, ?)",
		a, b)
	return err
}

// PromoteSuggested turns a reviewed suggested pair into a canonical edge.
func (s *AnimationStore) PromoteSuggested(ctx context.Context, tx *sqlx.Tx, primaryID, duplicateID uuid.UUID) error {
	a, b := primaryID, duplicateID
	if strings.Compare(a.String(), b.String()) > 0 {
		a, b = b, a
	}
	res, err := tx.ExecContext(ctx,
		"DELETE FROM suggested_duplicates WHERE animation_a_id = ? AND animation_b_id = ?", a, b)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return sql.ErrNoRows
	}
	return s.AddCanonicalDuplicate(ctx, tx, primaryID, duplicateID)
}

func (s *AnimationStore) SuggestedDuplicates(ctx context.Context) ([]arena.SuggestedDuplicate, error) {
	var pairs []arena.SuggestedDuplicate
	err := s.db.SelectContext(ctx, &pairs,
		"SELECT * FROM suggested_duplicates ORDER BY animation_a_id, animation_b_id")
	return pairs, err
}
