package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/store"
	"github.com/gifarena/gifarena/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Resolution string

const (
	// ResolutionNew accepts the submission as a previously unseen item.
	ResolutionNew Resolution = "new"
	// ResolutionDuplicate merged the submission into a known canonical
	// primary; the submission row keeps its own animation identity for
	// audit, the bracket sees the primary.
	ResolutionDuplicate Resolution = "duplicate"
	// ResolutionFlagged accepted the submission but recorded symmetric
	// near-duplicate pairs for later review.
	ResolutionFlagged Resolution = "flagged"
)

type ResolveResult struct {
	Resolution  Resolution
	Animation   *arena.Animation
	CanonicalID uuid.UUID
	FlaggedWith []uuid.UUID
}

// DuplicateResolver decides, for every incoming submission, whether the
// item is new, an exact duplicate of a known animation, or a near
// duplicate of something already submitted to the same tournament.
type DuplicateResolver struct {
	animations *store.AnimationStore
	now        func() time.Time
}

func NewDuplicateResolver(animations *store.AnimationStore) *DuplicateResolver {
	return &DuplicateResolver{animations: animations, now: time.Now}
}

// Resolve stores the animation row for the submission and records any
// duplicate relations. It runs inside the caller's transaction so the
// animation, its relations, and the submission commit together.
func (r *DuplicateResolver) Resolve(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, submitterID int64, params arena.AnimationParams) (*ResolveResult, error) {
	existing, err := r.animations.FindByContentHash(ctx, tx, params.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("look up content hash: %w", err)
	}

	animation := &arena.Animation{
		ID:             uuid.New(),
		FileIdentifier: params.FileIdentifier,
		Width:          params.Width,
		Height:         params.Height,
		MimeType:       params.MimeType,
		Frames:         params.Frames,
		FPSNum:         params.FPSNum,
		FPSDenom:       params.FPSDenom,
		ContentHash:    params.ContentHash,
		Description:    utils.StringOrNil(params.Filename),
	}

	if existing != nil {
		primaryID, err := r.animations.CanonicalID(ctx, tx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve canonical primary: %w", err)
		}
		if err := r.animations.CreateAnimation(ctx, tx, animation); err != nil {
			return nil, fmt.Errorf("create animation: %w", err)
		}
		if err := r.animations.AddCanonicalDuplicate(ctx, tx, primaryID, animation.ID); err != nil {
			return nil, err
		}
		if params.Filename != "" {
			if err := r.animations.AddFilename(ctx, tx, animation.ID, params.Filename); err != nil {
				return nil, fmt.Errorf("record filename: %w", err)
			}
		}
		return &ResolveResult{
			Resolution:  ResolutionDuplicate,
			Animation:   animation,
			CanonicalID: primaryID,
		}, nil
	}

	if err := r.animations.CreateAnimation(ctx, tx, animation); err != nil {
		return nil, fmt.Errorf("create animation: %w", err)
	}
	if params.Filename != "" {
		if err := r.animations.AddFilename(ctx, tx, animation.ID, params.Filename); err != nil {
			return nil, fmt.Errorf("record filename: %w", err)
		}
	}

	// Same shape but different content, submitted by someone else before
	// the phase closes: flag the pair for review rather than merging.
	near, err := r.animations.NearSubmissions(ctx, tx, tournamentID, params.Fingerprint(), params.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("find near duplicates: %w", err)
	}
	var flagged []uuid.UUID
	for _, candidate := range near {
		if candidate.SubmitterID == submitterID {
			continue
		}
		if err := r.animations.AddSuggestedDuplicate(ctx, tx, animation.ID, candidate.AnimationID); err != nil {
			return nil, err
		}
		flagged = append(flagged, candidate.AnimationID)
	}

	result := &ResolveResult{
		Resolution:  ResolutionNew,
		Animation:   animation,
		CanonicalID: animation.ID,
		FlaggedWith: flagged,
	}
	if len(flagged) > 0 {
		result.Resolution = ResolutionFlagged
	}
	return result, nil
}
