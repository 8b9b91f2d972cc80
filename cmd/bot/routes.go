package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gifarena/gifarena/internal/arena"
	"github.com/gifarena/gifarena/internal/httputil"
	"github.com/gifarena/gifarena/internal/service"
	"github.com/gifarena/gifarena/internal/telegram"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type createTournamentRequest struct {
	ChatID   int64  `json:"chat_id"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Username string `json:"username,omitempty"`
}

type submitRequest struct {
	User      arena.User            `json:"user"`
	Animation arena.AnimationParams `json:"animation"`
}

type tournamentResponse struct {
	ID         uuid.UUID  `json:"id"`
	ChatID     int64      `json:"chat_id"`
	State      string     `json:"state"`
	Rounds     *int       `json:"rounds,omitempty"`
	MinVotes   *int       `json:"min_votes,omitempty"`
	ChampionID *uuid.UUID `json:"champion_id,omitempty"`
}

type matchupResponse struct {
	Index        int        `json:"index"`
	Round        int        `json:"round"`
	State        string     `json:"state"`
	AnimationA   uuid.UUID  `json:"animation_a"`
	AnimationB   *uuid.UUID `json:"animation_b,omitempty"`
	DurationSecs int        `json:"duration_secs"`
	VotesA       *int       `json:"votes_a,omitempty"`
	VotesB       *int       `json:"votes_b,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func newRouter(controller *service.TournamentController, scheduler *service.MatchupScheduler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/tournaments", func(w http.ResponseWriter, r *http.Request) {
		var req createTournamentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		chat := &arena.Chat{
			ID:    req.ChatID,
			Kind:  arena.ChatKind(req.Kind),
			Title: req.Title,
		}
		if req.Username != "" {
			chat.Username = &req.Username
		}

		tournament, err := controller.Open(r.Context(), chat)
		if err != nil {
			writeDomainError(w, "Failed to open tournament", err)
			return
		}
		httputil.JSON(w, http.StatusCreated, toTournamentResponse(tournament))
	})

	r.Post("/tournaments/{id}/submissions", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.BadRequest(w, "Invalid tournament ID", err)
			return
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}

		result, err := controller.Submit(r.Context(), id, &req.User, req.Animation)
		if err != nil {
			writeDomainError(w, "Failed to record submission", err)
			return
		}
		httputil.JSON(w, http.StatusCreated, map[string]any{
			"resolution":   result.Resolution,
			"animation_id": result.Animation.ID,
			"canonical_id": result.CanonicalID,
			"flagged_with": result.FlaggedWith,
		})
	})

	r.Post("/tournaments/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.BadRequest(w, "Invalid tournament ID", err)
			return
		}
		tournament, err := controller.CloseSubmissions(r.Context(), id)
		if err != nil {
			writeDomainError(w, "Failed to close submissions", err)
			return
		}
		httputil.JSON(w, http.StatusOK, toTournamentResponse(tournament))
	})

	r.Post("/tournaments/{id}/abort", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.BadRequest(w, "Invalid tournament ID", err)
			return
		}
		if err := controller.Abort(r.Context(), id); err != nil {
			writeDomainError(w, "Failed to abort tournament", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/tournaments/{id}/matchups/{index}/close", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.BadRequest(w, "Invalid tournament ID", err)
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httputil.BadRequest(w, "Invalid matchup index", err)
			return
		}
		matchup, err := controller.CloseMatchup(r.Context(), id, index)
		if err != nil {
			writeDomainError(w, "Failed to close matchup", err)
			return
		}
		httputil.JSON(w, http.StatusOK, toMatchupResponse(matchup))
	})

	r.Get("/tournaments/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.BadRequest(w, "Invalid tournament ID", err)
			return
		}
		data, err := controller.GetTournamentData(r.Context(), id)
		if err != nil {
			writeDomainError(w, "Failed to get tournament", err)
			return
		}
		matchups := make([]matchupResponse, 0, len(data.Matchups))
		for _, m := range data.Matchups {
			matchups = append(matchups, toMatchupResponse(m))
		}
		httputil.JSON(w, http.StatusOK, map[string]any{
			"tournament": toTournamentResponse(data.Tournament),
			"matchups":   matchups,
		})
	})

	// Poll state pushes from the Bot API. Closed polls are settled through
	// stopPoll, so their updates carry nothing new.
	r.Post("/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httputil.BadRequest(w, "Invalid update", err)
			return
		}
		if update.Poll == nil || update.Poll.IsClosed || len(update.Poll.Options) != 2 {
			w.WriteHeader(http.StatusOK)
			return
		}
		err := scheduler.SyncTallies(r.Context(), update.Poll.ID,
			update.Poll.Options[0].VoterCount, update.Poll.Options[1].VoterCount)
		if err != nil && !errors.Is(err, arena.ErrMatchupClosed) {
			writeDomainError(w, "Failed to sync tallies", err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		httputil.NotFound(w, "Not found", err)
	case errors.Is(err, arena.ErrSelfDuplicate),
		errors.Is(err, arena.ErrInsufficientEntrants),
		errors.Is(err, arena.ErrEmptyDescription),
		errors.Is(err, arena.ErrNegativeTally):
		httputil.BadRequest(w, err.Error(), err)
	case errors.Is(err, arena.ErrDuplicateActiveTournament),
		errors.Is(err, arena.ErrActiveMatchupExists),
		errors.Is(err, arena.ErrDuplicateSubmission),
		errors.Is(err, arena.ErrConflictingCanonical),
		errors.Is(err, arena.ErrMatchupClosed),
		errors.Is(err, arena.ErrWrongState):
		httputil.Conflict(w, err.Error(), err)
	default:
		httputil.InternalServerError(w, msg, err)
	}
}

func toTournamentResponse(t *arena.Tournament) tournamentResponse {
	return tournamentResponse{
		ID:         t.ID,
		ChatID:     t.ChatID,
		State:      string(t.State),
		Rounds:     t.Rounds,
		MinVotes:   t.MinVotes,
		ChampionID: t.ChampionID,
	}
}

func toMatchupResponse(m *arena.Matchup) matchupResponse {
	resp := matchupResponse{
		Index:        m.Index,
		Round:        m.Round,
		State:        string(m.State()),
		AnimationA:   m.AnimationA,
		AnimationB:   m.AnimationB,
		DurationSecs: m.DurationSecs,
	}
	switch phase := m.Phase.(type) {
	case arena.Started:
		resp.VotesA = &phase.VotesA
		resp.VotesB = &phase.VotesB
		resp.StartedAt = &phase.StartedAt
	case arena.Finished:
		resp.VotesA = &phase.VotesA
		resp.VotesB = &phase.VotesB
		resp.StartedAt = &phase.StartedAt
		resp.FinishedAt = &phase.FinishedAt
	}
	return resp
}
