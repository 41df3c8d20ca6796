package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	service "github.com/okian/duel/internal/app"
)

// SessionDependencies defines the interface for session operations.
type SessionDependencies interface {
	CreateSession(ctx context.Context) (*service.Session, error)
	Session(id string) (*service.Session, error)
	CloseSession(ctx context.Context, id string) error
}

// SessionsHandler serves the duel loop.
type SessionsHandler struct {
	deps     SessionDependencies
	validate *validator.Validate
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies, v *validator.Validate) *SessionsHandler {
	return &SessionsHandler{deps: deps, validate: v}
}

// voteRequest mirrors the OpenAPI schema for POST /sessions/{id}/votes.
type voteRequest struct {
	DuelID   string `json:"duel_id" validate:"required,uuid"`
	WinnerID string `json:"winner_id" validate:"required,max=256"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type voteResponse struct {
	Status    string        `json:"status"`
	Duplicate bool          `json:"duplicate"`
	DuelID    string        `json:"duel_id"`
	Winner    *itemResponse `json:"winner,omitempty"`
	Loser     *itemResponse `json:"loser,omitempty"`
	Delta     float64       `json:"delta"`
	Expected  float64       `json:"expected"`
	Next      *duelResponse `json:"next,omitempty"`
}

func (h *SessionsHandler) session(r *http.Request) (*service.Session, error) {
	id := r.PathValue("id")
	if err := h.validate.Var(id, "required,uuid"); err != nil {
		return nil, WrapKind("api.session", service.ErrSessionNotFound, err)
	}
	return h.deps.Session(id)
}

// HandleCreate handles POST /sessions.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_session"
	sess, err := h.deps.CreateSession(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID()})
}

// HandleClose handles DELETE /sessions/{id}.
func (h *SessionsHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	const op = "api.close_session"
	if err := h.deps.CloseSession(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDuel handles GET /sessions/{id}/duel. The current duel is
// returned until it is voted on or skipped.
func (h *SessionsHandler) HandleGetDuel(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_duel"
	sess, err := h.session(r)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	d, err := sess.Duel(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toDuel(&d))
}

// HandleNextDuel handles POST /sessions/{id}/duel/next.
func (h *SessionsHandler) HandleNextDuel(w http.ResponseWriter, r *http.Request) {
	const op = "api.next_duel"
	sess, err := h.session(r)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	d, err := sess.Next(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toDuel(&d))
}

// HandleVote handles POST /sessions/{id}/votes.
func (h *SessionsHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	const op = "api.vote"
	sess, err := h.session(r)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}

	var req voteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := sess.Choose(r.Context(), req.DuelID, req.WinnerID)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, voteResponse{Status: "duplicate", Duplicate: true, DuelID: res.DuelID})
		return
	}

	winner, loser := toItem(res.Winner), toItem(res.Loser)
	resp := voteResponse{
		Status:   "applied",
		DuelID:   res.DuelID,
		Winner:   &winner,
		Loser:    &loser,
		Delta:    res.Delta,
		Expected: res.Expected,
	}
	// The vote stands even when no next pair can be drawn.
	if next, err := sess.Duel(r.Context()); err == nil {
		d := toDuel(&next)
		resp.Next = &d
	}
	writeJSON(w, http.StatusOK, resp)
}
