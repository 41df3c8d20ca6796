// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/duel/internal/adapters/repository"
	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/domain/matchmaking"
	"github.com/okian/duel/internal/domain/model"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	CreateSession(ctx context.Context) (*service.Session, error)
	Session(id string) (*service.Session, error)
	CloseSession(ctx context.Context, id string) error

	// Read operations expose leaderboard data.
	TopN(ctx context.Context, n int) ([]repository.Entry, error)
	Rank(ctx context.Context, id string) (repository.Entry, error)
	Stats(ctx context.Context) (service.Stats, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	sessionsHandler    *SessionsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	live               http.Handler
}

// NewServer creates a new API server with all handlers. live, when not nil,
// serves the rating-change stream at /events.
func NewServer(deps Dependencies, maxLeaderboardLimit int, live http.Handler) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		sessionsHandler:    NewSessionsHandler(deps, v),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLeaderboardLimit),
		rankHandler:        NewRankHandler(deps),
		live:               live,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	sh := s.sessionsHandler
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /sessions", MetricsMiddleware(sh.HandleCreate, "sessions"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(sh.HandleClose, "sessions"))
	mux.HandleFunc("GET /sessions/{id}/duel", MetricsMiddleware(sh.HandleGetDuel, "duel"))
	mux.HandleFunc("POST /sessions/{id}/duel/next", MetricsMiddleware(sh.HandleNextDuel, "duel"))
	mux.HandleFunc("POST /sessions/{id}/votes", MetricsMiddleware(sh.HandleVote, "votes"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	if s.live != nil {
		// Not wrapped: the upgrade needs the raw writer.
		mux.Handle("GET /events", s.live)
	}
}

// itemResponse is the wire shape of an item.
type itemResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ImagePath string  `json:"image_path,omitempty"`
	Rating    float64 `json:"rating"`
}

func toItem(it model.Item) itemResponse {
	return itemResponse{ID: it.ID, Name: it.Name, ImagePath: it.ImagePath, Rating: it.Rating}
}

type duelResponse struct {
	DuelID      string       `json:"duel_id"`
	A           itemResponse `json:"a"`
	B           itemResponse `json:"b"`
	PresentedAt time.Time    `json:"presented_at"`
}

func toDuel(d *service.Duel) duelResponse {
	return duelResponse{DuelID: d.ID, A: toItem(d.A), B: toItem(d.B), PresentedAt: d.PresentedAt}
}

type entryResponse struct {
	Rank int `json:"rank"`
	itemResponse
}

func toEntry(e repository.Entry) entryResponse {
	return entryResponse{Rank: e.Rank, itemResponse: toItem(e.Item)}
}

type fieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

type errorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, fieldError{Field: fe.Field(), Tag: fe.Tag()})
		}
	}
	writeJSON(w, status, resp)
}

// insufficientMessage is shown instead of a duel when the library is too small.
const insufficientMessage = "Need at least two items in the library."

// writeFailure maps service and store errors onto status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLimitExceeded):
		writeError(w, http.StatusBadRequest, "limit_exceeded", err)
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, matchmaking.ErrInsufficientPopulation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Code: "insufficient_population", Message: insufficientMessage})
	// Write failures wrap the store's cause, which may itself be ErrNotFound.
	case errors.Is(err, service.ErrPartialWrite):
		writeError(w, http.StatusInternalServerError, "partial_write", err)
	case errors.Is(err, repository.ErrWriteFailed):
		writeError(w, http.StatusInternalServerError, "write_failed", err)
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrNoActiveDuel), errors.Is(err, service.ErrStaleDuel):
		writeError(w, http.StatusConflict, "stale_duel", err)
	case errors.Is(err, service.ErrNotInDuel):
		writeError(w, http.StatusBadRequest, "not_in_duel", err)
	case errors.Is(err, repository.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
	case errors.Is(err, repository.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "not_started", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
