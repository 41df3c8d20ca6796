package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/duel/internal/adapters/repository"
)

const defaultLeaderboardLimit = 10

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	TopN(ctx context.Context, n int) ([]repository.Entry, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n := defaultLeaderboardLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeFailure(w, NewKind(op, ErrBadRequest))
			return
		}
		n = v
	}
	if h.maxLimit > 0 && n > h.maxLimit {
		writeFailure(w, NewKind(op, ErrLimitExceeded))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e)
	}
	writeJSON(w, http.StatusOK, out)
}
