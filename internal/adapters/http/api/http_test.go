package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duel/internal/adapters/http/api"
	"github.com/okian/duel/internal/adapters/repository"
	service "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/domain/matchmaking"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type flakyStore struct {
	*repository.TreapStore
	mu      sync.Mutex
	failing map[string]bool
	missing map[string]bool
}

func (f *flakyStore) Write(ctx context.Context, id string, rating float64) error {
	f.mu.Lock()
	failing, missing := f.failing[id], f.missing[id]
	f.mu.Unlock()
	if failing {
		return fmt.Errorf("%w: %s", repository.ErrWriteFailed, id)
	}
	if missing {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return f.TreapStore.Write(ctx, id, rating)
}

type brokenBoard struct{}

func (brokenBoard) TopN(context.Context, int) ([]repository.Entry, error) {
	return nil, fmt.Errorf("%w: connection refused", repository.ErrStoreUnavailable)
}

type duelBody struct {
	DuelID string `json:"duel_id"`
	A      struct {
		ID     string  `json:"id"`
		Rating float64 `json:"rating"`
	} `json:"a"`
	B struct {
		ID     string  `json:"id"`
		Rating float64 `json:"rating"`
	} `json:"b"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []struct {
		Field string `json:"field"`
		Tag   string `json:"tag"`
	} `json:"fields"`
}

func newStore(ids ...string) *flakyStore {
	store := &flakyStore{TreapStore: repository.NewTreapStore(repository.WithSeed(1)), failing: map[string]bool{}, missing: map[string]bool{}}
	for _, id := range ids {
		_ = store.Put(context.Background(), model.Item{ID: id, Name: strings.ToUpper(id), Rating: model.DefaultRating})
	}
	return store
}

func newMux(store repository.Store) (*http.ServeMux, *service.Service) {
	svc := service.New(store,
		service.WithMatchmaker(matchmaking.New(matchmaking.WithSource(rand.New(rand.NewSource(3))))),
	)
	So(svc.Start(context.Background()), ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(svc, 100, nil).Register(context.Background(), mux)
	return mux, svc
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func openSession(mux http.Handler) string {
	w := do(mux, http.MethodPost, "/sessions", "")
	So(w.Code, ShouldEqual, http.StatusCreated)
	return decode[map[string]string](w)["session_id"]
}

func vote(duelID, winnerID string) string {
	return fmt.Sprintf(`{"duel_id":%q,"winner_id":%q}`, duelID, winnerID)
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux, svc := newMux(newStore("a", "b"))
		defer func() { _ = svc.Stop(context.Background()) }()

		Convey("Health serves Prometheus metrics", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "duel_")
		})

		Convey("Stats reports the population", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			stats := decode[map[string]any](w)
			So(stats["population"], ShouldEqual, 2.0)
			So(stats["started"], ShouldEqual, true)
		})

		Convey("Unknown methods are rejected by the mux", func() {
			w := do(mux, http.MethodPut, "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestSessionsHandler_DuelLoop(t *testing.T) {
	Convey("Given a session over two items", t, func() {
		mux, svc := newMux(newStore("a", "b"))
		defer func() { _ = svc.Stop(context.Background()) }()
		sid := openSession(mux)
		So(sid, ShouldNotBeEmpty)

		w := do(mux, http.MethodGet, "/sessions/"+sid+"/duel", "")
		So(w.Code, ShouldEqual, http.StatusOK)
		duel := decode[duelBody](w)
		So(duel.DuelID, ShouldNotBeEmpty)
		So(duel.A.ID, ShouldNotEqual, duel.B.ID)

		Convey("The same duel is shown until it is decided", func() {
			again := decode[duelBody](do(mux, http.MethodGet, "/sessions/"+sid+"/duel", ""))
			So(again.DuelID, ShouldEqual, duel.DuelID)
		})

		Convey("When A wins", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.A.ID))
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode[map[string]any](w)

			Convey("Then the new ratings and the next duel are returned", func() {
				So(body["status"], ShouldEqual, "applied")
				So(body["delta"], ShouldEqual, 16.0)
				So(body["winner"].(map[string]any)["rating"], ShouldEqual, 1016.0)
				So(body["loser"].(map[string]any)["rating"], ShouldEqual, 984.0)
				next := body["next"].(map[string]any)
				So(next["duel_id"], ShouldNotEqual, duel.DuelID)
			})

			Convey("And a replay is acknowledged as a duplicate", func() {
				w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.B.ID))
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[map[string]any](w)["duplicate"], ShouldEqual, true)
			})

			Convey("And the leaderboard and rank reflect it", func() {
				w := do(mux, http.MethodGet, "/leaderboard?limit=2", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				entries := decode[[]map[string]any](w)
				So(len(entries), ShouldEqual, 2)
				So(entries[0]["id"], ShouldEqual, duel.A.ID)
				So(entries[0]["rank"], ShouldEqual, 1.0)

				w = do(mux, http.MethodGet, "/rank/"+duel.B.ID, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[map[string]any](w)["rank"], ShouldEqual, 2.0)
			})
		})

		Convey("A malformed body is a bad request", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", "{")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Missing fields are reported by name", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", `{"winner_id":"a"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			body := decode[errorBody](w)
			So(body.Code, ShouldEqual, "bad_request")
			So(len(body.Fields), ShouldEqual, 1)
			So(body.Fields[0].Field, ShouldEqual, "DuelID")
			So(body.Fields[0].Tag, ShouldEqual, "required")
		})

		Convey("A winner outside the duel is rejected", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, "zzz"))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode[errorBody](w).Code, ShouldEqual, "not_in_duel")
		})

		Convey("A skipped duel is stale", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/duel/next", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			w = do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.A.ID))
			So(w.Code, ShouldEqual, http.StatusConflict)
		})

		Convey("A closed session is gone", func() {
			w := do(mux, http.MethodDelete, "/sessions/"+sid, "")
			So(w.Code, ShouldEqual, http.StatusNoContent)

			w = do(mux, http.MethodGet, "/sessions/"+sid+"/duel", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("A malformed session id is not found", func() {
			w := do(mux, http.MethodGet, "/sessions/not-a-uuid/duel", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSessionsHandler_Failures(t *testing.T) {
	Convey("Given a library with one item", t, func() {
		mux, svc := newMux(newStore("only"))
		defer func() { _ = svc.Stop(context.Background()) }()
		sid := openSession(mux)

		Convey("Then the duel endpoint reports the empty state", func() {
			w := do(mux, http.MethodGet, "/sessions/"+sid+"/duel", "")
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			body := decode[errorBody](w)
			So(body.Code, ShouldEqual, "insufficient_population")
			So(body.Message, ShouldEqual, "Need at least two items in the library.")
		})
	})

	Convey("Given a store failing the loser's write", t, func() {
		store := newStore("a", "b")
		mux, svc := newMux(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		sid := openSession(mux)
		duel := decode[duelBody](do(mux, http.MethodGet, "/sessions/"+sid+"/duel", ""))

		store.mu.Lock()
		store.failing[duel.B.ID] = true
		store.mu.Unlock()

		Convey("Then the vote is a partial write and the duel is kept", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.A.ID))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decode[errorBody](w).Code, ShouldEqual, "partial_write")

			again := decode[duelBody](do(mux, http.MethodGet, "/sessions/"+sid+"/duel", ""))
			So(again.DuelID, ShouldEqual, duel.DuelID)
		})
	})

	Convey("Given a store that lost the loser between read and write", t, func() {
		store := newStore("a", "b")
		mux, svc := newMux(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		sid := openSession(mux)
		duel := decode[duelBody](do(mux, http.MethodGet, "/sessions/"+sid+"/duel", ""))

		store.mu.Lock()
		store.missing[duel.B.ID] = true
		store.mu.Unlock()

		Convey("Then the vote is still reported as a partial write", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.A.ID))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decode[errorBody](w).Code, ShouldEqual, "partial_write")

			winner, err := store.Get(context.Background(), duel.A.ID)
			So(err, ShouldBeNil)
			So(winner.Rating, ShouldEqual, 1016.0)
		})
	})

	Convey("Given a store that lost both items", t, func() {
		store := newStore("a", "b")
		store.missing["a"], store.missing["b"] = true, true
		mux, svc := newMux(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		sid := openSession(mux)
		duel := decode[duelBody](do(mux, http.MethodGet, "/sessions/"+sid+"/duel", ""))

		Convey("Then the vote is a write failure, not a missing resource", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.A.ID))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decode[errorBody](w).Code, ShouldEqual, "write_failed")
		})
	})

	Convey("Given a store failing both writes", t, func() {
		store := newStore("a", "b")
		store.failing["a"], store.failing["b"] = true, true
		mux, svc := newMux(store)
		defer func() { _ = svc.Stop(context.Background()) }()
		sid := openSession(mux)
		duel := decode[duelBody](do(mux, http.MethodGet, "/sessions/"+sid+"/duel", ""))

		Convey("Then the vote is a plain write failure", func() {
			w := do(mux, http.MethodPost, "/sessions/"+sid+"/votes", vote(duel.DuelID, duel.A.ID))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decode[errorBody](w).Code, ShouldEqual, "write_failed")
		})
	})
}

func TestLeaderboardHandler_HandleGetLeaderboard(t *testing.T) {
	Convey("Given a leaderboard endpoint capped at 100", t, func() {
		mux, svc := newMux(newStore("a", "b", "c"))
		defer func() { _ = svc.Stop(context.Background()) }()

		Convey("No limit returns the default page", func() {
			w := do(mux, http.MethodGet, "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			entries := decode[[]map[string]any](w)
			So(len(entries), ShouldEqual, 3)
			for _, e := range entries {
				So(e["rank"], ShouldEqual, 1.0)
			}
		})

		Convey("Invalid limits are rejected", func() {
			So(do(mux, http.MethodGet, "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leaderboard?limit=x", "").Code, ShouldEqual, http.StatusBadRequest)

			w := do(mux, http.MethodGet, "/leaderboard?limit=101", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode[errorBody](w).Code, ShouldEqual, "limit_exceeded")
		})

		Convey("Unknown items have no rank", func() {
			So(do(mux, http.MethodGet, "/rank/missing", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given an unreachable store", t, func() {
		h := api.NewLeaderboardHandler(brokenBoard{}, 100)
		w := httptest.NewRecorder()
		h.HandleGetLeaderboard(w, httptest.NewRequest(http.MethodGet, "/leaderboard?limit=5", nil))

		Convey("Then the handler answers 503", func() {
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode[errorBody](w).Code, ShouldEqual, "store_unavailable")
		})
	})
}
