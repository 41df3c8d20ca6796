package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/model"
)

// testStore connects to DUEL_TEST_REDIS_ADDR (default localhost:6379) or
// skips when nothing answers.
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("DUEL_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := Dial(ctx, addr, 0, WithPrefix("duel-test-"+uuid.NewString()))
	if err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		s.client.Del(context.Background(), s.ratingsKey(), s.itemsKey())
		_ = s.Close()
	})
	return s
}

func TestStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	Convey("Given a seeded redis store", t, func() {
		s.client.Del(ctx, s.ratingsKey(), s.itemsKey())
		So(s.Put(ctx, model.Item{ID: "a", Name: "Alpha", ImagePath: "/a.jpg", Rating: 1000}), ShouldBeNil)
		So(s.Put(ctx, model.Item{ID: "b", Name: "Beta", Rating: 1100}), ShouldBeNil)
		So(s.Put(ctx, model.Item{ID: "c", Name: "Gamma", Rating: 1100}), ShouldBeNil)

		Convey("When listing", func() {
			items, err := s.List(ctx, 0)

			Convey("Then every item comes back with its rating", func() {
				So(err, ShouldBeNil)
				So(items, ShouldHaveLength, 3)
				So(items[0], ShouldResemble, model.Item{ID: "a", Name: "Alpha", ImagePath: "/a.jpg", Rating: 1000})
			})

			Convey("And the limit is a ceiling", func() {
				page, err := s.List(ctx, 2)
				So(err, ShouldBeNil)
				So(page, ShouldHaveLength, 2)
			})
		})

		Convey("When writing a rating", func() {
			So(s.Write(ctx, "a", 1016), ShouldBeNil)

			Convey("Then only the rating changes", func() {
				it, err := s.Get(ctx, "a")
				So(err, ShouldBeNil)
				So(it.Rating, ShouldEqual, 1016)
				So(it.Name, ShouldEqual, "Alpha")
			})
		})

		Convey("When re-seeding an existing item", func() {
			So(s.Write(ctx, "a", 1200), ShouldBeNil)
			So(s.Put(ctx, model.Item{ID: "a", Name: "Alpha 2", Rating: 1000}), ShouldBeNil)

			Convey("Then its rating is kept", func() {
				it, _ := s.Get(ctx, "a")
				So(it.Rating, ShouldEqual, 1200)
				So(it.Name, ShouldEqual, "Alpha 2")
			})
		})

		Convey("When an item has metadata but no rating", func() {
			s.client.HSet(ctx, s.itemsKey(), "d", `{"name":"Delta"}`)

			Convey("Then the default rating is substituted", func() {
				it, err := s.Get(ctx, "d")
				So(err, ShouldBeNil)
				So(it.Rating, ShouldEqual, model.DefaultRating)
			})
		})

		Convey("When ranking", func() {
			top, err := s.TopN(ctx, 3)

			Convey("Then ties share a rank and are ordered by id", func() {
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 3)
				So(top[0].Item.ID, ShouldEqual, "b")
				So(top[0].Rank, ShouldEqual, 1)
				So(top[1].Item.ID, ShouldEqual, "c")
				So(top[1].Rank, ShouldEqual, 1)
				So(top[2].Item.ID, ShouldEqual, "a")
				So(top[2].Rank, ShouldEqual, 3)

				e, err := s.Rank(ctx, "a")
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 3)

				n, err := s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
			})
		})

		Convey("When the item is unknown", func() {
			_, getErr := s.Get(ctx, "zz")
			writeErr := s.Write(ctx, "zz", 1000)

			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(getErr, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(writeErr, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestStoreUnavailable(t *testing.T) {
	Convey("Given a client pointed at a closed port", t, func() {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
		s := New(client)
		defer s.Close()

		Convey("Then reads and writes report the store as down", func() {
			_, err := s.List(context.Background(), 10)
			So(errors.Is(err, repository.ErrStoreUnavailable), ShouldBeTrue)

			err = s.Write(context.Background(), "a", 1000)
			So(errors.Is(err, repository.ErrWriteFailed), ShouldBeTrue)
		})
	})
}
