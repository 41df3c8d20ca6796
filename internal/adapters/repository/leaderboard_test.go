package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/okian/duel/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// listOnly hides every capability but Store.
type listOnly struct{ Store }

// limitRecorder remembers the limits List was called with.
type limitRecorder struct {
	Store
	limits []int
}

func (l *limitRecorder) List(ctx context.Context, limit int) ([]model.Item, error) {
	l.limits = append(l.limits, limit)
	return l.Store.List(ctx, limit)
}

type brokenStore struct{ Store }

func (brokenStore) List(context.Context, int) ([]model.Item, error) {
	return nil, ErrStoreUnavailable
}

func TestLeaderboardFor(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store that ranks natively", t, func() {
		store := NewTreapStore()

		Convey("Then it is used directly", func() {
			So(LeaderboardFor(store), ShouldEqual, store)
		})
	})

	Convey("Given a store that can only list", t, func() {
		inner := NewTreapStore(WithSeed(9))
		for id, r := range map[string]float64{"a": 1000, "b": 1100, "c": 1100, "d": 900} {
			So(inner.Put(ctx, model.Item{ID: id, Rating: r}), ShouldBeNil)
		}
		lb := LeaderboardFor(listOnly{inner})

		Convey("When asking for the top entries", func() {
			top, err := lb.TopN(ctx, 3)

			Convey("Then they are ranked with shared ranks for ties", func() {
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 3)
				So(top[0].Item.ID, ShouldEqual, "b")
				So(top[0].Rank, ShouldEqual, 1)
				So(top[1].Item.ID, ShouldEqual, "c")
				So(top[1].Rank, ShouldEqual, 1)
				So(top[2].Item.ID, ShouldEqual, "a")
				So(top[2].Rank, ShouldEqual, 3)
			})
		})

		Convey("When asking for one item's rank", func() {
			e, err := lb.Rank(ctx, "d")

			Convey("Then it matches the native ranking", func() {
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 4)
				native, _ := inner.Rank(ctx, "d")
				So(native.Rank, ShouldEqual, e.Rank)
			})
		})

		Convey("When the item is unknown", func() {
			_, err := lb.Rank(ctx, "zz")

			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Then the count and limit checks hold", func() {
			n, err := lb.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 4)
			_, err = lb.TopN(ctx, 0)
			So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
		})
	})

	Convey("Given a store that is down", t, func() {
		lb := LeaderboardFor(brokenStore{})

		Convey("Then the failure is passed through", func() {
			_, err := lb.TopN(ctx, 5)
			So(errors.Is(err, ErrStoreUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given a list-only library larger than a population page", t, func() {
		inner := NewTreapStore(WithSeed(3))
		const size = DefaultPageSize + 100
		for i := 0; i < size; i++ {
			So(inner.Put(ctx, model.Item{ID: fmt.Sprintf("item-%04d", i), Rating: float64(2000 - i)}), ShouldBeNil)
		}
		rec := &limitRecorder{Store: inner}
		lb := LeaderboardFor(rec)

		Convey("Then every item is counted and ranked", func() {
			n, err := lb.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, size)

			last, err := lb.Rank(ctx, fmt.Sprintf("item-%04d", size-1))
			So(err, ShouldBeNil)
			So(last.Rank, ShouldEqual, size)

			for _, limit := range rec.limits {
				So(limit, ShouldEqual, 0)
			}
		})
	})
}
