package service

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestKeyedMutex(t *testing.T) {
	Convey("Given a keyed mutex", t, func() {
		k := newKeyedMutex()

		Convey("Overlapping id sets never run together", func() {
			var mu sync.Mutex
			inside := map[string]int{}
			violations := 0

			var wg sync.WaitGroup
			pairs := [][]string{{"a", "b"}, {"b", "a"}, {"b", "c"}, {"c", "a"}}
			for w := 0; w < 16; w++ {
				wg.Add(1)
				go func(ids []string) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						unlock := k.Lock(ids...)
						mu.Lock()
						for _, id := range ids {
							inside[id]++
							if inside[id] > 1 {
								violations++
							}
						}
						mu.Unlock()

						mu.Lock()
						for _, id := range ids {
							inside[id]--
						}
						mu.Unlock()
						unlock()
					}
				}(pairs[w%len(pairs)])
			}
			wg.Wait()

			So(violations, ShouldEqual, 0)
			So(k.size(), ShouldEqual, 0)
		})

		Convey("Locking the same id twice in one call does not deadlock", func() {
			unlock := k.Lock("a", "a")
			So(k.size(), ShouldEqual, 1)
			unlock()
			So(k.size(), ShouldEqual, 0)
		})
	})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestService_ExpireSessions(t *testing.T) {
	Convey("Given sessions with a one minute TTL", t, func() {
		ctx := context.Background()
		clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		svc := New(repository.NewTreapStore(), WithSessionTTL(time.Minute), WithClock(clk.Now))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		idle, _ := svc.CreateSession(ctx)
		active, _ := svc.CreateSession(ctx)

		Convey("When only one of them is used within the TTL", func() {
			clk.Advance(45 * time.Second)
			_, err := svc.Session(active.ID())
			So(err, ShouldBeNil)
			clk.Advance(30 * time.Second)

			Convey("Then only the idle one expires", func() {
				So(svc.expireSessions(clk.Now()), ShouldEqual, 1)

				_, err := svc.Session(idle.ID())
				So(err, ShouldNotBeNil)
				_, err = svc.Session(active.ID())
				So(err, ShouldBeNil)
			})
		})
	})
}
