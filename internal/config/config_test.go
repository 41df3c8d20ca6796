package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/duel/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it has sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.KFactor, convey.ShouldEqual, 32)
			convey.So(cfg.PopulationPageSize, convey.ShouldEqual, 500)
			convey.So(cfg.DefaultRating, convey.ShouldEqual, 1000)
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.SessionTTL, convey.ShouldEqual, 30*time.Minute)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":        func(c *config.Config) { c.Addr = "" },
			"zero k":            func(c *config.Config) { c.KFactor = 0 },
			"tiny page":         func(c *config.Config) { c.PopulationPageSize = 1 },
			"unknown store":     func(c *config.Config) { c.Store = "etcd" },
			"postgres no dsn":   func(c *config.Config) { c.Store = config.StorePostgres },
			"stash no url":      func(c *config.Config) { c.Store = config.StoreStash },
			"redis no addr":     func(c *config.Config) { c.Store = config.StoreRedis; c.RedisAddr = "" },
			"negative ttl":      func(c *config.Config) { c.SessionTTL = -time.Second },
			"sample rate":       func(c *config.Config) { c.TracingSampleRate = 1.5 },
			"leaderboard cap":   func(c *config.Config) { c.MaxLeaderboardLimit = 0 },
			"item without id":   func(c *config.Config) { c.Items = []config.ItemConfig{{Name: "x"}} },
			"duplicate item id": func(c *config.Config) { c.Items = []config.ItemConfig{{ID: "a"}, {ID: "a"}} },
		}

		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			if err == nil {
				t.Errorf("%s: expected an error", name)
			}
		}
	})
}

func TestConfig_Catalogue(t *testing.T) {
	convey.Convey("Given configured items", t, func() {
		r := 1250.0
		cfg := config.New()
		cfg.DefaultRating = 1500
		cfg.Items = []config.ItemConfig{
			{ID: "a", Name: "Alpha", ImagePath: "/a.png", Rating: &r},
			{ID: "b"},
		}

		convey.Convey("Then missing ratings and names are filled in", func() {
			items := cfg.Catalogue()
			convey.So(items, convey.ShouldHaveLength, 2)
			convey.So(items[0].Rating, convey.ShouldEqual, 1250)
			convey.So(items[0].ImagePath, convey.ShouldEqual, "/a.png")
			convey.So(items[1].Rating, convey.ShouldEqual, 1500)
			convey.So(items[1].Name, convey.ShouldEqual, "b")
		})
	})
}
