package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/duel/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it loads the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.KFactor, convey.ShouldEqual, 32)
				convey.So(cfg.Store, convey.ShouldEqual, "memory")
			})
		})

		convey.Convey("When loading with environment variables", func() {
			_ = os.Setenv("DUEL_ADDR", ":8080")
			_ = os.Setenv("DUEL_K_FACTOR", "24")
			_ = os.Setenv("DUEL_POPULATION_PAGE_SIZE", "100")
			_ = os.Setenv("DUEL_SESSION_TTL", "5m")
			_ = os.Setenv("DUEL_TRACING_ENABLED", "true")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.KFactor, convey.ShouldEqual, 24)
				convey.So(cfg.PopulationPageSize, convey.ShouldEqual, 100)
				convey.So(cfg.SessionTTL, convey.ShouldEqual, 5*time.Minute)
				convey.So(cfg.TracingEnabled, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading a YAML file with a catalogue", func() {
			clearConfigEnvVars()
			path := filepath.Join(t.TempDir(), "duel.yaml")
			content := `
addr: ":7070"
k_factor: 16
population_filter: 'item.rating > 0.0'
items:
  - id: a
    name: Alpha
    image_path: /img/a.jpg
  - id: b
    name: Beta
    rating: 1100
`
			convey.So(os.WriteFile(path, []byte(content), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("DUEL_CONFIG", path)
			_ = os.Setenv("DUEL_K_FACTOR", "40")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file is applied and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.KFactor, convey.ShouldEqual, 40)
				convey.So(cfg.PopulationFilter, convey.ShouldEqual, "item.rating > 0.0")
				convey.So(cfg.Items, convey.ShouldHaveLength, 2)
				convey.So(cfg.Items[0].ImagePath, convey.ShouldEqual, "/img/a.jpg")
				convey.So(cfg.Items[0].Rating, convey.ShouldBeNil)
				convey.So(*cfg.Items[1].Rating, convey.ShouldEqual, 1100)
			})
		})

		convey.Convey("When the file does not exist", func() {
			_ = os.Setenv("DUEL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the result is invalid", func() {
			_ = os.Setenv("DUEL_STORE", "postgres")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"DUEL_CONFIG", "DUEL_ADDR", "DUEL_K_FACTOR", "DUEL_POPULATION_PAGE_SIZE",
		"DUEL_SESSION_TTL", "DUEL_TRACING_ENABLED", "DUEL_STORE",
	} {
		_ = os.Unsetenv(k)
	}
}
