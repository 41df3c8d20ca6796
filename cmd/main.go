package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/okian/duel/internal/adapters/http/api"
	"github.com/okian/duel/internal/adapters/http/site"
	"github.com/okian/duel/internal/adapters/http/swagger"
	"github.com/okian/duel/internal/adapters/mq/worker"
	"github.com/okian/duel/internal/adapters/notify"
	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/adapters/repository/pgstore"
	"github.com/okian/duel/internal/adapters/repository/redisstore"
	"github.com/okian/duel/internal/adapters/repository/stashstore"
	app "github.com/okian/duel/internal/app"
	"github.com/okian/duel/internal/config"
	"github.com/okian/duel/internal/domain/filter"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(context.Background(), "duel exited", logger.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: stop was called above
	}
	_ = logger.Sync()
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "text" {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			return err
		}
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:  "duel",
		Enabled:      cfg.TracingEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		Insecure:     true,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info(ctx, "rating store ready", logger.String("store", cfg.Store))

	popFilter, err := filter.New(cfg.PopulationFilter)
	if err != nil {
		return err
	}

	hub := notify.NewHub(log.Named("live"))
	publisher, err := newPublisher(cfg, log, hub)
	if err != nil {
		return err
	}

	svc := app.New(store,
		app.WithLogger(log.Named("service")),
		app.WithKFactor(cfg.KFactor),
		app.WithPageSize(cfg.PopulationPageSize),
		app.WithFilter(popFilter),
		app.WithPublisher(publisher),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.VoteDedupeSize),
		app.WithSessionTTL(cfg.SessionTTL),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	if items := cfg.Catalogue(); len(items) > 0 {
		n, err := svc.Seed(ctx, items)
		switch {
		case errors.Is(err, app.ErrSeedUnsupported):
			log.Warn(ctx, "store does not accept a catalogue; items ignored", logger.String("store", cfg.Store))
		case err != nil:
			return err
		default:
			log.Info(ctx, "catalogue seeded", logger.Int("items", n))
		}
	}

	go startServiceMetricsUpdater(ctx, svc, metrics.RefreshInterval())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc, hub, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore connects the configured rating backend.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisDB,
			redisstore.WithPrefix(cfg.RedisPrefix),
			redisstore.WithDefaultRating(cfg.DefaultRating),
		)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		s, err := pgstore.Open(ctx, cfg.PostgresDSN,
			pgstore.WithTable(cfg.PostgresTable),
			pgstore.WithDefaultRating(cfg.DefaultRating),
		)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case config.StoreStash:
		return stashstore.New(cfg.StashURL,
			stashstore.WithAPIKey(cfg.StashAPIKey),
			stashstore.WithDefaultRating(cfg.DefaultRating),
		), nil
	default:
		return repository.NewTreapStore(), nil
	}
}

// newPublisher fans rating changes out to the live hub and to NATS when
// configured, otherwise to the log.
func newPublisher(cfg *config.Config, log logger.Logger, hub *notify.Hub) (worker.Publisher, error) {
	if cfg.NATSURL == "" {
		return notify.Fanout{hub, notify.NewLogPublisher(log.Named("events"))}, nil
	}
	nc, err := notify.ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, err
	}
	log.Info(context.Background(), "publishing rating changes to NATS", logger.String("subject", nc.Subject()))
	return closingFanout{Fanout: notify.Fanout{hub, nc}, nats: nc}, nil
}

// closingFanout closes the NATS connection when the service stops.
type closingFanout struct {
	notify.Fanout
	nats *notify.NATSPublisher
}

func (f closingFanout) Close() error { return f.nats.Close() }

// newHandler builds the HTTP routes. Everything but the websocket stream is
// traced.
func newHandler(ctx context.Context, svc *app.Service, hub *notify.Hub, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	site.Register(ctx, mux)
	api.NewServer(svc, cfg.MaxLeaderboardLimit, hub).Register(ctx, mux)

	traced := otelhttp.NewHandler(mux, "duel.http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events" {
			mux.ServeHTTP(w, r)
			return
		}
		traced.ServeHTTP(w, r)
	})
}

// startServiceMetricsUpdater refreshes gauges derived from service stats
// every interval until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = svc.Stats(ctx)
		}
	}
}
