package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/duel/internal/simulate"
	"github.com/okian/duel/pkg/logger"
)

// Default configuration constants.
const (
	defaultWorkers  = 2 // multiplier for runtime.NumCPU()
	defaultDeadline = 10 * time.Minute
)

func main() {
	var (
		baseURL = flag.String("url", simulate.DefaultBaseURL, "Base URL of the service")
		items   = flag.Int("items", simulate.DefaultItems, "Number of items to rank; must not exceed the server's leaderboard cap")
		duels   = flag.Int("duels", simulate.DefaultDuels, "Number of votes to cast")
		workers = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent voters")
		timeout = flag.Duration("timeout", simulate.DefaultTimeout, "HTTP request timeout")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "Seed for hidden strengths and voter choices")
		spread  = flag.Float64("spread", simulate.DefaultSpread, "Strength gap between the weakest and strongest item")
		topN    = flag.Int("top", simulate.DefaultTopN, "Leaderboard entries to print")
		format  = flag.String("log-format", "text", "Log format: text or json")
		verbose = flag.Bool("verbose", false, "Log every failed vote")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*format)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultDeadline)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL: *baseURL,
		Items:   *items,
		Duels:   *duels,
		Workers: *workers,
		Timeout: *timeout,
		Seed:    *seed,
		Spread:  *spread,
		TopN:    *topN,
		Verbose: *verbose,
	}

	stats, err := simulate.Run(ctx, cfg)
	if err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		return
	}
	simulate.Report(os.Stdout, stats, cfg.TopN)
}
