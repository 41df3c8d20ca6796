package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/duel/pkg/logger"
)

// ErrTooFewItems is returned when the library cannot produce a duel.
var ErrTooFewItems = errors.New("simulate: library holds fewer than two items")

// Run plays cfg.Duels votes against the service at cfg.BaseURL with voters
// who prefer items by a hidden strength, then measures how well the learned
// ratings recover that strength.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("simulate")

	log.Info(ctx, "starting duel simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("items", cfg.Items),
		logger.Int("duels", cfg.Duels),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
		logger.Any("seed", cfg.Seed))

	c := newClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	library, err := c.leaderboard(ctx, cfg.Items)
	if err != nil {
		return nil, fmt.Errorf("fetch library: %w", err)
	}
	if len(library) < 2 {
		return nil, ErrTooFewItems
	}
	ids := make([]string, len(library))
	for i, it := range library {
		ids[i] = it.ID
	}
	strength := assignStrengths(ids, cfg.Seed, cfg.Spread)
	stats.Items = len(ids)

	if err := vote(ctx, cfg, c, strength, stats); err != nil {
		return nil, err
	}

	board, err := c.leaderboard(ctx, len(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	stats.Leaderboard = board
	stats.Correlation = correlate(strength, board)
	stats.Duration = time.Since(stats.StartTime)

	log.Info(ctx, "simulation completed",
		logger.Int("applied", stats.Applied),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Float64("spearman", stats.Correlation),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

// vote runs the voters. Each worker owns one session and draws from a shared
// quota of votes.
func vote(ctx context.Context, cfg *Config, c *client, strength map[string]float64, stats *Stats) error {
	var remaining, applied, duplicate, failed, upsets int64
	remaining = int64(cfg.Duels)
	log := logger.Get().Named("simulate")

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(w) + 1)) //nolint:gosec // simulation, not security
		g.Go(func() error {
			session, err := c.openSession(gctx)
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer func() { _ = c.closeSession(context.WithoutCancel(gctx), session) }()

			d, err := c.duel(gctx, session)
			if err != nil {
				return fmt.Errorf("first duel: %w", err)
			}
			for atomic.AddInt64(&remaining, -1) >= 0 {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				winner, loser := d.A.ID, d.B.ID
				if rng.Float64() >= winProbability(strength[winner], strength[loser]) {
					winner, loser = loser, winner
				}
				if strength[winner] < strength[loser] {
					atomic.AddInt64(&upsets, 1)
				}

				res, err := c.vote(gctx, session, d.DuelID, winner)
				switch {
				case err != nil:
					atomic.AddInt64(&failed, 1)
					if cfg.Verbose {
						log.Warn(gctx, "vote failed", logger.String("duel", d.DuelID), logger.Error(err))
					}
				case res.Duplicate:
					atomic.AddInt64(&duplicate, 1)
				default:
					atomic.AddInt64(&applied, 1)
				}

				if err == nil && res.Next != nil {
					d = *res.Next
					continue
				}
				// The session may still hold a spent duel; skip it.
				if d, err = c.next(gctx, session); err != nil {
					return fmt.Errorf("next duel: %w", err)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Applied = int(atomic.LoadInt64(&applied))
	stats.Duplicate = int(atomic.LoadInt64(&duplicate))
	stats.Failed = int(atomic.LoadInt64(&failed))
	stats.Upsets = int(atomic.LoadInt64(&upsets))
	return err
}

// correlate compares hidden strength with learned rating over the items on
// the board.
func correlate(strength map[string]float64, board []Item) float64 {
	var hidden, learned []float64
	for _, it := range board {
		s, ok := strength[it.ID]
		if !ok {
			continue
		}
		hidden = append(hidden, s)
		learned = append(learned, it.Rating)
	}
	return spearman(hidden, learned)
}

// Report writes a human readable summary of stats.
func Report(w io.Writer, stats *Stats, topN int) {
	_, _ = fmt.Fprintf(w, "items:      %d\n", stats.Items)
	_, _ = fmt.Fprintf(w, "applied:    %d\n", stats.Applied)
	_, _ = fmt.Fprintf(w, "duplicate:  %d\n", stats.Duplicate)
	_, _ = fmt.Fprintf(w, "failed:     %d\n", stats.Failed)
	_, _ = fmt.Fprintf(w, "upsets:     %d\n", stats.Upsets)
	_, _ = fmt.Fprintf(w, "spearman:   %.3f\n", stats.Correlation)
	_, _ = fmt.Fprintf(w, "duration:   %s\n", stats.Duration.Round(time.Millisecond))

	n := min(topN, len(stats.Leaderboard))
	if n == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "top %d:\n", n)
	for _, it := range stats.Leaderboard[:n] {
		_, _ = fmt.Fprintf(w, "  %3d. %-24s %8.1f\n", it.Rank, label(it), it.Rating)
	}
}

func label(it Item) string {
	if it.Name != "" {
		return it.Name
	}
	return it.ID
}
