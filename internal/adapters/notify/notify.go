// Package notify delivers rating-change events to the outside world.
package notify

import (
	"context"
	"errors"

	"github.com/okian/duel/internal/adapters/mq/queue"
	"github.com/okian/duel/pkg/logger"
)

// Publisher delivers one event.
type Publisher interface {
	Publish(ctx context.Context, e queue.Event) error
}

// Fanout publishes every event to all of its publishers and joins their
// errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, e queue.Event) error { //nolint:gocritic // hugeParam: events travel by value
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the logger. It is used when no broker is
// configured.
type LogPublisher struct {
	log logger.Logger
}

// NewLogPublisher creates a publisher writing to l.
func NewLogPublisher(l logger.Logger) *LogPublisher {
	return &LogPublisher{log: l}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, e queue.Event) error { //nolint:gocritic // hugeParam: events travel by value
	p.log.Info(ctx, "rating changed",
		logger.String("duel_id", e.DuelID),
		logger.String("winner", e.WinnerID),
		logger.String("loser", e.LoserID),
		logger.Float64("winner_new", e.WinnerNew),
		logger.Float64("loser_new", e.LoserNew),
		logger.Float64("delta", e.Delta),
	)
	return nil
}
