// Package worker drains the rating-change queue and hands each event to a
// publisher.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/duel/internal/adapters/mq/queue"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkers        = 2
	defaultPublishTimeout = 5 * time.Second
)

// Publisher delivers one event downstream.
type Publisher interface {
	Publish(ctx context.Context, e queue.Event) error
}

// Source is where workers read events from.
type Source interface {
	Events() <-chan queue.Event
	Close() error
}

// Pool runs a fixed number of publishing workers.
type Pool struct {
	src            Source
	pub            Publisher
	size           int
	publishTimeout time.Duration
	logger         logger.Logger

	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewPool creates a worker pool reading src and writing to pub.
func NewPool(src Source, pub Publisher, opts ...Option) *Pool {
	p := &Pool{
		src:            src,
		pub:            pub,
		size:           defaultWorkers,
		publishTimeout: defaultPublishTimeout,
		logger:         logger.Get().Named("publisher-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. Workers exit once the source is closed and
// drained; ctx only bounds individual publish calls.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		metrics.UpdateWorkerCount(p.size)
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.run(context.WithoutCancel(ctx), p.logger.Named("worker-"+strconv.Itoa(i)))
		}
	})
}

func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()
	for ev := range p.src.Events() {
		if err := p.publish(ctx, ev); err != nil {
			log.Error(ctx, "publish failed",
				logger.String("event_id", ev.EventID),
				logger.String("duel_id", ev.DuelID),
				logger.Error(err),
			)
		}
	}
}

func (p *Pool) publish(ctx context.Context, ev queue.Event) error { //nolint:gocritic // hugeParam: events travel by value
	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	start := time.Now()
	err := p.pub.Publish(ctx, ev)
	metrics.RecordEventPublished(float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventID, err)
	}
	return nil
}

// Shutdown closes the source and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.src.Close(); err != nil {
		p.logger.Error(ctx, "error closing event source", logger.Error(err))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "publisher shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
