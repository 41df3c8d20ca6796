package worker

import (
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithWorkers sets how many goroutines publish concurrently.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPublishTimeout bounds a single publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
