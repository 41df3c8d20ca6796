package service

import (
	"time"

	"github.com/okian/duel/internal/adapters/mq/worker"
	"github.com/okian/duel/internal/domain/filter"
	"github.com/okian/duel/internal/domain/matchmaking"
	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithKFactor sets the Elo K-factor.
func WithKFactor(k float64) Option {
	return func(s *Service) {
		if k > 0 {
			s.kFactor = k
		}
	}
}

// WithPageSize sets how many items are loaded per duel.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithFilter restricts the population duels are drawn from.
func WithFilter(f *filter.Filter) Option {
	return func(s *Service) {
		s.filter = f
	}
}

// WithMatchmaker replaces the default matchmaker, e.g. with a seeded one.
func WithMatchmaker(m *matchmaking.Matchmaker) Option {
	return func(s *Service) {
		if m != nil {
			s.matcher = m
		}
	}
}

// WithPublisher sets where rating-change events go. Without one, events are
// logged.
func WithPublisher(p worker.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithWorkerCount sets the number of publishing workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many voted duel ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
