// Package service wires the rating engine, the matchmaker and a rating store
// into duel sessions, and implements the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	eventqueue "github.com/okian/duel/internal/adapters/mq/queue"
	workerpool "github.com/okian/duel/internal/adapters/mq/worker"
	"github.com/okian/duel/internal/adapters/notify"
	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/dedupe"
	"github.com/okian/duel/internal/domain/filter"
	"github.com/okian/duel/internal/domain/matchmaking"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

const (
	defaultWorkerCount = 2
	defaultQueueSize   = 1024
	defaultDedupeSize  = 50_000
	defaultSessionTTL  = 30 * time.Minute
	minCleanupInterval = time.Second
)

// Stats is a point-in-time view of the service.
type Stats struct {
	Started       bool    `json:"started"`
	Sessions      int     `json:"sessions"`
	Population    int     `json:"population"`
	VotesApplied  int64   `json:"votes_applied"`
	Duplicates    int64   `json:"duplicate_votes"`
	PartialWrites int64   `json:"partial_writes"`
	FailedWrites  int64   `json:"failed_writes"`
	QueueLength   int     `json:"queue_length"`
	Workers       int     `json:"workers"`
	KFactor       float64 `json:"k_factor"`
	PageSize      int     `json:"population_page_size"`
	Filter        string  `json:"population_filter,omitempty"`
}

// Service owns the sessions and the shared rating machinery.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	board     repository.Leaderboard
	engine    *rating.Engine
	matcher   *matchmaking.Matchmaker
	filter    *filter.Filter
	deduper   dedupe.Deduper
	locks     *keyedMutex
	queue     eventqueue.Queue
	pool      *workerpool.Pool
	publisher workerpool.Publisher

	// Configuration
	kFactor     float64
	pageSize    int
	workerCount int
	queueSize   int
	dedupeSize  int
	sessionTTL  time.Duration
	now         func() time.Time

	// State
	sessions map[string]*Session
	started  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	votesApplied  atomic.Int64
	duplicates    atomic.Int64
	partialWrites atomic.Int64
	failedWrites  atomic.Int64

	logger logger.Logger
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		kFactor:     rating.DefaultK,
		pageSize:    repository.DefaultPageSize,
		workerCount: defaultWorkerCount,
		queueSize:   defaultQueueSize,
		dedupeSize:  defaultDedupeSize,
		sessionTTL:  defaultSessionTTL,
		now:         time.Now,
		sessions:    make(map[string]*Session),
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.engine = rating.NewEngine(rating.WithK(s.kFactor))
	if s.matcher == nil {
		s.matcher = matchmaking.New()
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.board = repository.LeaderboardFor(store)
	return s
}

// Start creates the event pipeline and the session cleanup loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	log := s.logger
	log.Info(ctx, "starting duel service...")

	if s.publisher == nil {
		s.publisher = notify.NewLogPublisher(log.Named("events"))
	}
	q := eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.queue = q
	s.pool = workerpool.NewPool(q, s.publisher,
		workerpool.WithWorkers(s.workerCount),
		workerpool.WithLogger(log.Named("publisher-pool")),
	)
	s.pool.Start(ctx)

	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.cleanupLoop(s.stopCh, s.loopDone)

	s.started = true
	log.Info(ctx, "duel service started",
		logger.Float64("kFactor", s.kFactor),
		logger.Int("pageSize", s.pageSize),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("sessionTTL", s.sessionTTL),
		logger.String("filter", s.filter.Expression()),
	)
	return nil
}

// Stop drains pending events, stops the cleanup loop and closes the store
// when it can be closed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	pool, loopDone := s.pool, s.loopDone
	s.mu.Unlock()

	log := s.logger
	log.Info(ctx, "stopping duel service...")
	<-loopDone

	var errs []error
	if err := pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain events: %w", err))
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}

	log.Info(ctx, "duel service stopped")
	return errors.Join(errs...)
}

// Seed loads the catalogue into the store. Existing items keep their rating.
func (s *Service) Seed(ctx context.Context, items []model.Item) (int, error) {
	seeder, ok := s.store.(repository.Seeder)
	if !ok {
		return 0, ErrSeedUnsupported
	}
	for i, it := range items {
		if err := seeder.Put(ctx, it); err != nil {
			return i, fmt.Errorf("seed %s: %w", it.ID, err)
		}
	}
	return len(items), nil
}

// Population loads one page of items and applies the population filter.
func (s *Service) Population(ctx context.Context) ([]model.Item, error) {
	items, err := s.store.List(ctx, s.pageSize)
	if err != nil {
		return nil, err
	}
	items, err = s.filter.Apply(items)
	if err != nil {
		return nil, err
	}
	metrics.UpdatePopulationSize(len(items))
	return items, nil
}

func (s *Service) present(ctx context.Context) (Duel, error) {
	items, err := s.Population(ctx)
	if err != nil {
		return Duel{}, err
	}
	pair, err := s.matcher.Select(items)
	if err != nil {
		if errors.Is(err, matchmaking.ErrInsufficientPopulation) {
			metrics.RecordInsufficientPopulation()
		}
		return Duel{}, err
	}
	metrics.RecordDuelPresented()
	return Duel{ID: uuid.NewString(), A: pair.A, B: pair.B, PresentedAt: s.now()}, nil
}

// apply records one outcome. Both participants are locked, re-read from the
// store and written concurrently.
func (s *Service) apply(ctx context.Context, sessionID, duelID, winnerID, loserID string) (VoteResult, error) {
	unlock := s.locks.Lock(winnerID, loserID)
	defer unlock()

	winner, err := s.store.Get(ctx, winnerID)
	if err != nil {
		metrics.RecordVoteError("read")
		return VoteResult{}, fmt.Errorf("read winner: %w", err)
	}
	loser, err := s.store.Get(ctx, loserID)
	if err != nil {
		metrics.RecordVoteError("read")
		return VoteResult{}, fmt.Errorf("read loser: %w", err)
	}

	res := s.engine.Apply(winner, loser)
	if res.Delta != 0 {
		if err := s.write(ctx, res); err != nil {
			return VoteResult{}, err
		}
	}

	s.votesApplied.Add(1)
	metrics.RecordVoteApplied(res.Delta, res.Expected)
	s.publish(ctx, model.RatingChange{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		DuelID:    duelID,
		WinnerID:  winner.ID,
		LoserID:   loser.ID,
		WinnerOld: winner.Rating,
		WinnerNew: res.Winner.Rating,
		LoserOld:  loser.Rating,
		LoserNew:  res.Loser.Rating,
		Delta:     res.Delta,
		Expected:  res.Expected,
		TS:        s.now().UTC(),
	})

	return VoteResult{
		DuelID:   duelID,
		Winner:   res.Winner,
		Loser:    res.Loser,
		Delta:    res.Delta,
		Expected: res.Expected,
	}, nil
}

func (s *Service) write(ctx context.Context, res rating.Result) error {
	var winnerErr, loserErr error
	var g errgroup.Group
	g.Go(func() error {
		winnerErr = s.store.Write(ctx, res.Winner.ID, res.Winner.Rating)
		return winnerErr
	})
	g.Go(func() error {
		loserErr = s.store.Write(ctx, res.Loser.ID, res.Loser.Rating)
		return loserErr
	})
	_ = g.Wait()

	switch {
	case winnerErr == nil && loserErr == nil:
		return nil
	case winnerErr != nil && loserErr != nil:
		s.failedWrites.Add(1)
		metrics.RecordVoteError("write_failed")
		return fmt.Errorf("%w: %w", repository.ErrWriteFailed, errors.Join(winnerErr, loserErr))
	}

	s.partialWrites.Add(1)
	metrics.RecordPartialWrite()
	perr := &PartialWriteError{Applied: res.Winner.ID, Failed: res.Loser.ID, Err: loserErr}
	if winnerErr != nil {
		perr = &PartialWriteError{Applied: res.Loser.ID, Failed: res.Winner.ID, Err: winnerErr}
	}
	s.logger.Error(ctx, "rating write applied to one side only",
		logger.String("applied", perr.Applied),
		logger.String("failed", perr.Failed),
		logger.Error(perr.Err),
	)
	return perr
}

func (s *Service) publish(ctx context.Context, ev model.RatingChange) { //nolint:gocritic // hugeParam: events travel by value
	s.mu.RLock()
	q, started := s.queue, s.started
	s.mu.RUnlock()
	if !started {
		return
	}
	if err := q.Enqueue(ctx, ev); err != nil {
		s.logger.Warn(ctx, "rating change not published",
			logger.String("duel_id", ev.DuelID),
			logger.Error(err),
		)
	}
}

// CreateSession opens a new duel session.
func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrNotStarted
	}
	sess := newSession(uuid.NewString(), s)
	s.sessions[sess.id] = sess
	metrics.UpdateActiveSessions(len(s.sessions))
	s.logger.Debug(ctx, "session created", logger.String("session_id", sess.id))
	return sess, nil
}

// Session returns a live session and marks it as used.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.touch()
	return sess, nil
}

// CloseSession ends a session. Its unvoted duel is discarded.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	metrics.UpdateActiveSessions(len(s.sessions))
	s.logger.Debug(ctx, "session closed", logger.String("session_id", id))
	return nil
}

// expireSessions drops sessions idle for longer than the TTL.
func (s *Service) expireSessions(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen()) > s.sessionTTL {
			delete(s.sessions, id)
			expired++
		}
	}
	if expired > 0 {
		metrics.RecordSessionsExpired(expired)
		metrics.UpdateActiveSessions(len(s.sessions))
	}
	return expired
}

func (s *Service) cleanupLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := max(s.sessionTTL/4, minCleanupInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := s.expireSessions(s.now()); n > 0 {
				s.logger.Debug(context.Background(), "expired idle sessions", logger.Int("count", n))
			}
		}
	}
}

// TopN returns the n best rated items.
func (s *Service) TopN(ctx context.Context, n int) ([]repository.Entry, error) {
	return s.board.TopN(ctx, n)
}

// Rank returns the rank and rating of one item.
func (s *Service) Rank(ctx context.Context, id string) (repository.Entry, error) {
	return s.board.Rank(ctx, id)
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	st := Stats{
		Started:       s.started,
		Sessions:      len(s.sessions),
		VotesApplied:  s.votesApplied.Load(),
		Duplicates:    s.duplicates.Load(),
		PartialWrites: s.partialWrites.Load(),
		FailedWrites:  s.failedWrites.Load(),
		Workers:       s.workerCount,
		KFactor:       s.engine.K(),
		PageSize:      s.pageSize,
		Filter:        s.filter.Expression(),
	}
	if s.started {
		st.QueueLength = s.queue.Len()
	}
	s.mu.RUnlock()

	n, err := s.board.Count(ctx)
	if err != nil {
		return st, err
	}
	st.Population = n
	metrics.UpdatePopulationSize(n)
	return st, nil
}
