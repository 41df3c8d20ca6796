package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// Duel is one presented pair awaiting a decision.
type Duel struct {
	ID          string
	A           model.Item
	B           model.Item
	PresentedAt time.Time
}

// Pair returns the contestants.
func (d *Duel) Pair() model.Pair {
	return model.Pair{A: d.A, B: d.B}
}

// VoteResult describes an accepted vote. Duplicate votes carry only DuelID.
type VoteResult struct {
	DuelID    string
	Duplicate bool
	Winner    model.Item
	Loser     model.Item
	Delta     float64
	Expected  float64
}

// Session is one user's duel loop: present a pair, take a decision, repeat.
// A session holds at most one current duel.
type Session struct {
	id      string
	svc     *Service
	created time.Time
	seen    atomic.Int64

	mu      sync.Mutex
	current *Duel
	votes   int
}

func newSession(id string, svc *Service) *Session {
	now := svc.now()
	sess := &Session{id: id, svc: svc, created: now}
	sess.seen.Store(now.UnixNano())
	return sess
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Created returns when the session was opened.
func (s *Session) Created() time.Time { return s.created }

// Votes returns how many votes this session applied.
func (s *Session) Votes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votes
}

func (s *Session) touch() { s.seen.Store(s.svc.now().UnixNano()) }

func (s *Session) lastSeen() time.Time { return time.Unix(0, s.seen.Load()) }

// Current returns the duel awaiting a decision.
func (s *Session) Current() (Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Duel{}, ErrNoActiveDuel
	}
	return *s.current, nil
}

// Duel returns the current duel, presenting a new one when there is none.
func (s *Session) Duel(ctx context.Context) (Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return *s.current, nil
	}
	return s.nextLocked(ctx)
}

// Next discards the current duel, if any, and presents a fresh pair.
func (s *Session) Next(ctx context.Context) (Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked(ctx)
}

func (s *Session) nextLocked(ctx context.Context) (Duel, error) {
	s.touch()
	d, err := s.svc.present(ctx)
	if err != nil {
		s.current = nil
		return Duel{}, err
	}
	s.current = &d
	return d, nil
}

// Choose records winnerID as the winner of duel duelID.
//
// A replayed duel id is acknowledged as a duplicate and changes nothing. When
// a rating write fails the session keeps the duel. A duel whose write failed
// on both sides can be voted again; after a partial write it is spent and the
// caller must ask for the next pair.
func (s *Session) Choose(ctx context.Context, duelID, winnerID string) (res VoteResult, err error) {
	ctx, end := tracing.StartSpan(ctx, "session.choose",
		attribute.String("session.id", s.id),
		attribute.String("duel.id", duelID),
	)
	defer func() { end(err) }()

	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	svc := s.svc
	if s.current == nil || s.current.ID != duelID {
		if svc.deduper.Contains(ctx, duelID) {
			return s.duplicate(ctx, duelID), nil
		}
		if s.current == nil {
			metrics.RecordVoteError("no_active_duel")
			return VoteResult{}, ErrNoActiveDuel
		}
		metrics.RecordVoteError("stale_duel")
		return VoteResult{}, fmt.Errorf("%w: %s", ErrStaleDuel, duelID)
	}

	loser, ok := s.current.Pair().Other(winnerID)
	if !ok {
		metrics.RecordVoteError("not_in_duel")
		return VoteResult{}, fmt.Errorf("%w: %s", ErrNotInDuel, winnerID)
	}

	if svc.deduper.SeenAndRecord(ctx, duelID) {
		return s.duplicate(ctx, duelID), nil
	}

	res, err = svc.apply(ctx, s.id, duelID, winnerID, loser.ID)
	if err != nil {
		if !errors.Is(err, ErrPartialWrite) {
			svc.deduper.Forget(ctx, duelID)
		}
		return VoteResult{}, err
	}

	s.current = nil
	s.votes++
	svc.logger.Debug(ctx, "vote applied",
		logger.String("session_id", s.id),
		logger.String("duel_id", duelID),
		logger.String("winner", res.Winner.ID),
		logger.String("loser", res.Loser.ID),
		logger.Float64("delta", res.Delta),
	)
	return res, nil
}

func (s *Session) duplicate(ctx context.Context, duelID string) VoteResult {
	s.svc.duplicates.Add(1)
	metrics.RecordVoteDuplicate()
	s.svc.logger.Debug(ctx, "duplicate vote ignored",
		logger.String("session_id", s.id),
		logger.String("duel_id", duelID),
	)
	return VoteResult{DuelID: duelID, Duplicate: true}
}
