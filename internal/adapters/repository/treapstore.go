package repository

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: rating DESC, then id ASC (deterministic). "less" means ranks
// earlier, so in-order traversal yields the leaderboard from best to worst.
// Subtree sizes make rank queries O(log n) expected.

type node struct {
	id     string
	rating float64
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aRating float64, aID string, bRating float64, bID string) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n, in *node) *node {
	if n == nil {
		in.size = 1
		return in
	}
	if less(in.rating, in.id, n.rating, n.id) {
		n.left = insert(n.left, in)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, in)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, rating float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.rating == rating:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, rating)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, rating)
		}
	case less(rating, id, n.rating, n.id):
		n.left = remove(n.left, id, rating)
	default:
		n.right = remove(n.right, id, rating)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes are rated strictly higher than rating.
func countAbove(n *node, rating float64) int {
	count := 0
	for n != nil {
		if n.rating > rating {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// walk visits nodes in rank order until visit returns false.
func walk(n *node, visit func(*node) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.left, visit) {
		return false
	}
	if !visit(n) {
		return false
	}
	return walk(n.right, visit)
}

// TreapStore keeps the whole population in memory, ordered by rating.
type TreapStore struct {
	mu      sync.RWMutex
	root    *node
	byID    map[string]model.Item
	rng     *rand.Rand
	seed    uint64
	backend string
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:    make(map[string]model.Item),
		seed:    uint64(time.Now().UnixNano()),
		backend: "memory",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15)) //nolint:gosec // treap priorities need no crypto randomness
	return s
}

func (s *TreapStore) observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := tracing.StartStoreSpan(ctx, s.backend, op)
	return ctx, func(err error) {
		metrics.RecordStoreOp(s.backend, op, start, err)
		end(err)
	}
}

// Put implements Seeder.
func (s *TreapStore) Put(ctx context.Context, item model.Item) (err error) {
	_, done := s.observe(ctx, "put")
	defer func() { done(err) }()

	if item.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if math.IsNaN(item.Rating) || math.IsInf(item.Rating, 0) {
		return fmt.Errorf("%w: non-finite rating for %s", ErrInvalidItem, item.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[item.ID]; ok {
		item.Rating = old.Rating
		s.byID[item.ID] = item
		return nil
	}
	s.byID[item.ID] = item
	s.root = insert(s.root, &node{id: item.ID, rating: item.Rating, prio: s.rng.Uint64()})
	return nil
}

// List implements Store. Items come back in rank order.
func (s *TreapStore) List(ctx context.Context, limit int) (items []model.Item, err error) {
	_, done := s.observe(ctx, "list")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.byID)
	if limit > 0 && limit < n {
		n = limit
	}
	items = make([]model.Item, 0, n)
	walk(s.root, func(nd *node) bool {
		if len(items) >= n {
			return false
		}
		items = append(items, s.byID[nd.id])
		return true
	})
	return items, nil
}

// Get implements Store.
func (s *TreapStore) Get(ctx context.Context, id string) (item model.Item, err error) {
	_, done := s.observe(ctx, "get")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.byID[id]
	if !ok {
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// Write implements Store with O(log n) expected time.
func (s *TreapStore) Write(ctx context.Context, id string, rating float64) (err error) {
	_, done := s.observe(ctx, "write")
	defer func() { done(err) }()

	if math.IsNaN(rating) || math.IsInf(rating, 0) {
		return fmt.Errorf("%w: non-finite rating for %s", ErrWriteFailed, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Rating == rating {
		return nil
	}
	s.root = remove(s.root, id, item.Rating)
	item.Rating = rating
	s.byID[id] = item
	s.root = insert(s.root, &node{id: id, rating: rating, prio: s.rng.Uint64()})
	return nil
}

// TopN implements Leaderboard.
func (s *TreapStore) TopN(ctx context.Context, n int) (out []Entry, err error) {
	_, done := s.observe(ctx, "top_n")
	defer func() { done(err) }()

	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out = make([]Entry, 0, min(n, len(s.byID)))
	walk(s.root, func(nd *node) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, Entry{Item: s.byID[nd.id]})
		return true
	})
	AssignRanks(out)
	return out, nil
}

// Rank implements Leaderboard in O(log n) expected time.
func (s *TreapStore) Rank(ctx context.Context, id string) (e Entry, err error) {
	_, done := s.observe(ctx, "rank")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Entry{Rank: countAbove(s.root, item.Rating) + 1, Item: item}, nil
}

// Count implements Leaderboard.
func (s *TreapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}
