// Package matchmaking selects which two items are compared next.
//
// Selection runs in two phases. The population is shuffled first, and the
// first shuffled item becomes the anchor. The remaining items are then ordered
// by closeness to the anchor's rating and the closest one is its opponent.
// Every item is the anchor with probability 1/N, so no item starves, while the
// opponent is the most informative match available for that anchor.
package matchmaking

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Source is the randomness the shuffle phase draws from. *rand.Rand
// satisfies it.
type Source interface {
	Shuffle(n int, swap func(i, j int))
}

// Matchmaker picks pairs. It is safe for concurrent use.
type Matchmaker struct {
	mu  sync.Mutex
	src Source
}

// New creates a matchmaker with configuration options. Without WithSource the
// matchmaker uses a time-seeded source.
func New(opts ...Option) *Matchmaker {
	m := &Matchmaker{
		src: rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // pairing needs no crypto randomness
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Select returns one unordered pair drawn from items. The input slice is not
// modified.
func (m *Matchmaker) Select(items []model.Item) (model.Pair, error) {
	if len(items) < 2 {
		return model.Pair{}, ErrInsufficientPopulation
	}

	shuffled := make([]model.Item, len(items))
	copy(shuffled, items)

	m.mu.Lock()
	m.src.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	m.mu.Unlock()

	anchor := shuffled[0]
	rest := shuffled[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		return gap(rest[i], anchor) < gap(rest[j], anchor)
	})

	return model.Pair{A: anchor, B: rest[0]}, nil
}

func gap(a, b model.Item) float64 {
	return math.Abs(a.Rating - b.Rating)
}
