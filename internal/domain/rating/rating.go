// Package rating implements the incremental Elo update applied after each duel.
package rating

import (
	"math"

	"github.com/okian/duel/internal/domain/model"
)

// Default engine configuration constants.
const (
	DefaultK = 32.0
	// scale is the rating gap at which the stronger side is ten times as
	// likely to win.
	scale = 400.0
)

// Expected returns the probability that a side rated a beats a side rated b.
// Expected(a, b) + Expected(b, a) == 1.
func Expected(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/scale))
}

// Delta returns the whole number of points the winner takes from the loser.
// It is never negative.
func Delta(winner, loser, k float64) float64 {
	return math.Round(k * (1 - Expected(winner, loser)))
}

// Update returns the ratings after winner beat loser. The exchange is
// zero-sum; when the delta rounds to zero both ratings come back unchanged.
func Update(winner, loser, k float64) (newWinner, newLoser float64) {
	d := Delta(winner, loser, k)
	if d == 0 {
		return winner, loser
	}
	return winner + d, loser - d
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithK sets the K-factor. Non-positive values are ignored.
func WithK(k float64) Option {
	return func(e *Engine) {
		if k > 0 && !math.IsInf(k, 0) {
			e.k = k
		}
	}
}

// Engine applies outcomes with a fixed K-factor. The zero value is not usable;
// build one with NewEngine.
type Engine struct {
	k float64
}

// NewEngine creates an engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{k: DefaultK}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// K returns the configured K-factor.
func (e *Engine) K() float64 { return e.k }

// Result is the outcome of applying one duel.
type Result struct {
	Winner   model.Item // winner carrying its new rating
	Loser    model.Item // loser carrying its new rating
	Delta    float64
	Expected float64 // winner's expected score before the update
}

// Apply computes the new ratings for winner and loser.
func (e *Engine) Apply(winner, loser model.Item) Result {
	exp := Expected(winner.Rating, loser.Rating)
	res := Result{Winner: winner, Loser: loser, Expected: exp}
	res.Winner.Rating, res.Loser.Rating = Update(winner.Rating, loser.Rating, e.k)
	res.Delta = res.Winner.Rating - winner.Rating
	return res
}
