package matchmaking

import "errors"

// ErrInsufficientPopulation is returned when fewer than two items are available.
var ErrInsufficientPopulation = errors.New("insufficient population: need at least two items")
