package filter

import "errors"

// Filter errors.
var (
	ErrCompile    = errors.New("filter expression does not compile")
	ErrNotBoolean = errors.New("filter expression must return a boolean")
	ErrEvaluate   = errors.New("filter expression failed to evaluate")
)
