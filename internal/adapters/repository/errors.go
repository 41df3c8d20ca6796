package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound         = errors.New("item not found")
	ErrInvalidLimit     = errors.New("invalid leaderboard limit")
	ErrInvalidItem      = errors.New("invalid item")
	ErrStoreUnavailable = errors.New("rating store unavailable")
	ErrWriteFailed      = errors.New("rating write failed")
)
