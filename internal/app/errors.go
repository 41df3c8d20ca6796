package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoActiveDuel is returned when a vote arrives before any duel was presented.
	ErrNoActiveDuel = errors.New("no active duel")
	// ErrStaleDuel is returned when the voted duel is not the session's current one.
	ErrStaleDuel = errors.New("duel is not current")
	// ErrNotInDuel is returned when the winner is not one of the two contestants.
	ErrNotInDuel = errors.New("winner is not part of the duel")
	// ErrPartialWrite matches a PartialWriteError.
	ErrPartialWrite = errors.New("partial rating write")
	// ErrSeedUnsupported is returned by Seed when the store cannot insert items.
	ErrSeedUnsupported = errors.New("store does not support seeding")
	// ErrNotStarted is returned by operations that need a started service.
	ErrNotStarted = errors.New("service not started")
)

// PartialWriteError reports that exactly one of the two rating writes of an
// outcome succeeded. The stored ratings no longer sum to what they did before
// the vote.
type PartialWriteError struct {
	Applied string
	Failed  string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial rating write: %s applied, %s failed: %v", e.Applied, e.Failed, e.Err)
}

// Unwrap exposes both ErrPartialWrite and the store error.
func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}
