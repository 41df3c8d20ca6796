// Package repository defines the rating store interfaces and an in-memory
// implementation.
package repository

import (
	"context"

	"github.com/okian/duel/internal/domain/model"
)

// DefaultPageSize is how many items one List call returns when the caller
// does not say.
const DefaultPageSize = 500

// Entry represents a leaderboard row.
type Entry struct {
	Rank int
	Item model.Item
}

// Store provides read/write access to item ratings.
type Store interface {
	// List returns up to limit items with ratings always defined. limit <= 0
	// means no ceiling. Failures wrap ErrStoreUnavailable.
	List(ctx context.Context, limit int) ([]model.Item, error)

	// Get returns one item. Returns ErrNotFound if the item is unknown.
	Get(ctx context.Context, id string) (model.Item, error)

	// Write persists one item's rating without touching any other field.
	// Failures wrap ErrWriteFailed or ErrNotFound and are not retried.
	Write(ctx context.Context, id string, rating float64) error
}

// Leaderboard is implemented by stores that can rank without listing
// everything. Stores without it are ranked by LeaderboardFor over a full
// List.
type Leaderboard interface {
	// TopN returns the top-N entries ordered by rating desc, id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Rank returns the competition rank of an item: one plus the number of
	// items rated strictly higher.
	Rank(ctx context.Context, id string) (Entry, error)

	// Count returns the number of items.
	Count(ctx context.Context) (int, error)
}

// Seeder is implemented by stores the service may load a catalogue into.
type Seeder interface {
	// Put inserts item with its rating, or replaces the metadata of an
	// existing item while keeping its rating.
	Put(ctx context.Context, item model.Item) error
}
