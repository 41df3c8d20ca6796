package repository

import (
	"context"
	"fmt"
	"sort"
)

// AssignRanks sets competition ranks on entries already ordered by rating
// desc and starting at the top of the board. Equal ratings share a rank and
// the next rank skips accordingly (1, 2, 2, 4).
func AssignRanks(entries []Entry) {
	for i := range entries {
		if i > 0 && entries[i].Item.Rating == entries[i-1].Item.Rating {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// sortEntries orders by rating desc, then id asc.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Item, entries[j].Item
		return less(a.Rating, a.ID, b.Rating, b.ID)
	})
}

// scanLeaderboard ranks a store that cannot rank itself by listing the whole
// library and sorting it.
type scanLeaderboard struct {
	store Store
}

// LeaderboardFor returns s itself when it implements Leaderboard, otherwise
// a fallback that lists every item per query (List with no ceiling) and
// ranks them in memory. The population page size does not apply here.
func LeaderboardFor(s Store) Leaderboard {
	if lb, ok := s.(Leaderboard); ok {
		return lb
	}
	return &scanLeaderboard{store: s}
}

func (l *scanLeaderboard) all(ctx context.Context) ([]Entry, error) {
	items, err := l.store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(items))
	for i, it := range items {
		entries[i] = Entry{Item: it}
	}
	sortEntries(entries)
	AssignRanks(entries)
	return entries, nil
}

func (l *scanLeaderboard) TopN(ctx context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	entries, err := l.all(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (l *scanLeaderboard) Rank(ctx context.Context, id string) (Entry, error) {
	entries, err := l.all(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Item.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (l *scanLeaderboard) Count(ctx context.Context) (int, error) {
	items, err := l.store.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
