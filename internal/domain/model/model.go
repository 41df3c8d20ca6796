// Package model contains domain models passed between layers.
package model

import "time"

// DefaultRating is substituted for an item that has never been rated.
const DefaultRating = 1000.0

// Item is one comparable entry of the population.
type Item struct {
	ID        string  // opaque store identity
	Name      string  // display name
	ImagePath string  // display image reference
	Rating    float64 // current Elo rating, always defined
}

// Pair is one unordered pair selected for comparison.
type Pair struct {
	A Item
	B Item
}

// Contains reports whether id is one side of the pair.
func (p Pair) Contains(id string) bool {
	return p.A.ID == id || p.B.ID == id
}

// Other returns the side of the pair that is not id.
func (p Pair) Other(id string) (Item, bool) {
	switch id {
	case p.A.ID:
		return p.B, true
	case p.B.ID:
		return p.A, true
	}
	return Item{}, false
}

// Outcome is one completed duel. It is never persisted.
type Outcome struct {
	WinnerID string
	LoserID  string
}

// RatingChange describes an applied outcome; it is what gets published.
type RatingChange struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	DuelID    string    `json:"duel_id"`
	WinnerID  string    `json:"winner_id"`
	LoserID   string    `json:"loser_id"`
	WinnerOld float64   `json:"winner_old"`
	WinnerNew float64   `json:"winner_new"`
	LoserOld  float64   `json:"loser_old"`
	LoserNew  float64   `json:"loser_new"`
	Delta     float64   `json:"delta"`
	Expected  float64   `json:"expected"`
	TS        time.Time `json:"ts"`
}
