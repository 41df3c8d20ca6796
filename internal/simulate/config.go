package simulate

import (
	"errors"
	"time"
)

// Config holds configuration for a simulated voting run.
type Config struct {
	BaseURL string        // Base URL of the service
	Items   int           // Number of items fetched from the leaderboard and given a hidden strength
	Duels   int           // Total votes cast across all workers
	Workers int           // Concurrent voters, one session each
	Timeout time.Duration // HTTP request timeout
	Seed    int64         // Seed for hidden strengths and voter choices
	Spread  float64       // Strength gap between the weakest and strongest item
	TopN    int           // Leaderboard entries printed at the end
	Verbose bool
}

// Defaults used by the command line.
const (
	DefaultBaseURL = "http://localhost:9080"
	DefaultItems   = 50
	DefaultDuels   = 2000
	DefaultTimeout = 30 * time.Second
	DefaultSpread  = 800
	DefaultTopN    = 10
)

// Validate rejects configurations that cannot produce a meaningful run.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url is required")
	case c.Items < 2:
		return errors.New("items must be at least 2")
	case c.Duels < 1:
		return errors.New("duels must be positive")
	case c.Workers < 1:
		return errors.New("workers must be positive")
	case c.Spread <= 0:
		return errors.New("spread must be positive")
	}
	return nil
}

// Item is the leaderboard view of an item.
type Item struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
	Rank   int     `json:"rank"`
}

type duel struct {
	DuelID string `json:"duel_id"`
	A      Item   `json:"a"`
	B      Item   `json:"b"`
}

type voteRequest struct {
	DuelID   string `json:"duel_id"`
	WinnerID string `json:"winner_id"`
}

type voteResponse struct {
	Status    string  `json:"status"`
	Duplicate bool    `json:"duplicate"`
	Delta     float64 `json:"delta"`
	Next      *duel   `json:"next"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stats summarises a run.
type Stats struct {
	Items       int
	Applied     int
	Duplicate   int
	Failed      int
	Upsets      int // votes where the weaker item won
	Correlation float64
	StartTime   time.Time
	Duration    time.Duration
	Leaderboard []Item
}
