package stashstore

import (
	"net/http"
	"time"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithAPIKey sets the key sent in the ApiKey header.
func WithAPIKey(key string) Option {
	return func(s *Store) {
		s.apiKey = key
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.http = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.http.Timeout = d
		}
	}
}

// WithDefaultRating sets the rating reported for performers without one.
func WithDefaultRating(r float64) Option {
	return func(s *Store) {
		s.defaultRating = r
	}
}
