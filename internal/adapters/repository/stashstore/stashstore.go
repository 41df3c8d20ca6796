// Package stashstore reads and writes performer ratings through a Stash
// GraphQL endpoint. The rating is kept in the performer's custom field
// eloRating and written in PARTIAL mode so no other custom field changes.
package stashstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

const (
	backend        = "stash"
	ratingField    = "eloRating"
	defaultTimeout = 10 * time.Second
	maxBody        = 16 << 20
)

const listQuery = `query ($n: Int!) {
  findPerformers(filter: { per_page: $n }) {
    performers { id name image_path custom_fields }
  }
}`

const getQuery = `query ($id: ID!) {
  findPerformer(id: $id) { id name image_path custom_fields }
}`

const updateMutation = `mutation ($id: ID!, $elo: Float!) {
  performerUpdate(input: {
    id: $id
    custom_fields: { partial: { eloRating: $elo } }
  }) { id }
}`

type performer struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ImagePath    string         `json:"image_path"`
	CustomFields map[string]any `json:"custom_fields"`
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// Store implements repository.Store against Stash.
type Store struct {
	endpoint      string
	apiKey        string
	http          *http.Client
	defaultRating float64
}

// New creates a store for the GraphQL endpoint, e.g. http://stash.local:9999/graphql.
func New(endpoint string, opts ...Option) *Store {
	s := &Store{
		endpoint:      endpoint,
		http:          &http.Client{Timeout: defaultTimeout},
		defaultRating: model.DefaultRating,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := tracing.StartStoreSpan(ctx, backend, op)
	return ctx, func(err error) {
		metrics.RecordStoreOp(backend, op, start, err)
		end(err)
	}
}

// do posts one GraphQL document and decodes data into out. Transport and
// GraphQL errors are returned unwrapped; callers attach the sentinel.
func (s *Store) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("ApiKey", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("graphql: %s", gr.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (s *Store) toItem(p performer) model.Item {
	return model.Item{
		ID:        p.ID,
		Name:      p.Name,
		ImagePath: p.ImagePath,
		Rating:    s.rating(p.CustomFields[ratingField]),
	}
}

// rating accepts numbers and numeric strings; anything else is absent.
func (s *Store) rating(v any) float64 {
	switch r := v.(type) {
	case float64:
		return r
	case string:
		if f, err := strconv.ParseFloat(r, 64); err == nil {
			return f
		}
	}
	return s.defaultRating
}

// List implements repository.Store. limit becomes per_page; limit <= 0 asks
// Stash for every performer.
func (s *Store) List(ctx context.Context, limit int) (items []model.Item, err error) {
	ctx, done := observe(ctx, "list")
	defer func() { done(err) }()

	if limit <= 0 {
		limit = -1
	}
	var data struct {
		FindPerformers struct {
			Performers []performer `json:"performers"`
		} `json:"findPerformers"`
	}
	if err := s.do(ctx, listQuery, map[string]any{"n": limit}, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}

	items = make([]model.Item, 0, len(data.FindPerformers.Performers))
	for _, p := range data.FindPerformers.Performers {
		items = append(items, s.toItem(p))
	}
	return items, nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (item model.Item, err error) {
	ctx, done := observe(ctx, "get")
	defer func() { done(err) }()

	var data struct {
		FindPerformer *performer `json:"findPerformer"`
	}
	if err := s.do(ctx, getQuery, map[string]any{"id": id}, &data); err != nil {
		return model.Item{}, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	if data.FindPerformer == nil {
		return model.Item{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return s.toItem(*data.FindPerformer), nil
}

// Write implements repository.Store.
func (s *Store) Write(ctx context.Context, id string, rating float64) (err error) {
	ctx, done := observe(ctx, "write")
	defer func() { done(err) }()

	var data struct {
		PerformerUpdate *struct {
			ID string `json:"id"`
		} `json:"performerUpdate"`
	}
	if err := s.do(ctx, updateMutation, map[string]any{"id": id, "elo": rating}, &data); err != nil {
		return fmt.Errorf("%w: %s: %v", repository.ErrWriteFailed, id, err)
	}
	if data.PerformerUpdate == nil {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return nil
}
