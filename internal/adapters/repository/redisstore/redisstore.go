// Package redisstore keeps ratings in a Redis sorted set and item metadata in
// a hash.
//
// Scores are stored negated so that ZRANGE yields rating desc with ties broken
// by id asc, matching the in-memory store's ordering.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

const backend = "redis"

type meta struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path,omitempty"`
}

// Store implements repository.Store, repository.Leaderboard and
// repository.Seeder on Redis.
type Store struct {
	client        redis.UniversalClient
	prefix        string
	defaultRating float64
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:        client,
		prefix:        "duel",
		defaultRating: model.DefaultRating,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", repository.ErrStoreUnavailable, addr, err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ratingsKey() string { return s.prefix + ":ratings" }
func (s *Store) itemsKey() string   { return s.prefix + ":items" }

func observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := tracing.StartStoreSpan(ctx, backend, op)
	return ctx, func(err error) {
		metrics.RecordStoreOp(backend, op, start, err)
		end(err)
	}
}

// Put implements repository.Seeder. The rating is only set when the item has
// none yet.
func (s *Store) Put(ctx context.Context, item model.Item) (err error) {
	ctx, done := observe(ctx, "put")
	defer func() { done(err) }()

	if item.ID == "" {
		return fmt.Errorf("%w: empty id", repository.ErrInvalidItem)
	}
	raw, err := json.Marshal(meta{Name: item.Name, ImagePath: item.ImagePath})
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidItem, err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.itemsKey(), item.ID, raw)
		p.ZAddNX(ctx, s.ratingsKey(), redis.Z{Score: -item.Rating, Member: item.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", repository.ErrWriteFailed, item.ID, err)
	}
	return nil
}

// List implements repository.Store. Items are returned in id order.
func (s *Store) List(ctx context.Context, limit int) (items []model.Item, err error) {
	ctx, done := observe(ctx, "list")
	defer func() { done(err) }()

	all, err := s.client.HGetAll(ctx, s.itemsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return []model.Item{}, nil
	}

	scores := make([]*redis.FloatCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			scores[i] = p.ZScore(ctx, s.ratingsKey(), id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}

	items = make([]model.Item, 0, len(ids))
	for i, id := range ids {
		it, err := s.decode(id, all[id], scores[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (item model.Item, err error) {
	ctx, done := observe(ctx, "get")
	defer func() { done(err) }()

	var raw *redis.StringCmd
	var score *redis.FloatCmd
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		raw = p.HGet(ctx, s.itemsKey(), id)
		score = p.ZScore(ctx, s.ratingsKey(), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.Item{}, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	if errors.Is(raw.Err(), redis.Nil) {
		return model.Item{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return s.decode(id, raw.Val(), score)
}

func (s *Store) decode(id, raw string, score *redis.FloatCmd) (model.Item, error) {
	var m meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return model.Item{}, fmt.Errorf("%w: decode %s: %v", repository.ErrStoreUnavailable, id, err)
	}
	it := model.Item{ID: id, Name: m.Name, ImagePath: m.ImagePath, Rating: s.defaultRating}
	switch err := score.Err(); {
	case err == nil:
		it.Rating = -score.Val()
	case !errors.Is(err, redis.Nil):
		return model.Item{}, fmt.Errorf("%w: score %s: %v", repository.ErrStoreUnavailable, id, err)
	}
	return it, nil
}

// Write implements repository.Store. Only the sorted-set score changes.
func (s *Store) Write(ctx context.Context, id string, rating float64) (err error) {
	ctx, done := observe(ctx, "write")
	defer func() { done(err) }()

	exists, err := s.client.HExists(ctx, s.itemsKey(), id).Result()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", repository.ErrWriteFailed, id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err := s.client.ZAdd(ctx, s.ratingsKey(), redis.Z{Score: -rating, Member: id}).Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", repository.ErrWriteFailed, id, err)
	}
	return nil
}

// TopN implements repository.Leaderboard.
func (s *Store) TopN(ctx context.Context, n int) (out []repository.Entry, err error) {
	ctx, done := observe(ctx, "top_n")
	defer func() { done(err) }()

	if n < 1 {
		return nil, repository.ErrInvalidLimit
	}

	zs, err := s.client.ZRangeWithScores(ctx, s.ratingsKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	if len(zs) == 0 {
		return []repository.Entry{}, nil
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	raws, err := s.client.HMGet(ctx, s.itemsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}

	out = make([]repository.Entry, 0, len(zs))
	for i, z := range zs {
		it := model.Item{ID: ids[i], Rating: -z.Score}
		if raw, ok := raws[i].(string); ok {
			var m meta
			if json.Unmarshal([]byte(raw), &m) == nil {
				it.Name, it.ImagePath = m.Name, m.ImagePath
			}
		}
		out = append(out, repository.Entry{Item: it})
	}
	repository.AssignRanks(out)
	return out, nil
}

// Rank implements repository.Leaderboard.
func (s *Store) Rank(ctx context.Context, id string) (e repository.Entry, err error) {
	ctx, done := observe(ctx, "rank")
	defer func() { done(err) }()

	item, err := s.Get(ctx, id)
	if err != nil {
		return repository.Entry{}, err
	}

	above, err := s.client.ZCount(ctx, s.ratingsKey(), "-inf", "("+strconv.FormatFloat(-item.Rating, 'f', -1, 64)).Result()
	if err != nil {
		return repository.Entry{}, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return repository.Entry{Rank: int(above) + 1, Item: item}, nil
}

// Count implements repository.Leaderboard.
func (s *Store) Count(ctx context.Context) (n int, err error) {
	ctx, done := observe(ctx, "count")
	defer func() { done(err) }()

	c, err := s.client.HLen(ctx, s.itemsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	return int(c), nil
}
