package redisstore

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Keys are <prefix>:ratings and <prefix>:items.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithDefaultRating sets the rating reported for items that have none.
func WithDefaultRating(r float64) Option {
	return func(s *Store) {
		s.defaultRating = r
	}
}
