package pgstore

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithTable sets the items table name.
func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// WithDefaultRating sets the rating reported for rows without eloRating.
func WithDefaultRating(r float64) Option {
	return func(s *Store) {
		s.defaultRating = r
	}
}
