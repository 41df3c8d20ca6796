package repository

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithSeed makes node priorities reproducible.
func WithSeed(seed uint64) Option {
	return func(s *TreapStore) {
		s.seed = seed
	}
}

// WithBackendName sets the backend label used in metrics and traces.
func WithBackendName(name string) Option {
	return func(s *TreapStore) {
		if name != "" {
			s.backend = name
		}
	}
}
