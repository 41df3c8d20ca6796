package matchmaking

// Option applies a configuration option to the Matchmaker.
type Option func(*Matchmaker)

// WithSource sets the random source used for the shuffle phase.
func WithSource(src Source) Option {
	return func(m *Matchmaker) {
		if src != nil {
			m.src = src
		}
	}
}
