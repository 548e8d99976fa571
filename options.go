package kyc

import "time"

const (
	DefaultTokenTTLHours  = 24
	MaxTokenTTLHours      = 24 * 30
	DefaultMaxFileBytes   = 10 << 20
	DefaultMaxIDAttempts  = 5
	DefaultMaxRemarksSize = 2000
)

// Option customizes any of the lifecycle components. Options that do not
// apply to a component are ignored by it.
type Option func(*settings)

type settings struct {
	logger        Logger
	clock         Clock
	activitySink  ActivitySink
	metrics       *Metrics
	idGenerator   IDGenerator
	maxIDAttempts int
	defaultTTL    time.Duration
	maxTTL        time.Duration

	transitionHooks []TransitionHook
}

func newSettings(opts ...Option) settings {
	s := settings{
		defaultTTL:    DefaultTokenTTLHours * time.Hour,
		maxTTL:        MaxTokenTTLHours * time.Hour,
		maxIDAttempts: DefaultMaxIDAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	s.logger = normalizeLogger(s.logger)
	s.clock = normalizeClock(s.clock)
	s.activitySink = normalizeActivitySink(s.activitySink)
	if s.idGenerator == nil {
		s.idGenerator = NewRandomIDGenerator(DefaultIDPrefix, DefaultIDLength)
	}
	return s
}

// WithLogger overrides the logger.
func WithLogger(logger Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithActivitySink sets the sink used to publish lifecycle events.
func WithActivitySink(sink ActivitySink) Option {
	return func(s *settings) {
		s.activitySink = sink
	}
}

// WithMetrics records counters on m. A nil value disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *settings) {
		if gen != nil {
			s.idGenerator = gen
		}
	}
}

// WithMaxIDAttempts bounds how often a colliding request id is regenerated.
func WithMaxIDAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxIDAttempts = n
		}
	}
}

// WithTokenTTL sets the default and maximum token lifetimes.
func WithTokenTTL(def, max time.Duration) Option {
	return func(s *settings) {
		if def > 0 {
			s.defaultTTL = def
		}
		if max > 0 {
			s.maxTTL = max
		}
	}
}
