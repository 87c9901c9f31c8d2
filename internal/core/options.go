package core

import "time"

// DefaultMaxCommitRetries bounds how many untracked references a single
// Commit call will register before giving up.
const DefaultMaxCommitRetries = 32

type options struct {
	registry   *Registry
	logger     Logger
	metrics    MetricsRecorder
	journal    Journal
	maxRetries int
	now        func() time.Time
}

// Option configures a Transaction.
type Option func(*options)

func defaultOptions() options {
	return options{
		registry:   defaultRegistry,
		logger:     noopLogger{},
		metrics:    noopMetrics{},
		maxRetries: DefaultMaxCommitRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithRegistry registers the transaction in r instead of the process-wide
// registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithLogger sets the logger; nil restores the no-op logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l == nil {
			o.logger = noopLogger{}
			return
		}
		o.logger = l
	}
}

// WithMetrics sets the metrics recorder; nil restores the no-op recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m == nil {
			o.metrics = noopMetrics{}
			return
		}
		o.metrics = m
	}
}

// WithJournal sets the sink for committed change sets.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithMaxCommitRetries bounds untracked-reference retries per Commit call.
// Values below 0 are treated as 0 (no retries).
func WithMaxCommitRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = n
	}
}

// WithClock overrides the time source used for change set timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
