package uciflow

import (
	"log/slog"
	"time"

	"github.com/pawnsight/uciflow/internal/params"
)

// Option configures a service using the functional options pattern.
type Option func(*Options)

// Options carries the tunables shared by all services. Zero values are
// replaced with the defaults below when a service is constructed.
type Options struct {
	// Logger receives debug output. Defaults to a no-op logger.
	Logger *slog.Logger

	// HandshakeTimeout bounds the protocol handshake. Default 10s.
	HandshakeTimeout time.Duration

	// UpdateInterval is the minimum spacing between forwarded updates
	// for one line index. Default 100ms.
	UpdateInterval time.Duration

	// EstablishDelay and EstablishBatches gate a freshly started search:
	// updates are discarded until either a line reports depth >= 1 or at
	// least EstablishBatches update batches have arrived and
	// EstablishDelay has elapsed. Empirical values, tunable per engine.
	// Defaults 100ms and 2.
	EstablishDelay   time.Duration
	EstablishBatches int

	// ProgressInterval is how often the batch analyzer emits progress
	// notices during a search. Default 500ms.
	ProgressInterval time.Duration

	// SANMoveLimit caps how many PV moves are rendered in SAN per line.
	// Default 12.
	SANMoveLimit int

	// Params resolves per-engine, per-task search parameters. Defaults
	// to DefaultParameters for every lookup.
	Params ParameterSource
}

// defaultSource answers every lookup with the task defaults.
type defaultSource struct{}

func (defaultSource) TaskParameters(_, task string) ParameterSet {
	return params.DefaultParameters(task)
}

// applyOptions applies functional options and fills in defaults.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = NopLogger()
	}

	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = 10 * time.Second
	}

	if options.UpdateInterval <= 0 {
		options.UpdateInterval = 100 * time.Millisecond
	}

	if options.EstablishDelay <= 0 {
		options.EstablishDelay = 100 * time.Millisecond
	}

	if options.EstablishBatches <= 0 {
		options.EstablishBatches = 2
	}

	if options.ProgressInterval <= 0 {
		options.ProgressInterval = 500 * time.Millisecond
	}

	if options.SANMoveLimit <= 0 {
		options.SANMoveLimit = 12
	}

	if options.Params == nil {
		options.Params = defaultSource{}
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithHandshakeTimeout bounds how long a service waits for the engine's
// handshake acknowledgment.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = d
	}
}

// WithUpdateInterval sets the per-line throttling interval for forwarded
// updates.
func WithUpdateInterval(d time.Duration) Option {
	return func(o *Options) {
		o.UpdateInterval = d
	}
}

// WithEstablishThresholds tunes when a freshly started search is
// considered established and its updates start being forwarded.
func WithEstablishThresholds(delay time.Duration, batches int) Option {
	return func(o *Options) {
		o.EstablishDelay = delay
		o.EstablishBatches = batches
	}
}

// WithProgressInterval sets how often the batch analyzer emits progress
// notices.
func WithProgressInterval(d time.Duration) Option {
	return func(o *Options) {
		o.ProgressInterval = d
	}
}

// WithSANMoveLimit caps how many PV moves are rendered in SAN per line.
func WithSANMoveLimit(n int) Option {
	return func(o *Options) {
		o.SANMoveLimit = n
	}
}

// WithParameterSource injects the resolver for per-engine, per-task
// search parameters.
func WithParameterSource(src ParameterSource) Option {
	return func(o *Options) {
		o.Params = src
	}
}

// LoadParameterFile builds a ParameterSource from a YAML file mapping
// engine paths to per-task parameters. A missing or malformed file
// degrades silently to the task defaults.
func LoadParameterFile(logger *slog.Logger, path string) ParameterSource {
	if logger == nil {
		logger = NopLogger()
	}

	return params.Load(logger, path)
}
