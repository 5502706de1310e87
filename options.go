package mirador

import (
	"log/slog"
	"time"

	"github.com/miradorlabs/mirador/codec"
	"github.com/miradorlabs/mirador/manager"
	"github.com/miradorlabs/mirador/persist"
)

type options struct {
	codec            codec.Codec
	compression      persist.Compression
	metricsCollector MetricsCollector
	logger           *Logger
	managerOptions   []func(*manager.Options)
}

// Option configures Collection constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. codec-specific constructor variants).
type Option func(*options)

// WithCodec configures the codec used for metadata sections of saved
// snapshots.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression configures the compression applied to saved snapshots.
// Default: zstd.
func WithCompression(c persist.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithConsistency tunes the consistency manager: rebuild triggers
// (MaxPendingMutations, MaxStaleness), the build timeout, and the retry
// policy.
//
// Example:
//
//	col, _ := mirador.Flat(128).Build(
//	    mirador.WithConsistency(func(o *manager.Options) {
//	        o.MaxPendingMutations = 256
//	        o.MaxStaleness = 30 * time.Second
//	    }),
//	)
func WithConsistency(optFns ...func(*manager.Options)) Option {
	return func(o *options) {
		o.managerOptions = append(o.managerOptions, optFns...)
	}
}

// WithBuildTimeout bounds a single index build attempt.
// Convenience wrapper for the matching WithConsistency field.
func WithBuildTimeout(d time.Duration) Option {
	return WithConsistency(func(o *manager.Options) {
		o.BuildTimeout = d
	})
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &mirador.BasicMetricsCollector{}
//	col, _ := mirador.Flat(128).Build(mirador.WithMetricsCollector(metrics))
//	// ... use col ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mirador.NewJSONLogger(slog.LevelInfo)
//	col, _ := mirador.Flat(128).Build(mirador.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            nil,
		compression:      persist.CompressionZstd,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
