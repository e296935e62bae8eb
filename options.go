package changefeed

import "github.com/juju/clock"

// Option configures a Processor or an estimator with optional dependencies.
type Option func(*processorOptions)

// processorOptions holds optional Processor configuration.
type processorOptions struct {
	hooks    *Hooks
	metrics  MetricsCollector
	logger   Logger
	clock    clock.Clock
	strategy BalancingStrategy
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	hooks := &changefeed.Hooks{
//	    OnLeaseReleased: func(ctx context.Context, pid string, reason changefeed.ReleaseReason) error {
//	        log.Printf("stopped %s: %s", pid, reason)
//	        return nil
//	    },
//	}
//	proc, err := changefeed.NewProcessor(&cfg, store, src, handler, changefeed.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *processorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	m := changefeed.NewPrometheusMetrics(prometheus.DefaultRegisterer, "orders")
//	proc, err := changefeed.NewProcessor(&cfg, store, src, handler, changefeed.WithMetrics(m))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *processorOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	logger := changefeed.NewSlogLogger(slog.Default())
//	proc, err := changefeed.NewProcessor(&cfg, store, src, handler, changefeed.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *processorOptions) {
		o.logger = logger
	}
}

// WithClock sets the time source used for lease expiry, renewal and polling.
//
// Intended for tests driving time with github.com/juju/clock/testclock.
func WithClock(clk clock.Clock) Option {
	return func(o *processorOptions) {
		o.clock = clk
	}
}

// WithStrategy replaces the default equal-partitions balancing strategy.
//
// Parameters:
//   - s: BalancingStrategy implementation
//
// Returns:
//   - Option: Functional option for NewProcessor
func WithStrategy(s BalancingStrategy) Option {
	return func(o *processorOptions) {
		o.strategy = s
	}
}
