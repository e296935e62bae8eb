package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/changefeed/internal/controller"
	"github.com/arloliu/changefeed/internal/estimator"
	"github.com/arloliu/changefeed/internal/feedworker"
	"github.com/arloliu/changefeed/internal/hooks"
	"github.com/arloliu/changefeed/internal/leasemgr"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/strategy"
)

// Processor delivers the changes of a partitioned feed to a handler while
// sharing the partitions with every other Processor on the same lease prefix.
//
// Each partition is owned by at most one instance at a time, through a lease
// in the shared store. Changes are delivered at least once: a batch is
// checkpointed only after the handler returned nil, and a crashed owner's
// partitions resume from their last checkpoint on another instance.
//
// Lifecycle:
//   - Create with NewProcessor()
//   - Call Start() to begin acquiring leases
//   - Use hooks to react to ownership changes
//   - Call Stop() for graceful shutdown; a stopped processor may start again
//
// Testing:
// Consumers can define minimal interfaces for mocking:
//
//	type ChangeProcessor interface {
//	    Start(ctx context.Context) error
//	    Stop(ctx context.Context) error
//	}
type Processor struct {
	cfg     Config
	store   LeaseStore
	source  FeedSource
	handler Handler

	strategy  BalancingStrategy
	hooks     *hooks.Dispatcher
	metrics   MetricsCollector
	logger    Logger
	clock     clock.Clock
	leases    *leasemgr.Manager
	estimator *estimator.Estimator

	state atomic.Int32 // State

	// Guarded by mu; replaced on every Start.
	mu     sync.Mutex
	ctrl   *controller.Controller
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor creates a Processor.
//
// Missing configuration values are filled with defaults before validation.
//
// Parameters:
//   - cfg: Processor configuration (copied)
//   - store: Shared lease store
//   - source: Feed to read changes from
//   - handler: Receives batches of changes
//   - opts: Optional logger, metrics, hooks, clock and balancing strategy
//
// Returns:
//   - *Processor: Initialized processor in StateInit
//   - error: Error wrapping ErrInvalidConfig, plus a specific sentinel for a missing dependency
//
// Example:
//
//	cfg := changefeed.DefaultConfig()
//	cfg.HostName = os.Getenv("HOSTNAME")
//	store, _ := leasestore.OpenKV(ctx, js, leasestore.KVConfig{})
//	proc, err := changefeed.NewProcessor(&cfg, store, src, changefeed.HandlerFunc(handle))
func NewProcessor(cfg *Config, store LeaseStore, source FeedSource, handler Handler, opts ...Option) (*Processor, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrLeaseStoreRequired)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrFeedSourceRequired)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrHandlerRequired)
	}

	c := *cfg
	SetDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	options := applyOptions(opts)
	c.ValidateWithWarnings(options.logger)

	if options.strategy == nil {
		options.strategy = strategy.NewEqualPartitions(c.MinScaleCount, c.MaxScaleCount)
	}
	logger := logging.With(options.logger, "host", c.HostName)

	p := &Processor{
		cfg:      c,
		store:    store,
		source:   source,
		handler:  handler,
		strategy: options.strategy,
		hooks:    hooks.NewDispatcher(options.hooks, logger),
		metrics:  options.metrics,
		logger:   logger,
		clock:    options.clock,
		leases: leasemgr.New(store, leasemgr.Config{
			HostName:           c.HostName,
			Prefix:             c.LeasePrefix,
			RenewInterval:      c.RenewInterval,
			ExpirationInterval: c.ExpirationInterval,
			OperationTimeout:   c.OperationTimeout,
		}, options.clock, logger, options.metrics),
		estimator: newEstimator(&c, store, source, logger, options.metrics),
	}
	p.state.Store(int32(StateInit))

	return p, nil
}

// Start begins acquiring leases and processing changes in the background.
//
// The first controller pass runs immediately. Start returns once the
// controller is running; partitions are picked up asynchronously.
//
// Parameters:
//   - ctx: Context for the call (the processor itself runs until Stop)
//
// Returns:
//   - error: ErrAlreadyStarted if the processor is starting or running
func (p *Processor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.State()
	if !from.CanStart() {
		return ErrAlreadyStarted
	}

	p.runCtx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	p.transitionState(p.runCtx, from, StateStarting)

	worker := feedworker.New(feedworker.Config{
		PollDelay:        p.cfg.FeedPollDelay,
		MaxItems:         p.cfg.MaxItemCount,
		Mode:             p.cfg.Mode,
		StartFrom:        p.cfg.StartFrom,
		OperationTimeout: p.cfg.OperationTimeout,
	}, p.source, p.handler, p.leases, p.logger, p.metrics, p.hooks)

	p.ctrl = controller.New(controller.Config{
		HostName:           p.cfg.HostName,
		Prefix:             p.cfg.LeasePrefix,
		AcquireInterval:    p.cfg.AcquireInterval,
		AcquireJitterRatio: p.cfg.AcquireJitterRatio,
		MaxScaleCount:      p.cfg.MaxScaleCount,
		OperationTimeout:   p.cfg.OperationTimeout,
	}, controller.Deps{
		Store:    p.store,
		Source:   p.source,
		Leases:   p.leases,
		Worker:   worker,
		Strategy: p.strategy,
		Logger:   p.logger,
		Metrics:  p.metrics,
		Hooks:    p.hooks,
	})

	ctrl, runCtx, done := p.ctrl, p.runCtx, p.done
	go func() {
		defer close(done)
		_ = ctrl.Run(runCtx)
		p.transitionState(runCtx, StateStopping, StateStopped)
	}()

	p.transitionState(runCtx, StateStarting, StateRunning)
	p.logger.Info("processor started", "lease_prefix", p.cfg.LeasePrefix)

	return nil
}

// Stop gracefully shuts down the processor.
//
// Workers are cancelled, renewals stop and every owned lease is released so
// other instances can take it over without waiting for expiration.
//
// Safe to call multiple times - subsequent calls return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout (Config.ShutdownTimeout applies when it has no deadline)
//
// Returns:
//   - error: ErrNotStarted, or the context error when shutdown did not finish in time
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	current := p.State()
	if current != StateRunning {
		p.mu.Unlock()

		return ErrNotStarted
	}
	p.transitionState(p.runCtx, current, StateStopping)
	p.cancel()
	done := p.done
	p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
		defer cancel()
	}

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Error("shutdown timeout exceeded, leases will expire instead of being released")
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	p.hooks.Wait()
	p.logger.Info("processor stopped gracefully")

	return nil
}

// IsStarted reports whether the processor is starting or running.
func (p *Processor) IsStarted() bool {
	s := p.State()
	return s == StateStarting || s == StateRunning
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// HostName returns the owner name this processor writes into leases.
func (p *Processor) HostName() string {
	return p.cfg.HostName
}

// OwnedPartitions returns the partitions this instance is processing, sorted.
//
// Returns:
//   - []string: Partition IDs with a running worker (empty when stopped)
func (p *Processor) OwnedPartitions() []string {
	p.mu.Lock()
	ctrl := p.ctrl
	p.mu.Unlock()

	if ctrl == nil {
		return nil
	}

	return ctrl.OwnedPartitions()
}

// EstimatedLag returns the number of unprocessed changes per partition.
//
// Partitions whose lag could not be computed report UnknownLag.
//
// Returns:
//   - map[string]int64: Lag keyed by partition ID
//   - error: Lease store listing error
func (p *Processor) EstimatedLag(ctx context.Context) (map[string]int64, error) {
	return p.estimator.EstimateAll(ctx)
}

// CurrentState returns a read-only projection of every lease under the prefix.
func (p *Processor) CurrentState(ctx context.Context) ([]LeaseState, error) {
	return p.estimator.CurrentState(ctx)
}

// transitionState moves the lifecycle state and triggers hooks with the
// lifecycle context of the run.
func (p *Processor) transitionState(ctx context.Context, from, to State) {
	if !isValidTransition(from, to) {
		p.logger.Error("invalid state transition attempted", "from", from.String(), "to", to.String())
		return
	}
	if !p.state.CompareAndSwap(int32(from), int32(to)) { //nolint:gosec // State values are controlled enum
		return
	}

	p.logger.Info("state transition", "from", from.String(), "to", to.String())
	p.metrics.RecordStateTransition(from, to)
	p.hooks.StateChanged(ctx, from, to)
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to State) bool {
	switch from {
	case StateInit, StateStopped:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning
	case StateRunning:
		return to == StateStopping
	case StateStopping:
		return to == StateStopped
	default:
		return false
	}
}

// Estimator reports lag and lease state without owning any lease.
//
// It never writes to the lease store, so it can run beside the processors
// (for example in a monitoring job) without affecting ownership.
type Estimator struct {
	inner *estimator.Estimator
}

// NewEstimator creates an observer-only lag estimator.
//
// Only LeasePrefix, StartFrom, OperationTimeout and Estimator settings of cfg
// are used; HostName may be empty.
//
// Parameters:
//   - cfg: Configuration shared with the processors being observed
//   - store: Lease store the processors use
//   - source: Feed the processors read
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Estimator: Ready-to-use estimator
//   - error: Error wrapping ErrInvalidConfig
func NewEstimator(cfg *Config, store LeaseStore, source FeedSource, opts ...Option) (*Estimator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrLeaseStoreRequired)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrFeedSourceRequired)
	}

	c := *cfg
	SetDefaults(&c)
	if c.HostName == "" {
		c.HostName = "estimator"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	options := applyOptions(opts)

	return &Estimator{inner: newEstimator(&c, store, source, options.logger, options.metrics)}, nil
}

// EstimatedLag returns the number of unprocessed changes per partition.
func (e *Estimator) EstimatedLag(ctx context.Context) (map[string]int64, error) {
	return e.inner.EstimateAll(ctx)
}

// CurrentState returns a read-only projection of every lease under the prefix.
func (e *Estimator) CurrentState(ctx context.Context) ([]LeaseState, error) {
	return e.inner.CurrentState(ctx)
}

// ResetOwners clears the owner of every lease under prefix.
//
// Running processors notice on their next renewal or controller pass, stop
// the affected workers and acquire the leases again from their checkpoints.
// Intended for operator tooling after an incident.
//
// Returns:
//   - int: Number of leases whose owner was cleared
//   - error: Lease store error
func ResetOwners(ctx context.Context, store LeaseStore, prefix string) (int, error) {
	return leasemgr.ResetOwners(ctx, store, prefix)
}

// NewSlogLogger adapts a *slog.Logger (slog.Default() when nil) to Logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}

// NewPrometheusMetrics creates a MetricsCollector that registers its
// collectors with reg under namespace ("changefeed" when empty).
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}

func newEstimator(cfg *Config, store LeaseStore, source FeedSource, logger Logger, m MetricsCollector) *estimator.Estimator {
	return estimator.New(estimator.Config{
		Prefix:           cfg.LeasePrefix,
		StartFrom:        cfg.StartFrom,
		Concurrency:      cfg.Estimator.Concurrency,
		OperationTimeout: cfg.OperationTimeout,
	}, store, source, logger, m)
}

func applyOptions(opts []Option) *processorOptions {
	options := &processorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Safe defaults for optional dependencies avoid nil checks everywhere.
	if options.logger == nil {
		options.logger = logging.NewNop()
	}
	if options.metrics == nil {
		options.metrics = metrics.NewNop()
	}
	if options.clock == nil {
		options.clock = clock.WallClock
	}

	return options
}
