package changefeed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/changefeed/types"
)

var leasePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// EstimatorConfig controls lag estimation.
type EstimatorConfig struct {
	// Concurrency bounds the number of leases estimated in parallel.
	// Default: 8
	Concurrency int `yaml:"concurrency"`
}

// ============================================================================
// Timing Model
// ============================================================================
//
// Three intervals decide how fast ownership moves between instances:
//
// ┌─────────────────────────────────────────────────────────────────────────┐
// │ RenewInterval (17s)                                                     │
// │   - Owners refresh RenewedAt on every owned lease                       │
// │   - Checkpoints refresh it as a side effect                             │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ ExpirationInterval (60s)                                                │
// │   - A lease not renewed for longer is up for grabs                      │
// │   - An owner that cannot renew for this long stops its worker           │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ AcquireInterval (13s)                                                   │
// │   - Controller pass: discover, balance, acquire                         │
// │   - Each pass waits a random [0, ratio*AcquireInterval) once            │
// └─────────────────────────────────────────────────────────────────────────┘
//
// Worst-case failover after a crash is ExpirationInterval + AcquireInterval.
// A graceful Stop releases leases, so failover then takes one AcquireInterval.
//
// Constraints:
//   - ExpirationInterval >= 2 * RenewInterval (one renewal may be missed)
//   - ExpirationInterval >= 3 * RenewInterval (recommended)
//
// ============================================================================

// Config is the configuration of a Processor.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// HostName identifies this instance as a lease owner. Must be unique per running instance.
	HostName string `yaml:"hostName"`

	// LeasePrefix namespaces the leases of one logical processor deployment,
	// so several deployments can share one lease store.
	// Default: "changefeed"
	LeasePrefix string `yaml:"leasePrefix"`

	// RenewInterval is how often owned leases are renewed.
	// Default: 17s
	RenewInterval time.Duration `yaml:"renewInterval"`

	// AcquireInterval is how often the partition controller runs.
	// Default: 13s
	AcquireInterval time.Duration `yaml:"acquireInterval"`

	// ExpirationInterval is how long a lease stays owned without renewal.
	// Default: 60s
	ExpirationInterval time.Duration `yaml:"expirationInterval"`

	// AcquireJitterRatio scales the random delay a controller pass waits
	// before acquiring, as a fraction of AcquireInterval (0 disables jitter).
	// Default: 0.25
	AcquireJitterRatio float64 `yaml:"acquireJitterRatio"`

	// FeedPollDelay is the wait between reads of a partition that had no more changes.
	// Default: 5s
	FeedPollDelay time.Duration `yaml:"feedPollDelay"`

	// MaxItemCount bounds the changes delivered in one batch.
	// Default: 100
	MaxItemCount int `yaml:"maxItemCount"`

	// MinScaleCount is the lowest per-instance lease target (0 = none).
	MinScaleCount int `yaml:"minScaleCount"`

	// MaxScaleCount caps the leases one instance owns (0 = unlimited).
	MaxScaleCount int `yaml:"maxScaleCount"`

	// StartFrom is where partitions without a checkpoint start reading.
	// Default: beginning
	StartFrom types.StartPosition `yaml:"startFrom"`

	// Mode selects latest-version or all-versions-and-deletes delivery.
	// Default: latestVersion
	Mode types.FeedMode `yaml:"mode"`

	// OperationTimeout bounds each lease store and feed call.
	// Default: 10s
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Estimator controls lag estimation.
	Estimator EstimatorConfig `yaml:"estimator"`
}

// DefaultConfig returns a Config with production defaults.
//
// HostName has no default and must be set.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		LeasePrefix:        "changefeed",
		RenewInterval:      17 * time.Second,
		AcquireInterval:    13 * time.Second,
		ExpirationInterval: 60 * time.Second,
		AcquireJitterRatio: 0.25,
		FeedPollDelay:      5 * time.Second,
		MaxItemCount:       100,
		StartFrom:          types.StartPosition{Kind: types.StartFromBeginning},
		Mode:               types.FeedModeLatestVersion,
		OperationTimeout:   10 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		Estimator:          EstimatorConfig{Concurrency: 8},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// AcquireJitterRatio, MinScaleCount and MaxScaleCount keep their zero values,
// which are meaningful.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.LeasePrefix == "" {
		cfg.LeasePrefix = defaults.LeasePrefix
	}
	if cfg.RenewInterval == 0 {
		cfg.RenewInterval = defaults.RenewInterval
	}
	if cfg.AcquireInterval == 0 {
		cfg.AcquireInterval = defaults.AcquireInterval
	}
	if cfg.ExpirationInterval == 0 {
		cfg.ExpirationInterval = defaults.ExpirationInterval
	}
	if cfg.FeedPollDelay == 0 {
		cfg.FeedPollDelay = defaults.FeedPollDelay
	}
	if cfg.MaxItemCount == 0 {
		cfg.MaxItemCount = defaults.MaxItemCount
	}
	if cfg.StartFrom.Kind == "" {
		cfg.StartFrom.Kind = defaults.StartFrom.Kind
	}
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Estimator.Concurrency == 0 {
		cfg.Estimator.Concurrency = defaults.Estimator.Concurrency
	}
}

// Validate checks configuration constraints.
//
// Hard Validation Rules:
//  1. HostName is set
//  2. LeasePrefix is non-empty and matches [A-Za-z0-9_-]+
//  3. RenewInterval, AcquireInterval and FeedPollDelay are > 0
//  4. ExpirationInterval >= 2 * RenewInterval
//  5. MaxItemCount > 0
//  6. 0 <= AcquireJitterRatio < 1
//  7. 0 <= MinScaleCount, 0 <= MaxScaleCount, MinScaleCount <= MaxScaleCount when MaxScaleCount > 0
//  8. StartFrom carries the payload its kind requires
//  9. Mode is known; allVersionsAndDeletes only starts from now or a token
//  10. OperationTimeout, ShutdownTimeout and Estimator.Concurrency are > 0
//
// Returns:
//   - error: Error wrapping ErrInvalidConfig (and ErrHostNameRequired for rule 1), nil if valid
func (cfg *Config) Validate() error {
	// Rule 1: identity
	if cfg.HostName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrHostNameRequired)
	}

	// Rule 2: lease namespace
	if !leasePrefixPattern.MatchString(cfg.LeasePrefix) {
		return invalidf("LeasePrefix %q must match %s", cfg.LeasePrefix, leasePrefixPattern)
	}

	// Rule 3: loop intervals
	if cfg.RenewInterval <= 0 || cfg.AcquireInterval <= 0 || cfg.FeedPollDelay <= 0 {
		return invalidf("RenewInterval (%v), AcquireInterval (%v) and FeedPollDelay (%v) must be > 0",
			cfg.RenewInterval, cfg.AcquireInterval, cfg.FeedPollDelay)
	}

	// Rule 4: expiration must outlive one missed renewal
	if cfg.ExpirationInterval < 2*cfg.RenewInterval {
		return invalidf("ExpirationInterval (%v) must be >= 2*RenewInterval (%v) to allow one missed renewal",
			cfg.ExpirationInterval, cfg.RenewInterval)
	}

	// Rule 5: batch size
	if cfg.MaxItemCount <= 0 {
		return invalidf("MaxItemCount must be > 0, got %d", cfg.MaxItemCount)
	}

	// Rule 6: jitter
	if cfg.AcquireJitterRatio < 0 || cfg.AcquireJitterRatio >= 1 {
		return invalidf("AcquireJitterRatio must be in [0, 1), got %v", cfg.AcquireJitterRatio)
	}

	// Rule 7: scale bounds
	if cfg.MinScaleCount < 0 || cfg.MaxScaleCount < 0 {
		return invalidf("MinScaleCount (%d) and MaxScaleCount (%d) must be >= 0", cfg.MinScaleCount, cfg.MaxScaleCount)
	}
	if cfg.MaxScaleCount > 0 && cfg.MinScaleCount > cfg.MaxScaleCount {
		return invalidf("MinScaleCount (%d) must be <= MaxScaleCount (%d)", cfg.MinScaleCount, cfg.MaxScaleCount)
	}

	// Rule 8: start position payload
	if err := cfg.StartFrom.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// Rule 9: mode and its start positions
	switch cfg.Mode {
	case types.FeedModeLatestVersion:
	case types.FeedModeAllVersionsAndDeletes:
		if cfg.StartFrom.Kind != types.StartFromNow && cfg.StartFrom.Kind != types.StartFromToken {
			return invalidf("mode %q requires StartFrom %q or %q, got %q",
				cfg.Mode, types.StartFromNow, types.StartFromToken, cfg.StartFrom.Kind)
		}
	default:
		return invalidf("unknown mode %q", cfg.Mode)
	}

	// Rule 10: timeouts and estimator
	if cfg.OperationTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return invalidf("OperationTimeout (%v) and ShutdownTimeout (%v) must be > 0", cfg.OperationTimeout, cfg.ShutdownTimeout)
	}
	if cfg.Estimator.Concurrency <= 0 {
		return invalidf("Estimator.Concurrency must be > 0, got %d", cfg.Estimator.Concurrency)
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that are valid but not recommended.
//
// This is called after Validate() in NewProcessor() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.ExpirationInterval < 3*cfg.RenewInterval {
		logger.Warn(
			"ExpirationInterval is below recommended minimum, a slow store may cause lease loss",
			"expirationInterval", cfg.ExpirationInterval,
			"renewInterval", cfg.RenewInterval,
			"recommended", 3*cfg.RenewInterval,
		)
	}

	if cfg.AcquireInterval > cfg.ExpirationInterval {
		logger.Warn(
			"AcquireInterval exceeds ExpirationInterval, expired leases wait long for a new owner",
			"acquireInterval", cfg.AcquireInterval,
			"expirationInterval", cfg.ExpirationInterval,
		)
	}

	if cfg.OperationTimeout > cfg.RenewInterval {
		logger.Warn(
			"OperationTimeout exceeds RenewInterval, a hung store call delays renewals",
			"operationTimeout", cfg.OperationTimeout,
			"renewInterval", cfg.RenewInterval,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// HostName is left empty; every test instance needs its own.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := changefeed.TestConfig()
//	cfg.HostName = "host-a"
//	proc, err := changefeed.NewProcessor(&cfg, store, src, handler)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.RenewInterval = 100 * time.Millisecond      // 170x faster
	cfg.AcquireInterval = 100 * time.Millisecond    // 130x faster
	cfg.ExpirationInterval = 600 * time.Millisecond // 100x faster
	cfg.FeedPollDelay = 20 * time.Millisecond       // 250x faster
	cfg.AcquireJitterRatio = 0.1
	cfg.OperationTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	return cfg
}

// LoadConfig reads a YAML configuration over DefaultConfig().
//
// Keys missing from the document keep their default. Unknown keys are rejected. The result is not validated, so HostName may
// still be filled in by the caller before NewProcessor validates it.
//
// Parameters:
//   - r: YAML source
//
// Returns:
//   - Config: Decoded configuration with defaults applied
//   - error: Decode error wrapping ErrInvalidConfig
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidConfig, err)
	}
	SetDefaults(&cfg)

	return cfg, nil
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return LoadConfig(f)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
