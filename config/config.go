package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/glimte/afterlocks/bridge"
	"github.com/glimte/afterlocks/internal/reliability"
	"github.com/glimte/afterlocks/messaging"
	"github.com/glimte/afterlocks/observability"
)

// Config is the file-backed configuration of a client. Durations are written
// as Go duration strings ("30s", "5m").
type Config struct {
	Queue       QueueConfig       `yaml:"queue" toml:"queue"`
	Bridge      BridgeConfig      `yaml:"bridge" toml:"bridge"`
	Correlation CorrelationConfig `yaml:"correlation" toml:"correlation"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	// Observers names extra observers from the observability registry
	// ("noop", "slog" or any name registered by the application)
	Observers []string `yaml:"observers" toml:"observers"`
}

// QueueConfig sizes the ingress queue
type QueueConfig struct {
	Capacity     int    `yaml:"capacity" toml:"capacity"`
	Backpressure string `yaml:"backpressure" toml:"backpressure"`
}

// BridgeConfig configures request/response exchanges
type BridgeConfig struct {
	// Timeout of an exchange; 0 waits indefinitely
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// MaxPending caps unresolved exchanges; 0 means unlimited
	MaxPending     int           `yaml:"maxPending" toml:"maxPending"`
	PublishRetries int           `yaml:"publishRetries" toml:"publishRetries"`
	RetryDelay     time.Duration `yaml:"retryDelay" toml:"retryDelay"`
	// RetryMaxDelay switches publish retries to exponential backoff from
	// RetryDelay up to this bound when it is larger than RetryDelay
	RetryMaxDelay time.Duration `yaml:"retryMaxDelay" toml:"retryMaxDelay"`
	// BreakerThreshold opens a circuit over request publishing after that
	// many consecutive failures; 0 disables the breaker
	BreakerThreshold int           `yaml:"breakerThreshold" toml:"breakerThreshold"`
	BreakerTimeout   time.Duration `yaml:"breakerTimeout" toml:"breakerTimeout"`
}

// CorrelationConfig controls expiry of idle correlated subscriptions
type CorrelationConfig struct {
	// TTL after which an untouched entry is swept; 0 disables expiry
	TTL           time.Duration `yaml:"ttl" toml:"ttl"`
	SweepSchedule string        `yaml:"sweepSchedule" toml:"sweepSchedule"`
}

// LogConfig selects the level and format of the client logger
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Queue: QueueConfig{
			Capacity:     messaging.DefaultQueueCapacity,
			Backpressure: messaging.Block.String(),
		},
		Bridge: BridgeConfig{
			Timeout:        30 * time.Second,
			PublishRetries: 3,
			RetryDelay:     5 * time.Millisecond,
			BreakerTimeout: 30 * time.Second,
		},
		Correlation: CorrelationConfig{
			TTL:           5 * time.Minute,
			SweepSchedule: messaging.DefaultSweepSchedule,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path on top of the defaults. The format follows the
// extension: .yaml/.yml or .toml. An empty path or a missing file yields the
// defaults; a file that cannot be parsed or validated is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidationError reports one invalid field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks every field and joins all problems found
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Queue.Capacity <= 0 {
		invalid("queue.capacity", "must be positive, got %d", c.Queue.Capacity)
	}
	if _, err := messaging.ParseBackpressurePolicy(c.Queue.Backpressure); err != nil {
		invalid("queue.backpressure", "%v", err)
	}
	if c.Bridge.Timeout < 0 {
		invalid("bridge.timeout", "must not be negative")
	}
	if c.Bridge.MaxPending < 0 {
		invalid("bridge.maxPending", "must not be negative")
	}
	if c.Bridge.PublishRetries < 0 {
		invalid("bridge.publishRetries", "must not be negative")
	}
	if c.Bridge.RetryDelay < 0 {
		invalid("bridge.retryDelay", "must not be negative")
	}
	if c.Bridge.RetryMaxDelay < 0 {
		invalid("bridge.retryMaxDelay", "must not be negative")
	}
	if c.Bridge.BreakerThreshold < 0 {
		invalid("bridge.breakerThreshold", "must not be negative")
	}
	if c.Bridge.BreakerThreshold > 0 && c.Bridge.BreakerTimeout <= 0 {
		invalid("bridge.breakerTimeout", "must be positive when the breaker is enabled")
	}
	if c.Correlation.TTL < 0 {
		invalid("correlation.ttl", "must not be negative")
	}
	if c.Correlation.SweepSchedule != "" {
		if _, err := messaging.ParseSchedule(c.Correlation.SweepSchedule); err != nil {
			invalid("correlation.sweepSchedule", "%v", err)
		}
	}
	if _, err := c.Log.level(); err != nil {
		invalid("log.level", "%v", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		invalid("log.format", "expected text or json, got %q", c.Log.Format)
	}
	for _, name := range c.Observers {
		if _, err := observability.GetObserver(name); err != nil {
			invalid("observers", "%v", err)
		}
	}

	return errors.Join(errs...)
}

// BusOptions converts the queue and correlation settings
func (c *Config) BusOptions() ([]messaging.BusOption, error) {
	policy, err := messaging.ParseBackpressurePolicy(c.Queue.Backpressure)
	if err != nil {
		return nil, err
	}
	return []messaging.BusOption{
		messaging.WithQueueCapacity(c.Queue.Capacity),
		messaging.WithBackpressure(policy),
		messaging.WithCorrelationTTL(c.Correlation.TTL),
	}, nil
}

// BridgeOptions converts the bridge settings
func (c *Config) BridgeOptions() []bridge.BridgeOption {
	return []bridge.BridgeOption{
		bridge.WithDefaultTimeout(c.Bridge.Timeout),
		bridge.WithMaxPendingRequests(c.Bridge.MaxPending),
		bridge.WithBridgeRetryPolicy(c.publishRetryPolicy()),
	}
}

func (c *Config) publishRetryPolicy() reliability.RetryPolicy {
	if c.Bridge.RetryMaxDelay > c.Bridge.RetryDelay {
		return reliability.NewExponentialBackoff(c.Bridge.RetryDelay, c.Bridge.RetryMaxDelay, 2, c.Bridge.PublishRetries)
	}
	return reliability.NewFixedDelay(c.Bridge.RetryDelay, c.Bridge.PublishRetries)
}

// ResolveObservers looks up every configured observer name
func (c *Config) ResolveObservers() ([]observability.Observer, error) {
	observers := make([]observability.Observer, 0, len(c.Observers))
	for _, name := range c.Observers {
		obs, err := observability.GetObserver(name)
		if err != nil {
			return nil, err
		}
		observers = append(observers, obs)
	}
	return observers, nil
}

// NewLogger builds the client logger writing to w
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, err
	}
	return level, nil
}
