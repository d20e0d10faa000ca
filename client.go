// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package afterlocks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/glimte/afterlocks/bridge"
	"github.com/glimte/afterlocks/config"
	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/interceptors"
	"github.com/glimte/afterlocks/internal/reliability"
	"github.com/glimte/afterlocks/messaging"
	"github.com/glimte/afterlocks/monitor"
	"github.com/glimte/afterlocks/observability"
)

// Client provides the main entry point for afterlocks: a started bus, a
// task bridge over it, the correlation janitor and an in-memory metrics
// collector, all configured from one config.Config.
type Client struct {
	config    config.Config
	logger    *slog.Logger
	bus       *messaging.Bus
	bridge    *bridge.TaskBridge
	janitor   *messaging.Janitor
	collector *monitor.Collector

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a client with the default configuration
func NewClient() (*Client, error) {
	return NewClientWithOptions()
}

// NewClientFromFile loads the configuration at path and creates a client
func NewClientFromFile(path string, options ...ClientOption) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewClientWithOptions(append([]ClientOption{WithConfig(*cfg)}, options...)...)
}

// NewClientWithOptions creates a client with options
func NewClientWithOptions(options ...ClientOption) (*Client, error) {
	cc := &clientConfig{
		config:    config.Default(),
		logOutput: os.Stderr,
	}
	for _, opt := range options {
		opt(cc)
	}

	cfg := cc.config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cc.logger
	if logger == nil {
		var err error
		if logger, err = cfg.Log.NewLogger(cc.logOutput); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	configured, err := cfg.ResolveObservers()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observers: %w", err)
	}
	collector := monitor.NewCollector()
	observers := append([]observability.Observer{collector, observability.NewSlogObserver(logger)}, configured...)
	observer := observability.NewFanout(append(observers, cc.observers...)...)

	builder := interceptors.NewChainBuilder(logger).
		WithLogging().
		WithMetrics(collector)
	for _, interceptor := range cc.interceptors {
		builder.WithCustom(interceptor)
	}

	busOptions, err := cfg.BusOptions()
	if err != nil {
		return nil, err
	}
	busOptions = append(busOptions,
		messaging.WithLogger(logger),
		messaging.WithObserver(observer),
		messaging.WithInterceptors(builder.Build()),
	)
	bus, err := messaging.NewBus(append(busOptions, cc.busOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}

	bridgeOptions := append(cfg.BridgeOptions(),
		bridge.WithLogger(logger),
		bridge.WithObserver(observer),
	)
	if cfg.Bridge.BreakerThreshold > 0 {
		bridgeOptions = append(bridgeOptions, bridge.WithBridgeCircuitBreaker(reliability.NewCircuitBreaker(
			reliability.WithName("bridge.publish"),
			reliability.WithFailureThreshold(cfg.Bridge.BreakerThreshold),
			reliability.WithTimeout(cfg.Bridge.BreakerTimeout),
			reliability.WithObserver(observer),
		)))
	}
	tb, err := bridge.NewTaskBridge(bus, append(bridgeOptions, cc.bridgeOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	janitor, err := messaging.NewJanitor(bus, cfg.Correlation.SweepSchedule, messaging.WithJanitorLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create janitor: %w", err)
	}

	return &Client{
		config:    cfg,
		logger:    logger,
		bus:       bus,
		bridge:    tb,
		janitor:   janitor,
		collector: collector,
	}, nil
}

// Start launches the pump and, when correlation expiry is enabled, the
// janitor
func (c *Client) Start(ctx context.Context) error {
	if err := c.bus.Start(ctx); err != nil {
		return err
	}
	if c.config.Correlation.TTL > 0 {
		c.janitor.Start(ctx)
	}
	c.logger.InfoContext(ctx, "afterlocks client started",
		"queueCapacity", c.config.Queue.Capacity,
		"backpressure", c.config.Queue.Backpressure,
	)
	return nil
}

// Publish enqueues msg on the client's bus
func (c *Client) Publish(ctx context.Context, msg contracts.Message) error {
	return c.bus.Publish(ctx, msg)
}

// Bus returns the underlying bus
func (c *Client) Bus() *messaging.Bus {
	return c.bus
}

// Bridge returns the task bridge for request/response exchanges
func (c *Client) Bridge() *bridge.TaskBridge {
	return c.bridge
}

// Metrics returns the collector fed by the bus and the bridge
func (c *Client) Metrics() *monitor.Collector {
	return c.collector
}

// Logger returns the client logger
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Config returns the effective configuration
func (c *Client) Config() config.Config {
	return c.config
}

// Close stops the janitor, cancels pending exchanges and drains the bus.
// ctx bounds the drain; Close may be called more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.janitor.Stop()
		c.closeErr = errors.Join(
			c.bridge.Close(ctx),
			c.bus.Close(ctx),
		)
		c.logger.InfoContext(ctx, "afterlocks client closed")
	})
	return c.closeErr
}

// clientConfig holds client configuration
type clientConfig struct {
	config        config.Config
	logger        *slog.Logger
	logOutput     io.Writer
	observers     []observability.Observer
	interceptors  []interceptors.Interceptor
	busOptions    []messaging.BusOption
	bridgeOptions []bridge.BridgeOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithConfig replaces the default configuration
func WithConfig(cfg config.Config) ClientOption {
	return func(cc *clientConfig) {
		cc.config = cfg
	}
}

// WithLogger sets the logger for all components, overriding the log section
// of the configuration
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cc *clientConfig) {
		cc.logger = logger
	}
}

// WithLogOutput sets where the configured logger writes; stderr by default
func WithLogOutput(w io.Writer) ClientOption {
	return func(cc *clientConfig) {
		if w != nil {
			cc.logOutput = w
		}
	}
}

// WithObserver adds an observer next to the built-in metrics and log observers
func WithObserver(observer observability.Observer) ClientOption {
	return func(cc *clientConfig) {
		cc.observers = append(cc.observers, observer)
	}
}

// WithInterceptor appends an interceptor after the built-in logging and
// metrics interceptors
func WithInterceptor(interceptor interceptors.Interceptor) ClientOption {
	return func(cc *clientConfig) {
		cc.interceptors = append(cc.interceptors, interceptor)
	}
}

// WithBusOptions applies extra bus options after the configured ones
func WithBusOptions(options ...messaging.BusOption) ClientOption {
	return func(cc *clientConfig) {
		cc.busOptions = append(cc.busOptions, options...)
	}
}

// WithBridgeOptions applies extra bridge options after the configured ones
func WithBridgeOptions(options ...bridge.BridgeOption) ClientOption {
	return func(cc *clientConfig) {
		cc.bridgeOptions = append(cc.bridgeOptions, options...)
	}
}
