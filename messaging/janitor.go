package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs a correlation sweep every thirty seconds
const DefaultSweepSchedule = "@every 30s"

var scheduleParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// ParseSchedule validates a five-field cron expression or a descriptor such
// as "@every 30s" or "@hourly"
func ParseSchedule(spec string) (robfigcron.Schedule, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Janitor periodically asks the bus to expire idle correlated subscriptions.
// The sweep itself runs on the pump; the janitor only publishes the request.
type Janitor struct {
	bus      *Bus
	schedule robfigcron.Schedule
	spec     string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *robfigcron.Cron
	running bool
}

// JanitorOption configures a Janitor
type JanitorOption func(*Janitor)

// WithJanitorLogger sets the logger
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithSweepTimeout bounds how long one sweep request may wait for the pump
func WithSweepTimeout(timeout time.Duration) JanitorOption {
	return func(j *Janitor) {
		if timeout > 0 {
			j.timeout = timeout
		}
	}
}

// NewJanitor creates a janitor for bus running on spec
func NewJanitor(bus *Bus, spec string, options ...JanitorOption) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	j := &Janitor{
		bus:      bus,
		schedule: schedule,
		spec:     spec,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(j)
	}
	return j, nil
}

// Start schedules sweeps until Stop is called
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}

	ctx = context.WithoutCancel(ctx)
	j.cron = robfigcron.New()
	j.cron.Schedule(j.schedule, robfigcron.FuncJob(func() { j.Sweep(ctx) }))
	j.cron.Start()
	j.running = true

	j.logger.InfoContext(ctx, "correlation janitor started", "schedule", j.spec)
}

// Stop cancels future sweeps and waits for a running one to finish
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	running := j.running
	j.running = false
	j.mu.Unlock()

	if !running {
		return
	}
	<-c.Stop().Done()
}

// Sweep runs one sweep immediately and returns the number of removed
// subscriptions
func (j *Janitor) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	removed, err := j.bus.SweepCorrelations(ctx)
	if err != nil {
		j.logger.WarnContext(ctx, "correlation sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		j.logger.InfoContext(ctx, "expired correlated subscriptions", "removed", removed)
	}
	return removed
}

// Next returns the time of the next sweep after t
func (j *Janitor) Next(t time.Time) time.Time {
	return j.schedule.Next(t)
}
