package monitor

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/glimte/afterlocks/interceptors"
	"github.com/glimte/afterlocks/observability"
)

const sampleWindow = 100

// Collector keeps in-memory counters for a bus. It is fed from two sides:
// the metrics interceptor reports per-handler timings and failures, and the
// bus, bridge and circuit breakers report events through OnEvent.
//
// Both sides are called on hot paths, so every method only takes a short lock.
type Collector struct {
	mu sync.RWMutex

	messageCounters map[string]int64
	errorCounters   map[string]map[string]int64
	processingTimes map[string]*timeStats
	eventCounters   map[observability.EventType]int64
	since           time.Time
}

type timeStats struct {
	count   int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	c := &Collector{}
	c.Reset()
	return c
}

// IncrementMessageCount implements interceptors.MetricsCollector
func (c *Collector) IncrementMessageCount(messageType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCounters[messageType]++
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (c *Collector) RecordProcessingTime(messageType string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.processingTimes[messageType]
	if !exists {
		stats = &timeStats{min: duration, max: duration, samples: make([]time.Duration, 0, sampleWindow)}
		c.processingTimes[messageType] = stats
	}

	stats.count++
	stats.total += duration
	stats.min = min(stats.min, duration)
	stats.max = max(stats.max, duration)

	if len(stats.samples) == sampleWindow {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *Collector) IncrementErrorCount(messageType string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorCounters[messageType] == nil {
		c.errorCounters[messageType] = make(map[string]int64)
	}
	c.errorCounters[messageType][errorType]++
}

// OnEvent implements observability.Observer
func (c *Collector) OnEvent(ctx context.Context, event observability.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventCounters[event.Type]++
}

// EventCount returns how many events of eventType were observed
func (c *Collector) EventCount(eventType observability.EventType) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventCounters[eventType]
}

// Summary is a point-in-time copy of the collected metrics
type Summary struct {
	Since           time.Time                   `json:"since"`
	MessageCounts   map[string]int64            `json:"message_counts"`
	ErrorCounts     map[string]map[string]int64 `json:"error_counts"`
	ProcessingStats map[string]ProcessingStats  `json:"processing_stats"`
	Events          map[string]int64            `json:"events"`
}

// ProcessingStats summarizes handler processing time for one message type.
// Percentiles cover the most recent samples only.
type ProcessingStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// Summary returns a copy of everything collected since the last Reset
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := Summary{
		Since:           c.since,
		MessageCounts:   make(map[string]int64, len(c.messageCounters)),
		ErrorCounts:     make(map[string]map[string]int64, len(c.errorCounters)),
		ProcessingStats: make(map[string]ProcessingStats, len(c.processingTimes)),
		Events:          make(map[string]int64, len(c.eventCounters)),
	}

	for msgType, count := range c.messageCounters {
		summary.MessageCounts[msgType] = count
	}
	for msgType, errs := range c.errorCounters {
		counts := make(map[string]int64, len(errs))
		for errorType, count := range errs {
			counts[errorType] = count
		}
		summary.ErrorCounts[msgType] = counts
	}
	for msgType, stats := range c.processingTimes {
		sorted := slices.Clone(stats.samples)
		slices.Sort(sorted)
		summary.ProcessingStats[msgType] = ProcessingStats{
			Count: stats.count,
			Avg:   stats.total / time.Duration(stats.count),
			Min:   stats.min,
			Max:   stats.max,
			P50:   percentile(sorted, 0.50),
			P95:   percentile(sorted, 0.95),
			P99:   percentile(sorted, 0.99),
		}
	}
	for eventType, count := range c.eventCounters {
		summary.Events[string(eventType)] = count
	}

	return summary
}

// percentile picks the nearest-rank value from sorted samples
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

// Reset clears all collected metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageCounters = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.processingTimes = make(map[string]*timeStats)
	c.eventCounters = make(map[observability.EventType]int64)
	c.since = time.Now()
}

// LogSummary writes the summary to logger, one record per message type
func (c *Collector) LogSummary(ctx context.Context, logger *slog.Logger) {
	summary := c.Summary()

	for _, msgType := range slices.Sorted(maps.Keys(summary.ProcessingStats)) {
		stats := summary.ProcessingStats[msgType]
		logger.InfoContext(ctx, "handler timings",
			"messageType", msgType,
			"count", stats.Count,
			"avg", stats.Avg,
			"p95", stats.P95,
			"max", stats.Max,
			"errors", sum(summary.ErrorCounts[msgType]),
		)
	}

	attrs := make([]any, 0, 2*len(summary.Events))
	for _, eventType := range slices.Sorted(maps.Keys(summary.Events)) {
		attrs = append(attrs, eventType, summary.Events[eventType])
	}
	logger.InfoContext(ctx, "bus events", attrs...)
}

func sum(counts map[string]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

var (
	_ interceptors.MetricsCollector = (*Collector)(nil)
	_ observability.Observer        = (*Collector)(nil)
)
