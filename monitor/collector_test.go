package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glimte/afterlocks/observability"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		summary := NewCollector().Summary()
		assert.Empty(t, summary.MessageCounts)
		assert.Empty(t, summary.ErrorCounts)
		assert.Empty(t, summary.ProcessingStats)
		assert.Empty(t, summary.Events)
		assert.False(t, summary.Since.IsZero())
	})

	t.Run("counts messages and errors per type", func(t *testing.T) {
		c := NewCollector()
		c.IncrementMessageCount("AllocateSeats")
		c.IncrementMessageCount("AllocateSeats")
		c.IncrementMessageCount("CancelOrder")
		c.IncrementErrorCount("AllocateSeats", "*errors.errorString")

		summary := c.Summary()
		assert.Equal(t, int64(2), summary.MessageCounts["AllocateSeats"])
		assert.Equal(t, int64(1), summary.MessageCounts["CancelOrder"])
		assert.Equal(t, int64(1), summary.ErrorCounts["AllocateSeats"]["*errors.errorString"])
	})

	t.Run("processing statistics", func(t *testing.T) {
		c := NewCollector()
		for i := 1; i <= 10; i++ {
			c.RecordProcessingTime("AllocateSeats", time.Duration(i*10)*time.Millisecond)
		}

		stats := c.Summary().ProcessingStats["AllocateSeats"]
		assert.Equal(t, int64(10), stats.Count)
		assert.Equal(t, 55*time.Millisecond, stats.Avg)
		assert.Equal(t, 10*time.Millisecond, stats.Min)
		assert.Equal(t, 100*time.Millisecond, stats.Max)
		assert.Equal(t, 50*time.Millisecond, stats.P50)
		assert.Equal(t, 90*time.Millisecond, stats.P95)
	})

	t.Run("percentiles only see the recent window", func(t *testing.T) {
		c := NewCollector()
		for i := 0; i < sampleWindow; i++ {
			c.RecordProcessingTime("Ping", time.Second)
		}
		for i := 0; i < sampleWindow; i++ {
			c.RecordProcessingTime("Ping", time.Millisecond)
		}

		stats := c.Summary().ProcessingStats["Ping"]
		assert.Equal(t, int64(2*sampleWindow), stats.Count)
		assert.Equal(t, time.Millisecond, stats.P99)
		assert.Equal(t, time.Second, stats.Max)
	})

	t.Run("counts observed events", func(t *testing.T) {
		c := NewCollector()
		ctx := context.Background()
		c.OnEvent(ctx, observability.NewEvent(observability.EventHandlerFailed, "dispatcher", nil))
		c.OnEvent(ctx, observability.NewEvent(observability.EventHandlerFailed, "dispatcher", nil))
		c.OnEvent(ctx, observability.NewEvent(observability.EventExchangeTimeout, "bridge", nil))

		assert.Equal(t, int64(2), c.EventCount(observability.EventHandlerFailed))
		assert.Equal(t, int64(1), c.Summary().Events["exchange.timeout"])
		assert.Zero(t, c.EventCount(observability.EventMessageRejected))
	})

	t.Run("Reset clears everything", func(t *testing.T) {
		c := NewCollector()
		c.IncrementMessageCount("Ping")
		c.RecordProcessingTime("Ping", time.Millisecond)
		c.IncrementErrorCount("Ping", "boom")
		c.OnEvent(context.Background(), observability.NewEvent(observability.EventMessageDropped, "bus", nil))

		c.Reset()
		summary := c.Summary()
		assert.Empty(t, summary.MessageCounts)
		assert.Empty(t, summary.ProcessingStats)
		assert.Empty(t, summary.ErrorCounts)
		assert.Empty(t, summary.Events)
	})

	t.Run("safe for concurrent use", func(t *testing.T) {
		c := NewCollector()
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					c.IncrementMessageCount("Ping")
					c.RecordProcessingTime("Ping", time.Duration(j)*time.Microsecond)
					c.OnEvent(context.Background(), observability.NewEvent(observability.EventMessagePublished, "bus", nil))
					_ = c.Summary()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(400), c.Summary().MessageCounts["Ping"])
		assert.Equal(t, int64(400), c.EventCount(observability.EventMessagePublished))
	})

	t.Run("LogSummary writes timings and events", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		c := NewCollector()
		c.RecordProcessingTime("AllocateSeats", time.Millisecond)
		c.OnEvent(context.Background(), observability.NewEvent(observability.EventExchangeResolved, "bridge", nil))

		c.LogSummary(context.Background(), logger)

		assert.Contains(t, buf.String(), "messageType=AllocateSeats")
		assert.Contains(t, buf.String(), "exchange.resolved=1")
	})
}
