package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/afterlocks/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Run("accepts descriptors and five-field specs", func(t *testing.T) {
		for _, spec := range []string{"@every 30s", "@hourly", "*/5 * * * *"} {
			_, err := ParseSchedule(spec)
			assert.NoError(t, err, spec)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseSchedule("every now and then")
		assert.Error(t, err)
	})
}

func TestJanitor(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to the standard schedule", func(t *testing.T) {
		bus := startBus(t)
		j, err := NewJanitor(bus, "")
		require.NoError(t, err)

		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, start.Add(30*time.Second), j.Next(start))
	})

	t.Run("Sweep expires idle subscriptions through the pump", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		bus := startBus(t, WithCorrelationTTL(time.Second), WithClock(clock.Now))
		require.NoError(t, SubscribeCorrelated[*pong](ctx, bus, contracts.NewToken(), &recorder[*pong]{}))
		drain(t, bus)
		clock.Advance(time.Minute)

		j, err := NewJanitor(bus, "@every 1h")
		require.NoError(t, err)

		assert.Equal(t, 1, j.Sweep(ctx))
		assert.Zero(t, drain(t, bus).Subscriptions())
	})

	t.Run("scheduled sweeps run until stopped", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		bus := startBus(t, WithCorrelationTTL(time.Second), WithClock(clock.Now))
		require.NoError(t, SubscribeCorrelated[*pong](ctx, bus, contracts.NewToken(), &recorder[*pong]{}))
		drain(t, bus)
		clock.Advance(time.Minute)

		j, err := NewJanitor(bus, "@every 1s")
		require.NoError(t, err)
		j.Start(ctx)
		j.Start(ctx)
		defer j.Stop()

		assert.Eventually(t, func() bool {
			snapshot, err := bus.Snapshot(ctx)
			return err == nil && snapshot.Subscriptions() == 0
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("Sweep on a closed bus reports nothing", func(t *testing.T) {
		bus, err := NewBus()
		require.NoError(t, err)
		require.NoError(t, bus.Close(ctx))

		j, err := NewJanitor(bus, "@every 1h")
		require.NoError(t, err)
		assert.Zero(t, j.Sweep(ctx))
	})
}
