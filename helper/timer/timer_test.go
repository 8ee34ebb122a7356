package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunWithTickerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunWithTicker(ctx, Interval{Duration: 10 * time.Millisecond}, func(context.Context) error {
			ticks.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunWithTicker did not stop after cancel")
	}
}

func TestRunWithTickerPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := RunWithTicker(context.Background(), Interval{Duration: time.Millisecond}, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestSymmetricJitterBounds(t *testing.T) {
	j := symmetricJitter{max: 20 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := j.Jitter(100 * time.Millisecond)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
		require.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestZeroJitterIsIdentity(t *testing.T) {
	j := symmetricJitter{}
	require.Equal(t, time.Second, j.Jitter(time.Second))
}
