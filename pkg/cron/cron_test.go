package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/election-api/pkg/logger"
)

func TestRunnerAddRejectsBadSpec(t *testing.T) {
	r := NewRunner(clockwork.NewFakeClock(), nil, logger.Nop())
	assert.Error(t, r.Add("bad", "not a cron", func(context.Context) error { return nil }))
}

func TestRunnerNext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 7, 30, 0, 0, time.UTC))
	r := NewRunner(clock, time.UTC, logger.Nop())
	require.NoError(t, r.Add("morning", "0 8 * * *", func(context.Context) error { return nil }))

	assert.Equal(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), r.Next("morning"))
	assert.True(t, r.Next("missing").IsZero())
}

func TestRunnerKeepsRunningAfterFailures(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))
	r := NewRunner(clock, time.UTC, logger.Nop())

	var calls atomic.Int32
	require.NoError(t, r.Add("flaky", "* * * * *", func(context.Context) error {
		n := calls.Add(1)
		if n == 1 {
			return errors.New("first run fails")
		}
		if n == 2 {
			panic("second run panics")
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	for i := 1; i <= 3; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Minute)
		want := int32(i)
		require.Eventually(t, func() bool { return calls.Load() >= want }, time.Second, 5*time.Millisecond)
	}

	cancel()
	r.Wait()
	assert.Equal(t, int32(3), calls.Load())
}
