package progression

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiterEscalatesIntervals(t *testing.T) {
	w := newWaiter(time.Millisecond, time.Now().Add(time.Hour))

	assert.Equal(t, time.Millisecond, w.interval())

	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, 2*time.Millisecond, w.interval())

	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, 3*time.Millisecond, w.interval())

	// the interval stays at three times the base from then on
	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, 3*time.Millisecond, w.interval())
}

func TestWaiterReportsDeadline(t *testing.T) {
	w := newWaiter(time.Minute, time.Now().Add(5*time.Millisecond))
	assert.ErrorIs(t, w.Wait(context.Background()), errDeadlineReached)
}

func TestWaiterReportsPassedDeadlineImmediately(t *testing.T) {
	w := newWaiter(time.Millisecond, time.Now().Add(-time.Second))

	start := time.Now()
	assert.ErrorIs(t, w.Wait(context.Background()), errDeadlineReached)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaiterAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newWaiter(time.Minute, time.Now().Add(time.Hour))
	assert.ErrorIs(t, w.Wait(ctx), context.Canceled)
}
