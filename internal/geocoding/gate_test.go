package geocoding

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock fires every timer immediately and advances virtual time by the
// requested duration.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateGate_VirtualClock(t *testing.T) {
	clock := newFakeClock()
	gate := NewRateGateWithClock(time.Second, clock)
	ctx := context.Background()

	var admitted []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Wait(ctx))
		admitted = append(admitted, clock.Now())
	}

	for i := 1; i < len(admitted); i++ {
		assert.GreaterOrEqual(t, admitted[i].Sub(admitted[i-1]), time.Second)
	}
	assert.Len(t, clock.waits, 2)
}

func TestRateGate_NoWaitAfterIdle(t *testing.T) {
	clock := newFakeClock()
	gate := NewRateGateWithClock(time.Second, clock)

	require.NoError(t, gate.Wait(context.Background()))
	clock.Advance(5 * time.Second)
	require.NoError(t, gate.Wait(context.Background()))

	assert.Empty(t, clock.waits)
}

func TestRateGate_PartialWait(t *testing.T) {
	clock := newFakeClock()
	gate := NewRateGateWithClock(time.Second, clock)

	require.NoError(t, gate.Wait(context.Background()))
	clock.Advance(400 * time.Millisecond)
	require.NoError(t, gate.Wait(context.Background()))

	require.NotEmpty(t, clock.waits)
	assert.InDelta(t, float64(600*time.Millisecond), float64(clock.waits[0]), float64(time.Millisecond))
}

func TestRateGate_Disabled(t *testing.T) {
	clock := newFakeClock()
	gate := NewRateGateWithClock(0, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, gate.Wait(context.Background()))
	}
	assert.Empty(t, clock.waits)
}

func TestRateGate_ContextCancelled(t *testing.T) {
	gate := NewRateGate(time.Hour)
	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := gate.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateGate_ConcurrentSpacing(t *testing.T) {
	interval := 50 * time.Millisecond
	gate := NewRateGate(interval)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Wait(context.Background()); err != nil {
				t.Error(err)
				return
			}
			now := time.Now()
			mu.Lock()
			times = append(times, now)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval-10*time.Millisecond)
	}
}
