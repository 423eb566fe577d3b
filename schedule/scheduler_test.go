package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a settable instant.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 10, hour, minute, 0, 0, time.UTC)
}

func TestScheduler_FiresAtRegisteredMinute(t *testing.T) {
	clock := &fakeClock{now: at(12, 14)}
	s := New(clock)

	var fired int
	s.At("12:15", "sales", func(ctx context.Context) error {
		fired++
		return nil
	})

	// One minute early: nothing
	s.RunPending(context.Background())
	assert.Equal(t, 0, fired)

	// On the minute: fires once
	clock.now = at(12, 15)
	s.RunPending(context.Background())
	assert.Equal(t, 1, fired)
}

func TestScheduler_NoDoubleFireWithinTheMinute(t *testing.T) {
	clock := &fakeClock{now: at(12, 15)}
	s := New(clock)

	var fired int
	s.At("12:15", "sales", func(ctx context.Context) error {
		fired++
		return nil
	})

	// A fast job can finish well before the next tick; repeated checks in
	// the same minute must not rerun it.
	s.RunPending(context.Background())
	clock.now = at(12, 15).Add(20 * time.Second)
	s.RunPending(context.Background())
	assert.Equal(t, 1, fired)
}

func TestScheduler_FiresAgainTheNextDay(t *testing.T) {
	clock := &fakeClock{now: at(12, 15)}
	s := New(clock)

	var fired int
	s.At("12:15", "sales", func(ctx context.Context) error {
		fired++
		return nil
	})

	s.RunPending(context.Background())
	clock.now = at(12, 15).AddDate(0, 0, 1)
	s.RunPending(context.Background())
	assert.Equal(t, 2, fired)
}

func TestScheduler_OverrunDelaysButNeverSkips(t *testing.T) {
	// GIVEN: Stock at 12:40 and incoming at 12:59, registered in the morning
	clock := &fakeClock{now: at(9, 0)}
	s := New(clock)

	var stock, incoming int
	s.At("12:40", "stock", func(ctx context.Context) error {
		stock++
		return nil
	})
	s.At("12:59", "prihod", func(ctx context.Context) error {
		incoming++
		return nil
	})

	// WHEN: The 12:40 check fires stock, and the stock pass runs so long
	// that the next check only happens at 13:05
	clock.now = at(12, 40)
	s.RunPending(context.Background())
	clock.now = at(13, 5)
	s.RunPending(context.Background())

	// THEN: The overrun 12:59 job fires late instead of being skipped,
	// and neither job fires again before its next day's slot
	assert.Equal(t, 1, stock)
	assert.Equal(t, 1, incoming)

	clock.now = at(13, 6)
	s.RunPending(context.Background())
	assert.Equal(t, 1, stock)
	assert.Equal(t, 1, incoming)
}

func TestScheduler_MultiDayGapFiresOnce(t *testing.T) {
	// A process paused across several due times catches up with a single
	// firing, not one per missed day
	clock := &fakeClock{now: at(9, 0)}
	s := New(clock)

	var fired int
	s.At("12:15", "sales", func(ctx context.Context) error {
		fired++
		return nil
	})

	clock.now = at(12, 15).AddDate(0, 0, 3)
	s.RunPending(context.Background())
	assert.Equal(t, 1, fired)

	// The due time lands in the future, not in the skipped past
	clock.now = clock.now.Add(time.Minute)
	s.RunPending(context.Background())
	assert.Equal(t, 1, fired)
}

func TestScheduler_PastTimeWaitsForTomorrow(t *testing.T) {
	// Registering a time already passed today must not fire immediately
	clock := &fakeClock{now: at(13, 0)}
	s := New(clock)

	var fired int
	s.At("12:15", "sales", func(ctx context.Context) error {
		fired++
		return nil
	})

	s.RunPending(context.Background())
	assert.Equal(t, 0, fired)

	clock.now = at(12, 15).AddDate(0, 0, 1)
	s.RunPending(context.Background())
	assert.Equal(t, 1, fired)
}

func TestScheduler_FiresInRegistrationOrder(t *testing.T) {
	clock := &fakeClock{now: at(12, 15)}
	s := New(clock)

	var order []string
	s.At("12:15", "first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	s.At("12:15", "second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})
	s.At("12:40", "later", func(ctx context.Context) error {
		order = append(order, "later")
		return nil
	})

	s.RunPending(context.Background())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestScheduler_JobFailureDoesNotStopOthers(t *testing.T) {
	clock := &fakeClock{now: at(12, 15)}
	s := New(clock)

	var ran bool
	s.At("12:15", "broken", func(ctx context.Context) error {
		return assert.AnError
	})
	s.At("12:15", "healthy", func(ctx context.Context) error {
		ran = true
		return nil
	})

	s.RunPending(context.Background())
	assert.True(t, ran)
}

func TestStartupRunner_RunsImmediateAndDelayedJobs(t *testing.T) {
	var immediate, delayed atomic.Int32
	r := NewStartupRunner([]StartupJob{
		{Name: "sales", Delay: 0, Job: func(ctx context.Context) error {
			immediate.Add(1)
			return nil
		}},
		{Name: "stock", Delay: 5 * time.Millisecond, Job: func(ctx context.Context) error {
			delayed.Add(1)
			return nil
		}},
	})

	r.Start(context.Background())
	require.Eventually(t, func() bool {
		return immediate.Load() == 1 && delayed.Load() == 1
	}, time.Second, time.Millisecond)
	r.Stop()
}

func TestStartupRunner_StopCancelsPendingDelays(t *testing.T) {
	var fired atomic.Int32
	r := NewStartupRunner([]StartupJob{
		{Name: "stock", Delay: time.Hour, Job: func(ctx context.Context) error {
			fired.Add(1)
			return nil
		}},
	})

	r.Start(context.Background())
	r.Stop() // must return promptly, not wait the hour
	assert.EqualValues(t, 0, fired.Load())
}
