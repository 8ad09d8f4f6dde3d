/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/log/logtest"
	"github.com/acronis/go-crptclient/testutil"
)

// newHourLimiter creates a started limiter whose ticks never fire during a test,
// so replenishment is driven by calling tick manually.
func newHourLimiter(t *testing.T, capacity int, opts FixedWindowLimiterOpts) *FixedWindowLimiter {
	t.Helper()
	l, err := NewFixedWindowLimiterWithOpts(PeriodOf(TimeUnitHour), capacity, opts)
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	return l
}

func acquireAsync(ctx context.Context, l *FixedWindowLimiter) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()
	return done
}

func requireBlocked(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.FailNow(t, "acquire should be blocked", "returned with %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		require.FailNow(t, "acquire should not be blocked")
		return nil
	}
}

func TestNewFixedWindowLimiter(t *testing.T) {
	tests := []struct {
		name      string
		period    Period
		capacity  int
		wantParam string
	}{
		{name: "zero capacity", period: PeriodOf(TimeUnitSecond), capacity: 0, wantParam: "capacity"},
		{name: "negative capacity", period: PeriodOf(TimeUnitSecond), capacity: -1, wantParam: "capacity"},
		{name: "unknown unit", period: Period{Unit: "fortnight", Count: 1}, capacity: 1, wantParam: "period"},
		{name: "empty unit", period: Period{}, capacity: 1, wantParam: "period"},
		{name: "negative count", period: Period{Unit: TimeUnitSecond, Count: -1}, capacity: 1, wantParam: "period"},
		{name: "overflow", period: Period{Unit: TimeUnitDay, Count: 1 << 40}, capacity: 1, wantParam: "period"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewFixedWindowLimiter(tt.period, tt.capacity)
			require.Nil(t, l)
			require.ErrorIs(t, err, ErrInvalidConfig)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, tt.wantParam, cfgErr.Param)
		})
	}

	t.Run("zero count means one unit", func(t *testing.T) {
		l, err := NewFixedWindowLimiter(Period{Unit: TimeUnitMinute}, 3)
		require.NoError(t, err)
		defer l.Stop()
		require.Equal(t, time.Minute, l.Period())
		require.Equal(t, 3, l.Capacity())
		require.Equal(t, 3, l.Available())
	})

	t.Run("must panics on invalid parameters", func(t *testing.T) {
		require.Panics(t, func() {
			MustFixedWindowLimiter(PeriodOf(TimeUnitSecond), 0, FixedWindowLimiterOpts{})
		})
	})
}

func TestFixedWindowLimiter_Acquire(t *testing.T) {
	t.Run("permits within capacity are granted immediately", func(t *testing.T) {
		const capacity = 5
		l := newHourLimiter(t, capacity, FixedWindowLimiterOpts{})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		for i := 0; i < capacity; i++ {
			require.NoError(t, l.Acquire(ctx))
		}
		require.Equal(t, 0, l.Available())
		require.Equal(t, uint64(capacity), l.Stats().Granted)
	})

	t.Run("blocks until replenishment", func(t *testing.T) {
		const capacity = 3
		l := newHourLimiter(t, capacity, FixedWindowLimiterOpts{})
		for i := 0; i < capacity; i++ {
			require.True(t, l.TryAcquire())
		}

		done := acquireAsync(context.Background(), l)
		requireBlocked(t, done)

		l.tick()
		require.NoError(t, requireDone(t, done))
		require.Equal(t, capacity-1, l.Available())
	})

	t.Run("blocks until release", func(t *testing.T) {
		l := newHourLimiter(t, 1, FixedWindowLimiterOpts{})
		require.True(t, l.TryAcquire())

		done := acquireAsync(context.Background(), l)
		requireBlocked(t, done)

		l.Release()
		require.NoError(t, requireDone(t, done))
		require.Equal(t, 0, l.Available())
	})

	t.Run("canceled wait consumes no permit", func(t *testing.T) {
		l := newHourLimiter(t, 2, FixedWindowLimiterOpts{})
		require.True(t, l.TryAcquire())
		require.True(t, l.TryAcquire())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := l.Acquire(ctx)
		require.ErrorIs(t, err, ErrWaitCanceled)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		var waitErr *WaitCanceledError
		require.ErrorAs(t, err, &waitErr)

		l.tick()
		require.Equal(t, 2, l.Available())
		stats := l.Stats()
		require.Equal(t, uint64(2), stats.Granted)
		require.Equal(t, uint64(1), stats.WaitsCanceled)
	})

	t.Run("already canceled context", func(t *testing.T) {
		l := newHourLimiter(t, 2, FixedWindowLimiterOpts{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := l.Acquire(ctx)
		require.ErrorIs(t, err, context.Canceled)
		require.ErrorIs(t, err, ErrWaitCanceled)
		require.Equal(t, 2, l.Available())
	})

	t.Run("cancel one of several waiters", func(t *testing.T) {
		l := newHourLimiter(t, 1, FixedWindowLimiterOpts{})
		require.True(t, l.TryAcquire())

		ctx, cancel := context.WithCancel(context.Background())
		canceled := acquireAsync(ctx, l)
		waiting := acquireAsync(context.Background(), l)
		requireBlocked(t, canceled)

		cancel()
		require.ErrorIs(t, requireDone(t, canceled), context.Canceled)
		requireBlocked(t, waiting)

		l.Release()
		require.NoError(t, requireDone(t, waiting))
	})

	t.Run("exhaustion is logged", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		l := newHourLimiter(t, 1, FixedWindowLimiterOpts{Logger: logRecorder})
		require.True(t, l.TryAcquire())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, l.Acquire(ctx), ErrWaitCanceled)

		entry, found := logRecorder.FindEntry("rate limiter permits exhausted, waiting for the next window")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
		field, found := entry.FindField("capacity")
		require.True(t, found)
		require.Equal(t, int64(1), field.Int)
	})
}

func TestFixedWindowLimiter_TryAcquire(t *testing.T) {
	l := newHourLimiter(t, 2, FixedWindowLimiterOpts{})
	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire())
	l.Release()
	require.True(t, l.TryAcquire())
}

func TestFixedWindowLimiter_Release(t *testing.T) {
	t.Run("release without acquire does not exceed capacity", func(t *testing.T) {
		l := newHourLimiter(t, 3, FixedWindowLimiterOpts{})
		l.Release()
		l.Release()
		require.Equal(t, 3, l.Available())
	})

	t.Run("release after replenishment does not exceed capacity", func(t *testing.T) {
		l := newHourLimiter(t, 2, FixedWindowLimiterOpts{})
		require.True(t, l.TryAcquire())
		require.True(t, l.TryAcquire())
		l.tick()
		require.Equal(t, 2, l.Available())

		l.Release()
		l.Release()
		require.Equal(t, 2, l.Available())
	})
}

func TestFixedWindowLimiter_Replenish(t *testing.T) {
	l := newHourLimiter(t, 5, FixedWindowLimiterOpts{})

	require.Equal(t, 0, l.replenish(), "full pool stays untouched")

	for i := 0; i < 3; i++ {
		require.True(t, l.TryAcquire())
	}
	require.Equal(t, 3, l.replenish())
	require.Equal(t, 5, l.Available())

	for i := 0; i < 5; i++ {
		require.True(t, l.TryAcquire())
	}
	l.tick()
	require.Equal(t, 5, l.Available())

	stats := l.Stats()
	require.Equal(t, uint64(1), stats.Replenishments)
	require.Equal(t, uint64(5), stats.RestoredPermits)
}

func TestFixedWindowLimiter_ReplenishWakesAllWaiters(t *testing.T) {
	const capacity = 4
	l := newHourLimiter(t, capacity, FixedWindowLimiterOpts{})
	for i := 0; i < capacity; i++ {
		require.True(t, l.TryAcquire())
	}

	waiters := make([]<-chan error, capacity)
	for i := range waiters {
		waiters[i] = acquireAsync(context.Background(), l)
	}
	for _, w := range waiters {
		requireBlocked(t, w)
	}

	l.tick()
	for _, w := range waiters {
		require.NoError(t, requireDone(t, w))
	}
	require.Equal(t, 0, l.Available())
}

func TestFixedWindowLimiter_ConcurrentAcquireRelease(t *testing.T) {
	const (
		capacity   = 5
		goroutines = 50
		iterations = 200
	)
	availability := &availabilityRecorder{min: capacity, max: 0}
	l := newHourLimiter(t, capacity, FixedWindowLimiterOpts{MetricsCollector: availability})

	stopTicks := make(chan struct{})
	ticksDone := make(chan struct{})
	go func() {
		defer close(ticksDone)
		for {
			select {
			case <-stopTicks:
				return
			default:
				l.tick()
				time.Sleep(time.Duration(rand.Intn(100)) * time.Microsecond) // nolint: gosec
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if err := l.Acquire(context.Background()); err != nil {
					errs <- err
					return
				}
				if avail := l.Available(); avail < 0 || avail > capacity {
					errs <- errors.New("available permits out of range")
					return
				}
				if rand.Intn(2) == 0 { // nolint: gosec
					l.Release()
				}
			}
		}()
	}
	wg.Wait()
	close(stopTicks)
	<-ticksDone
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, uint64(goroutines*iterations), l.Stats().Granted)
	l.tick()
	require.Equal(t, capacity, l.Available())

	minAvail, maxAvail := availability.bounds()
	require.GreaterOrEqual(t, minAvail, 0)
	require.LessOrEqual(t, maxAvail, capacity)
}

func TestFixedWindowLimiter_WindowBoundary(t *testing.T) {
	const capacity = 5
	l, err := NewFixedWindowLimiter(PeriodOf(TimeUnitSecond), capacity)
	require.NoError(t, err)
	defer l.Stop()

	start := time.Now()
	results := make(chan error, capacity)
	for i := 0; i < capacity; i++ {
		go func() {
			results <- l.Acquire(context.Background())
		}()
	}
	require.Empty(t, testutil.RequireErrorsInChannel(t, results, capacity, 100*time.Millisecond))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	sixth := acquireAsync(context.Background(), l)
	requireBlocked(t, sixth)

	select {
	case err = <-sixth:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "6th acquire should succeed after the window boundary")
	}
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)

	// The new window may be used entirely right after the boundary: up to 2×capacity permits
	// are granted around it, but never more than capacity within a single window.
	for i := 0; i < capacity-1; i++ {
		require.True(t, l.TryAcquire())
	}
	require.False(t, l.TryAcquire())
	require.Equal(t, uint64(2*capacity), l.Stats().Granted)
}

func TestFixedWindowLimiter_TickSurvivesPanic(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	calls := atomic.NewInt32(0)
	l, err := NewFixedWindowLimiterWithOpts(Period{Unit: TimeUnitMillisecond, Count: 20}, 1, FixedWindowLimiterOpts{
		Logger: logRecorder,
		OnReplenish: func(int) {
			if calls.Inc() == 1 {
				panic("boom")
			}
		},
	})
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(1), l.Stats().ReplenishPanics)

	entry, found := logRecorder.FindEntry("panic in rate limiter replenishment: boom")
	require.True(t, found)
	require.Equal(t, log.LevelError, entry.Level)
	_, found = entry.FindField("stack")
	require.True(t, found)

	// Replenishment still works after the panic.
	require.True(t, l.TryAcquire())
	require.Eventually(t, func() bool { return l.Available() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFixedWindowLimiter_Stop(t *testing.T) {
	l, err := NewFixedWindowLimiter(PeriodOf(TimeUnitHour), 1)
	require.NoError(t, err)
	require.True(t, l.TryAcquire())

	waiter := acquireAsync(context.Background(), l)
	requireBlocked(t, waiter)

	l.Stop()
	require.ErrorIs(t, requireDone(t, waiter), ErrLimiterStopped)
	require.ErrorIs(t, l.Acquire(context.Background()), ErrLimiterStopped)
	l.Release()
	require.False(t, l.TryAcquire())

	require.NotPanics(t, l.Stop)
}

func TestFixedWindowLimiter_StopEndsTicks(t *testing.T) {
	ticks := atomic.NewInt32(0)
	l, err := NewFixedWindowLimiterWithOpts(Period{Unit: TimeUnitMillisecond, Count: 5}, 1, FixedWindowLimiterOpts{
		OnReplenish: func(int) { ticks.Inc() },
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)

	l.Stop()
	stoppedAt := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, stoppedAt, ticks.Load())
}

func TestFixedWindowLimiter_Do(t *testing.T) {
	t.Run("permit is released after fn returns an error", func(t *testing.T) {
		l := newHourLimiter(t, 1, FixedWindowLimiterOpts{})
		errFn := errors.New("fn failed")
		err := l.Do(context.Background(), func(ctx context.Context) error {
			require.Equal(t, 0, l.Available())
			return errFn
		})
		require.ErrorIs(t, err, errFn)
		require.Equal(t, 1, l.Available())
	})

	t.Run("permit is released after fn panics", func(t *testing.T) {
		l := newHourLimiter(t, 1, FixedWindowLimiterOpts{})
		require.Panics(t, func() {
			_ = l.Do(context.Background(), func(ctx context.Context) error {
				panic("fn panicked")
			})
		})
		require.Equal(t, 1, l.Available())
	})

	t.Run("fn is not called when wait is canceled", func(t *testing.T) {
		l := newHourLimiter(t, 1, FixedWindowLimiterOpts{})
		require.True(t, l.TryAcquire())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		called := false
		err := l.Do(ctx, func(ctx context.Context) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrWaitCanceled)
		require.False(t, called)
	})
}

func TestFixedWindowLimiter_PrometheusMetrics(t *testing.T) {
	collector := NewPrometheusMetricsCollector("crpt", "test")
	l := newHourLimiter(t, 2, FixedWindowLimiterOpts{MetricsCollector: collector})

	testutil.RequireGaugeValue(t, collector.PermitsAvailable, 2)

	require.NoError(t, l.Acquire(context.Background()))
	require.True(t, l.TryAcquire())
	testutil.RequireGaugeValue(t, collector.PermitsAvailable, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Acquire(ctx), ErrWaitCanceled)

	l.tick()

	testutil.RequireCounterValue(t, collector.PermitsAcquired, 2)
	testutil.RequireCounterValue(t, collector.WaitsCanceled, 1)
	testutil.RequireCounterValue(t, collector.Replenishments, 1)
	testutil.RequireCounterValue(t, collector.RestoredPermits, 2)
	testutil.RequireCounterValue(t, collector.ReplenishPanics, 0)
	testutil.RequireGaugeValue(t, collector.PermitsAvailable, 2)
	testutil.RequireSamplesCountInHistogram(t, collector.AcquireWaitLength, 3)
}

type availabilityRecorder struct {
	disabledMetrics
	mu       sync.Mutex
	min, max int
}

func (r *availabilityRecorder) AvailablePermits(available int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.min = min(r.min, available)
	r.max = max(r.max, available)
}

func (r *availabilityRecorder) bounds() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.min, r.max
}
