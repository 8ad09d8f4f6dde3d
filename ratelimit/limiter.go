/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-crptclient/log"
)

// FixedWindowLimiterOpts represents options for FixedWindowLimiter.
type FixedWindowLimiterOpts struct {
	// Logger is used for logging replenishment ticks, pool exhaustion and recovered panics.
	// Disabled logger is used by default.
	Logger log.FieldLogger

	// MetricsCollector receives limiter metrics. Metrics are not collected by default.
	MetricsCollector MetricsCollector

	// OnReplenish is called from the replenishment goroutine after every tick
	// with the number of restored permits. It must not call Stop.
	OnReplenish func(restored int)
}

// Stats contains cumulative counters of FixedWindowLimiter.
type Stats struct {
	Granted         uint64
	WaitsCanceled   uint64
	Replenishments  uint64
	RestoredPermits uint64
	ReplenishPanics uint64
}

// FixedWindowLimiter is a fixed-window throttle: at most capacity permits are outstanding
// at any time and the pool is refilled to capacity at every window boundary.
// A permit returned with Release may be taken again within the same window, so at most
// capacity grants per window are guaranteed only for callers that don't release.
// It's safe for concurrent use. Several limiters never share state.
type FixedWindowLimiter struct {
	capacity int
	period   time.Duration

	mu        sync.Mutex
	available int
	stopped   bool
	// changed is closed (and replaced) every time permits return to the pool or the limiter stops.
	changed chan struct{}

	logger      log.FieldLogger
	metrics     MetricsCollector
	onReplenish func(restored int)
	exhaustLog  rate.Sometimes

	granted         atomic.Uint64
	waitsCanceled   atomic.Uint64
	replenishments  atomic.Uint64
	restoredPermits atomic.Uint64
	replenishPanics atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFixedWindowLimiter creates a new FixedWindowLimiter that grants up to capacity permits per period
// and starts its replenishment goroutine. Stop should be called when the limiter is no longer needed.
func NewFixedWindowLimiter(period Period, capacity int) (*FixedWindowLimiter, error) {
	return NewFixedWindowLimiterWithOpts(period, capacity, FixedWindowLimiterOpts{})
}

// NewFixedWindowLimiterWithOpts creates a new FixedWindowLimiter with specified options.
func NewFixedWindowLimiterWithOpts(period Period, capacity int, opts FixedWindowLimiterOpts) (*FixedWindowLimiter, error) {
	if capacity <= 0 {
		return nil, &ConfigError{Param: "capacity", Inner: fmt.Errorf("must be positive, got %d", capacity)}
	}
	periodDuration, err := period.Duration()
	if err != nil {
		return nil, &ConfigError{Param: "period", Inner: err}
	}

	l := newFixedWindowLimiter(periodDuration, capacity, opts)
	ticker := time.NewTicker(periodDuration)
	go l.run(ticker)
	return l, nil
}

// MustFixedWindowLimiter creates a new FixedWindowLimiter and panics if any error occurs.
func MustFixedWindowLimiter(period Period, capacity int, opts FixedWindowLimiterOpts) *FixedWindowLimiter {
	l, err := NewFixedWindowLimiterWithOpts(period, capacity, opts)
	if err != nil {
		panic(err)
	}
	return l
}

// newFixedWindowLimiter creates a limiter without starting the replenishment goroutine.
func newFixedWindowLimiter(period time.Duration, capacity int, opts FixedWindowLimiterOpts) *FixedWindowLimiter {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	l := &FixedWindowLimiter{
		capacity:    capacity,
		period:      period,
		available:   capacity,
		changed:     make(chan struct{}),
		logger:      opts.Logger,
		metrics:     opts.MetricsCollector,
		onReplenish: opts.OnReplenish,
		exhaustLog:  rate.Sometimes{Interval: period},
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	l.metrics.AvailablePermits(capacity)
	return l
}

// Capacity returns the maximum number of outstanding permits.
func (l *FixedWindowLimiter) Capacity() int {
	return l.capacity
}

// Period returns the window length.
func (l *FixedWindowLimiter) Period() time.Duration {
	return l.period
}

// Available returns the number of permits that may be acquired right now.
func (l *FixedWindowLimiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Stats returns cumulative counters of the limiter.
func (l *FixedWindowLimiter) Stats() Stats {
	return Stats{
		Granted:         l.granted.Load(),
		WaitsCanceled:   l.waitsCanceled.Load(),
		Replenishments:  l.replenishments.Load(),
		RestoredPermits: l.restoredPermits.Load(),
		ReplenishPanics: l.replenishPanics.Load(),
	}
}

// Acquire blocks until a permit is available and takes it.
// If ctx is done first, *WaitCanceledError is returned and no permit is taken.
// After Stop, ErrLimiterStopped is returned.
// Every successful Acquire must be paired with exactly one Release.
func (l *FixedWindowLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		l.onWaitCanceled(0)
		return &WaitCanceledError{Inner: err}
	}

	start := time.Now()
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return ErrLimiterStopped
		}
		if l.available > 0 {
			l.takeLocked()
			l.mu.Unlock()
			l.onAcquired(time.Since(start))
			return nil
		}
		changed := l.changed
		l.mu.Unlock()

		l.exhaustLog.Do(func() {
			l.logger.Warn("rate limiter permits exhausted, waiting for the next window",
				log.Int("capacity", l.capacity), log.Duration("period", l.period))
		})

		select {
		case <-changed:
		case <-ctx.Done():
			l.onWaitCanceled(time.Since(start))
			return &WaitCanceledError{Inner: ctx.Err()}
		}
	}
}

// TryAcquire takes a permit if one is available right now and reports whether it did.
func (l *FixedWindowLimiter) TryAcquire() bool {
	l.mu.Lock()
	if l.stopped || l.available == 0 {
		l.mu.Unlock()
		return false
	}
	l.takeLocked()
	l.mu.Unlock()
	l.onAcquired(0)
	return true
}

// Release returns a permit to the pool. The pool never grows above capacity,
// so a Release without a matching Acquire (or one made after a replenishment) is a no-op.
func (l *FixedWindowLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available >= l.capacity {
		return
	}
	l.available++
	l.metrics.AvailablePermits(l.available)
	l.notifyLocked()
}

// Do acquires a permit, calls fn and releases the permit on every exit path of fn, including panics.
func (l *FixedWindowLimiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Stop stops the replenishment goroutine and wakes up all waiters, which get ErrLimiterStopped.
// It's safe to call Stop several times.
func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.doneCh

		l.mu.Lock()
		l.stopped = true
		l.notifyLocked()
		l.mu.Unlock()
	})
}

func (l *FixedWindowLimiter) run(ticker *time.Ticker) {
	defer close(l.doneCh)
	defer ticker.Stop()

	l.logger.Infof("rate limiter started (capacity=%d, period=%s)", l.capacity, l.period)
	for {
		select {
		case <-l.stopCh:
			l.logger.Info("rate limiter stopped")
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *FixedWindowLimiter) tick() {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			l.replenishPanics.Inc()
			l.metrics.ReplenishPanicked()
			l.logger.Error(fmt.Sprintf("panic in rate limiter replenishment: %+v", p), log.Bytes("stack", stack))
		}
	}()

	restored := l.replenish()
	l.replenishments.Inc()
	l.restoredPermits.Add(uint64(restored))
	l.metrics.Replenished(restored)
	if restored > 0 {
		l.logger.Debug("rate limiter permits replenished", log.Int("restored", restored))
	}
	if l.onReplenish != nil {
		l.onReplenish(restored)
	}
}

// replenish restores the pool to capacity in one critical section and returns how many permits were added.
func (l *FixedWindowLimiter) replenish() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	restored := l.capacity - l.available
	if restored <= 0 {
		return 0
	}
	l.available += restored
	l.metrics.AvailablePermits(l.available)
	l.notifyLocked()
	return restored
}

func (l *FixedWindowLimiter) takeLocked() {
	l.available--
	l.metrics.AvailablePermits(l.available)
}

func (l *FixedWindowLimiter) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *FixedWindowLimiter) onAcquired(waited time.Duration) {
	l.granted.Inc()
	l.metrics.PermitAcquired(waited)
}

func (l *FixedWindowLimiter) onWaitCanceled(waited time.Duration) {
	l.waitsCanceled.Inc()
	l.metrics.WaitCanceled(waited)
}
