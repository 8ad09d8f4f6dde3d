/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides a client-side fixed-window throttle for outbound calls.
//
// FixedWindowLimiter owns a pool of permits bounded by its capacity. Callers take a permit
// with Acquire (blocking until one is free or the context ends) and give it back with Release.
// A background goroutine resets the pool to full capacity on every tick of a fixed-period
// ticker, independently of how many calls were made.
//
// Key characteristics:
//   - All permits become available again at once on each window boundary (fixed window,
//     not sliding window and not token bucket).
//   - Up to 2×capacity permits may be granted in a short span around a window boundary
//     (capacity at the end of one window, capacity again at the start of the next one).
//     This boundary burst is a known property of the algorithm, not a bug.
//   - The pool never goes below zero or above capacity: the periodic reset and every
//     Acquire/Release go through the same mutex.
//   - Waiters are not served in any particular order.
//   - A panic raised during a replenishment tick is recovered and logged, the ticker keeps going.
//
// Example:
//
//	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Period{Unit: ratelimit.TimeUnitSecond, Count: 1}, 5)
//	if err != nil {
//		return err
//	}
//	defer limiter.Stop()
//
//	if err = limiter.Acquire(ctx); err != nil {
//		return err
//	}
//	defer limiter.Release()
package ratelimit
