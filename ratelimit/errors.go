/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"errors"
	"fmt"
)

// Sentinel errors of the package. Use errors.Is to check them.
var (
	// ErrInvalidConfig is matched by errors returned from limiter constructors on bad parameters.
	ErrInvalidConfig = errors.New("invalid rate limiter configuration")

	// ErrWaitCanceled is matched by errors returned from Acquire when the wait is canceled.
	ErrWaitCanceled = errors.New("wait for permit canceled")

	// ErrLimiterStopped is returned from Acquire after the limiter is stopped.
	ErrLimiterStopped = errors.New("rate limiter is stopped")
)

// ConfigError is returned when a limiter cannot be created with the given parameters.
type ConfigError struct {
	Param string
	Inner error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig.Error(), e.Param, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *ConfigError) Unwrap() error {
	return e.Inner
}

// Is makes ConfigError match ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// WaitCanceledError is returned from Acquire when the context is done before a permit is granted.
// No permit is consumed in this case and no Release is owed.
type WaitCanceledError struct {
	Inner error
}

func (e *WaitCanceledError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWaitCanceled.Error(), e.Inner.Error())
}

// Unwrap returns the next error in the error chain (context.Canceled or context.DeadlineExceeded).
func (e *WaitCanceledError) Unwrap() error {
	return e.Inner
}

// Is makes WaitCanceledError match ErrWaitCanceled.
func (e *WaitCanceledError) Is(target error) bool {
	return target == ErrWaitCanceled
}
