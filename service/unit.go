/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs long-living components (units) of an application
// and stops them gracefully when the process receives a shutdown signal.
package service

// Unit is a component of a service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may block for the whole unit lifetime.
	// Fatal errors are sent to fatalErr, the channel must not be used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that own Prometheus metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
