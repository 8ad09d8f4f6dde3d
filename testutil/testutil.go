/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains helpers for testing the client components:
// Prometheus metrics assertions, error chain assertions and a recording HTTP server.
package testutil

type tHelper interface {
	Helper()
}
