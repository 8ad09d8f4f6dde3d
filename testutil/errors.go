/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stretchr/testify/require"
)

// RequireErrorIsAny asserts that at least one of the errors in err's chain matches at least one target.
// This is a wrapper for errors.Is.
func RequireErrorIsAny(t require.TestingT, err error, targets []error, msgAndArgs ...interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	for _, targetErr := range targets {
		if errors.Is(err, targetErr) {
			return
		}
	}
	expected := make([]string, 0, len(targets))
	for _, targetErr := range targets {
		expected = append(expected, fmt.Sprintf("%q", targetErr.Error()))
	}
	require.FailNow(t, fmt.Sprintf("At least one target error should be in err chain:\n"+
		"expected: [%s]\n"+
		"in chain: %s", strings.Join(expected, "; "), buildErrorChainString(err),
	), msgAndArgs...)
}

// RequireErrorsInChannel reads exactly n values from the channel, waiting at most timeout for each of them,
// and returns the non-nil ones.
func RequireErrorsInChannel(t require.TestingT, c <-chan error, n int, timeout time.Duration) []error {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var errs []error
	for i := 0; i < n; i++ {
		select {
		case err := <-c:
			if err != nil {
				errs = append(errs, err)
			}
		case <-time.After(timeout):
			require.FailNow(t, fmt.Sprintf("timed out waiting for result %d of %d", i+1, n))
			return errs
		}
	}
	return errs
}

func buildErrorChainString(err error) string {
	if err == nil {
		return ""
	}
	chain := fmt.Sprintf("%q", err.Error())
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		chain += fmt.Sprintf("\n\t%q", e.Error())
	}
	return chain
}
