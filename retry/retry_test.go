/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestConstantBackoffPolicy(t *testing.T) {
	bf := NewConstantBackoffPolicy(100*time.Millisecond, 2).NewBackOff()
	require.Equal(t, 100*time.Millisecond, bf.NextBackOff())
	require.Equal(t, 100*time.Millisecond, bf.NextBackOff())
	require.Equal(t, backoff.Stop, bf.NextBackOff())

	unlimited := NewConstantBackoffPolicy(time.Second, 0).NewBackOff()
	for i := 0; i < 10; i++ {
		require.Equal(t, time.Second, unlimited.NextBackOff())
	}
}

func TestExponentialBackoffPolicy(t *testing.T) {
	policy := NewExponentialBackoffPolicy(100*time.Millisecond, 2, 3)
	bf := policy.NewBackOff()

	for i := 0; i < 3; i++ {
		next := bf.NextBackOff()
		require.NotEqual(t, backoff.Stop, next)
		// Randomization factor is 0.5 by default.
		base := float64(100*time.Millisecond) * float64(int(1)<<i)
		require.InDelta(t, base, float64(next), base*0.5+1)
	}
	require.Equal(t, backoff.Stop, bf.NextBackOff())
}

func TestPolicyFunc(t *testing.T) {
	var p Policy = PolicyFunc(func() backoff.BackOff { return &backoff.StopBackOff{} })
	require.Equal(t, backoff.Stop, p.NewBackOff().NextBackOff())
}
