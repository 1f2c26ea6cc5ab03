package engine

import (
	"context"
	"time"

	"github.com/rendis/blockflow/pkg/schema"
)

// ComputeBackoff calculates the delay before retry attempt n (zero-based:
// attempt 0 is the delay before the first retry).
//
// Strategies:
//
//	immediate   — no delay
//	fixed       — initial_delay every time
//	linear      — initial_delay * (attempt+1)
//	exponential — initial_delay * multiplier^attempt (multiplier defaults 2)
//
// A positive max_delay caps the result.
func ComputeBackoff(policy schema.RetryPolicy, attempt int) time.Duration {
	base := policy.InitialDelay.D()

	var delay time.Duration
	switch policy.Strategy {
	case schema.BackoffImmediate:
		return 0
	case schema.BackoffLinear:
		delay = base * time.Duration(attempt+1)
	case schema.BackoffExponential:
		multiplier := policy.Multiplier
		if multiplier <= 1 {
			multiplier = 2
		}
		scaled := float64(base)
		for i := 0; i < attempt; i++ {
			scaled *= multiplier
			// Saturate instead of overflowing on long retry chains.
			if max := policy.MaxDelay.D(); max > 0 && scaled > float64(max) {
				return max
			}
		}
		delay = time.Duration(scaled)
	default: // fixed or empty
		delay = base
	}

	if max := policy.MaxDelay.D(); max > 0 && delay > max {
		delay = max
	}
	return delay
}

// WaitForBackoff sleeps for the given delay or returns early when the
// context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
