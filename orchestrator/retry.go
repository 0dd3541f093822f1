package orchestrator

import (
	"math"
	"time"
)

// RetryStrategy computes the wait before a retry attempt. The attempt index
// starts at 0 and matches the execution's retry count at the time the retry
// is requested.
type RetryStrategy interface {
	Delay(attempt int, base time.Duration) time.Duration
}

// NoDelayStrategy retries immediately. Useful in tests.
type NoDelayStrategy struct{}

func (NoDelayStrategy) Delay(int, time.Duration) time.Duration { return 0 }

// ExponentialBackoff multiplies the action's base delay by Factor^attempt,
// capped at Max when Max is positive.
//
//	WithRetryStrategy(ExponentialBackoff{Factor: 2, Max: 5 * time.Minute})
type ExponentialBackoff struct {
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoff) Delay(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 2
	}
	delay := time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
	if e.Max > 0 && delay > e.Max {
		return e.Max
	}
	return delay
}
