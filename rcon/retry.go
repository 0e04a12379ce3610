package rcon

import "time"

// RetryPolicy bounds how often a failing operation is attempted again.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// Backoff returns the delay before the given retry (1-based).
	Backoff func(retry int) time.Duration
	// Sleep waits between attempts. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// LinearBackoff waits retry × step before each retry.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		return time.Duration(retry) * step
	}
}

// DefaultRetryPolicy allows two retries with a 1s, then 2s pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Backoff:    LinearBackoff(time.Second),
	}
}

// Attempts returns the total number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

func (p RetryPolicy) delay(retry int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	if d := p.Backoff(retry); d > 0 {
		return d
	}
	return 0
}

func (p RetryPolicy) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Retry calls op until it succeeds or the policy runs out of attempts. It
// returns the last value, the number of attempts made and the last error.
// onRetry, when set, is told about every retry before its pause.
func Retry[T any](policy RetryPolicy, op func(attempt int) (T, error), onRetry func(retry int, delay time.Duration, err error)) (T, int, error) {
	var (
		value T
		err   error
	)

	attempts := policy.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := policy.delay(attempt - 1)
			if onRetry != nil {
				onRetry(attempt-1, delay, err)
			}
			policy.sleep(delay)
		}

		value, err = op(attempt)
		if err == nil {
			return value, attempt, nil
		}
	}

	return value, attempts, err
}
