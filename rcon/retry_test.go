package rcon

import (
	"errors"
	"testing"
	"time"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxRetries: 4, Backoff: noDelay}

	value, attempts, err := Retry(policy, func(attempt int) (string, error) {
		calls++
		if attempt < 2 {
			return "", errors.New("not yet")
		}
		return "done", nil
	}, nil)

	if err != nil || value != "done" {
		t.Fatalf("Expected done, got %q, %v", value, err)
	}
	if attempts != 2 || calls != 2 {
		t.Errorf("Expected 2 attempts, got %d (calls %d)", attempts, calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, Backoff: noDelay}

	_, attempts, err := Retry(policy, func(attempt int) (int, error) {
		return 0, &MockError{Message: "attempt failed"}
	}, nil)

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if err == nil || err.Error() != "attempt failed" {
		t.Errorf("Expected last error, got %v", err)
	}
}

func TestRetryReportsEachRetry(t *testing.T) {
	var (
		slept   []time.Duration
		retries []int
	)
	policy := RetryPolicy{
		MaxRetries: 3,
		Backoff:    LinearBackoff(time.Second),
		Sleep:      func(d time.Duration) { slept = append(slept, d) },
	}

	Retry(policy, func(int) (bool, error) {
		return false, errors.New("down")
	}, func(retry int, delay time.Duration, err error) {
		retries = append(retries, retry)
		if err == nil {
			t.Error("Expected the previous error to be passed on")
		}
	})

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("Expected %d pauses, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("Pause %d: expected %s, got %s", i, want[i], slept[i])
		}
		if retries[i] != i+1 {
			t.Errorf("Retry %d reported as %d", i+1, retries[i])
		}
	}
}

func TestRetryPolicyAttempts(t *testing.T) {
	if got := (RetryPolicy{MaxRetries: -3}).Attempts(); got != 1 {
		t.Errorf("Expected negative retries to mean one attempt, got %d", got)
	}
	if got := DefaultRetryPolicy().Attempts(); got != 3 {
		t.Errorf("Expected default of 3 attempts, got %d", got)
	}
}
