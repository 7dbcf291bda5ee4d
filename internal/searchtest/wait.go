package searchtest

import (
	"sync/atomic"
	"testing"
	"time"
)

// WaitOptions configures Eventually.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for Eventually.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 5ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func defaultWaitOptions() WaitOptions {
	return WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 5 * time.Millisecond,
	}
}

// Eventually polls condition until it holds or the timeout elapses.
// Returns false on timeout.
func Eventually(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := defaultWaitOptions()
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(o.Interval)
	}
}

// MustEventually fails the test if condition does not hold before the timeout.
func MustEventually(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !Eventually(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustReach fails the test if counter does not reach target before the timeout.
func MustReach(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	if !Eventually(tb, func() bool { return counter.Load() >= target }, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}
