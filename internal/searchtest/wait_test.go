package searchtest

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	if !Eventually(t, func() bool { return true }, WithTimeout(time.Second)) {
		t.Error("expected Eventually to return true for immediate success")
	}
}

func TestEventually_EventualSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	ok := Eventually(t, func() bool {
		calls++
		return calls >= 3
	}, WithTimeout(time.Second), WithInterval(time.Millisecond))

	if !ok {
		t.Error("expected Eventually to return true")
	}
	if calls < 3 {
		t.Errorf("expected at least 3 calls, got %d", calls)
	}
}

func TestEventually_Timeout(t *testing.T) {
	t.Parallel()
	ok := Eventually(t, func() bool { return false },
		WithTimeout(20*time.Millisecond), WithInterval(5*time.Millisecond))
	if ok {
		t.Error("expected Eventually to return false on timeout")
	}
}

func TestMustReach(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64
	go func() {
		for range 3 {
			time.Sleep(2 * time.Millisecond)
			counter.Add(1)
		}
	}()
	MustReach(t, &counter, 3, WithTimeout(time.Second))
}

func TestDefaultWaitOptions(t *testing.T) {
	t.Parallel()
	o := defaultWaitOptions()
	if o.Timeout != 5*time.Second || o.Interval != 5*time.Millisecond {
		t.Errorf("unexpected defaults %+v", o)
	}
}
