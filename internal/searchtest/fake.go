// Package searchtest provides a scripted Transport and polling helpers for tests.
package searchtest

import (
	"context"
	"fmt"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"sync"
	"sync/atomic"
)

// Fake is a scripted search.Transport. Polls walk Statuses in order and
// repeat the last entry once exhausted; an empty script polls RUNNING forever.
// Safe for concurrent use.
type Fake struct {
	Statuses []search.Status
	Payloads map[hits.Kind][]byte

	SubmitErr error
	PollErr   error // returned by the poll numbered PollErrAt (1-based); 0 means every poll
	PollErrAt int64
	FetchErr  map[hits.Kind]error
	ReadyErr  error

	// OnPoll runs after each poll is counted, before the status is returned.
	OnPoll func(n int64)

	Submits atomic.Int64
	Polls   atomic.Int64
	Fetches atomic.Int64

	mu        sync.Mutex
	requests  []search.Request
	fetched   []hits.Kind
	fetchSeen bool
	pollAfter bool
}

var _ search.Transport = (*Fake)(nil)

// Submit records the request and returns a fresh handle.
func (f *Fake) Submit(ctx context.Context, req search.Request) (search.Handle, error) {
	n := f.Submits.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	return search.Handle(fmt.Sprintf("fake-%d", n)), nil
}

// Poll returns the next scripted status.
func (f *Fake) Poll(ctx context.Context, _ search.Handle) (search.Status, error) {
	n := f.Polls.Add(1)
	f.mu.Lock()
	if f.fetchSeen {
		f.pollAfter = true
	}
	f.mu.Unlock()

	if f.OnPoll != nil {
		f.OnPoll(n)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.PollErr != nil && (f.PollErrAt == 0 || f.PollErrAt == n) {
		return "", f.PollErr
	}
	if len(f.Statuses) == 0 {
		return search.StatusRunning, nil
	}
	i := min(int(n-1), len(f.Statuses)-1)
	return f.Statuses[i], nil
}

// Fetch returns the scripted payload for kind.
func (f *Fake) Fetch(ctx context.Context, _ search.Handle, kind hits.Kind) ([]byte, error) {
	f.Fetches.Add(1)
	f.mu.Lock()
	f.fetchSeen = true
	f.fetched = append(f.fetched, kind)
	f.mu.Unlock()

	if err := f.FetchErr[kind]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Payloads[kind], nil
}

// Ready returns ReadyErr.
func (f *Fake) Ready(context.Context) error {
	return f.ReadyErr
}

// Requests returns every submitted request in order.
func (f *Fake) Requests() []search.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]search.Request(nil), f.requests...)
}

// Fetched returns the kinds fetched so far.
func (f *Fake) Fetched() []hits.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hits.Kind(nil), f.fetched...)
}

// PolledAfterFetch reports whether any poll was issued after the first fetch.
func (f *Fake) PolledAfterFetch() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollAfter
}
