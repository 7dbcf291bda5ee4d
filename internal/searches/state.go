package searches

import (
	"context"
	"seqjoin/internal/search"
	"sync"
	"time"
)

// entry holds the runtime state for a single background search.
type entry struct {
	id          string
	req         search.Request
	callbackURL string
	state       State
	startedAt   time.Time
	finishedAt  time.Time
	outcome     search.Outcome
	cancel      context.CancelCauseFunc
}

// stateRepo manages search entries with thread-safe access.
// Entries are never handed out; callers get snapshots.
type stateRepo struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newStateRepo() *stateRepo {
	return &stateRepo{
		entries: make(map[string]*entry),
	}
}

// add registers a running search.
func (r *stateRepo) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.id] = e
}

// finish records the outcome of a search. Returns false if it was purged.
func (r *stateRepo) finish(id string, out search.Outcome, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.outcome = out
	e.state = stateOf(out)
	e.finishedAt = at
	e.cancel = nil
	return true
}

// cancelFunc returns the cancel function of a running search.
func (r *stateRepo) cancelFunc(id string) (context.CancelCauseFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.cancel, true
}

// get returns a snapshot of a search.
func (r *stateRepo) get(id string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return entry{}, false
	}
	return *e, true
}

// list returns snapshots of all searches.
func (r *stateRepo) list() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, *e)
	}
	return result
}

// running returns the cancel functions of all unfinished searches.
func (r *stateRepo) running() []context.CancelCauseFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cancels []context.CancelCauseFunc
	for _, e := range r.entries {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	return cancels
}

// purge removes searches that finished before cutoff and returns their ids.
func (r *stateRepo) purge(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.entries {
		if e.state != StateRunning && e.finishedAt.Before(cutoff) {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}
