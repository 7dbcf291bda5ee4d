package searches

import (
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"time"
)

// State represents the lifecycle state of a background search.
type State string

// State constants
const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

func stateOf(out search.Outcome) State {
	switch {
	case out.Succeeded():
		return StateSucceeded
	case out.TimedOut():
		return StateTimedOut
	case out.Kind == search.OutcomeCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// Status is the externally visible view of a search.
type Status struct {
	ID           string     `json:"id"`
	State        State      `json:"state"`
	Program      string     `json:"program"`
	Database     string     `json:"database"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	RemoteStatus string     `json:"remoteStatus,omitempty"`
	Error        string     `json:"error,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	CallbackURL  string     `json:"callbackUrl,omitempty"`
}

// Result is the filter produced by a successful search.
type Result struct {
	Filter *hits.Filter `json:"filter"`
	Hits   []hits.Hit   `json:"hits"`
	Kinds  []hits.Kind  `json:"kinds"`
}

// ListResponse represents the response for listing searches.
type ListResponse struct {
	Searches []Status `json:"searches"`
}

func (e entry) status(order hits.ScoreOrder) Status {
	s := Status{
		ID:          e.id,
		State:       e.state,
		Program:     e.req.Program,
		Database:    e.req.Database,
		StartedAt:   e.startedAt,
		CallbackURL: e.callbackURL,
	}
	if e.state == StateRunning {
		return s
	}

	finished := e.finishedAt
	s.FinishedAt = &finished
	s.Outcome = e.outcome.Label()
	s.RemoteStatus = string(e.outcome.Status)
	if e.outcome.Err != nil {
		s.Error = e.outcome.Err.Error()
	}
	if e.outcome.Succeeded() {
		kinds := make([]hits.Kind, 0, len(e.outcome.Payloads))
		for _, p := range e.outcome.Payloads {
			kinds = append(kinds, p.Kind)
		}
		s.Result = &Result{
			Filter: e.outcome.Filter(order),
			Hits:   e.outcome.Hits(),
			Kinds:  kinds,
		}
	}
	return s
}
