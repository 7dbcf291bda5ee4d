package search

import (
	"errors"
	"seqjoin/internal/apperrors"
	"seqjoin/internal/hits"
)

// Request holds the parameters of one sequence similarity search.
// Optional bounds and limits are nil when not supplied.
type Request struct {
	Sequence   string   `json:"sequence"`
	Program    string   `json:"program"`
	Database   string   `json:"database"`
	SeqType    string   `json:"stype"`
	ExpLowLim  *float64 `json:"explowlim,omitempty"`
	ExpUpLim   *float64 `json:"expupperlim,omitempty"`
	Scores     *int     `json:"scores,omitempty"`
	Alignments *int     `json:"alignments,omitempty"`
}

// Handle identifies a submitted remote job.
type Handle string

// Status is the remote job state reported by Poll.
type Status string

// Status constants
const (
	StatusRunning  Status = "RUNNING"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
	StatusNotFound Status = "NOT_FOUND"
)

// Terminal reports whether no further state change can occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusNotFound
}

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind string

// Outcome variants
const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeRemoteFailure  OutcomeKind = "remote_failure"
	OutcomeTransportError OutcomeKind = "transport_error"
	OutcomeCancelled      OutcomeKind = "cancelled"
)

// Payload is one fetched result kind with its parsed hits.
type Payload struct {
	Kind hits.Kind  `json:"kind"`
	Raw  []byte     `json:"raw"`
	Hits []hits.Hit `json:"hits"`
}

// Outcome is the classified result of one run.
//
// Exactly one variant is populated:
//   - success: Payloads holds the primary kind first, Err is nil
//   - remote_failure: Status holds the terminal status
//   - transport_error: Err wraps apperrors.ErrTransport, ErrValidation or ErrParse
//   - cancelled: Err wraps apperrors.ErrCancelled or apperrors.ErrTimedOut
type Outcome struct {
	Kind     OutcomeKind
	Payloads []Payload
	Status   Status
	Err      error
}

// Succeeded reports whether the outcome is the success variant.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// TimedOut reports whether a cancelled outcome was caused by the run's own wait limit.
func (o Outcome) TimedOut() bool {
	return o.Kind == OutcomeCancelled && errors.Is(o.Err, apperrors.ErrTimedOut)
}

// Hits returns the primary kind's hits, or nil for non-success outcomes.
func (o Outcome) Hits() []hits.Hit {
	if !o.Succeeded() || len(o.Payloads) == 0 {
		return nil
	}
	return o.Payloads[0].Hits
}

// Filter folds every payload into the pipeline filter. Non-success outcomes
// yield an empty filter.
func (o Outcome) Filter(order hits.ScoreOrder) *hits.Filter {
	if !o.Succeeded() {
		return hits.Empty()
	}
	lists := make([][]hits.Hit, 0, len(o.Payloads))
	for _, p := range o.Payloads {
		lists = append(lists, p.Hits)
	}
	return hits.Adapt(order, lists...)
}

// Label names the outcome for logs and metrics, splitting timed_out from cancelled.
func (o Outcome) Label() string {
	if o.TimedOut() {
		return "timed_out"
	}
	return string(o.Kind)
}

func success(payloads []Payload) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payloads: payloads}
}

func remoteFailure(status Status) Outcome {
	return Outcome{Kind: OutcomeRemoteFailure, Status: status, Err: apperrors.RemoteFailure(string(status))}
}

func transportError(err error) Outcome {
	return Outcome{Kind: OutcomeTransportError, Err: err}
}

func cancelled(err error) Outcome {
	return Outcome{Kind: OutcomeCancelled, Err: err}
}
