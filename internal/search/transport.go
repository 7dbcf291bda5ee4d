// Package search runs one remote sequence search from submission to parsed hits.
package search

import (
	"context"
	"seqjoin/internal/hits"
)

// Transport is the capability to talk to the remote job service.
// Implementations may be shared between concurrent runs.
//
// # Errors
//
// Any returned error is treated as a transport failure by the Controller:
// connectivity problems, non-success HTTP responses and malformed responses
// alike. Implementations decide whether idempotent calls (Poll, Fetch) are
// retried internally; Submit must never be retried, since the remote service
// offers no idempotency key and a duplicate submission starts a second job.
type Transport interface {
	// Submit starts a remote job and returns its handle.
	Submit(ctx context.Context, req Request) (Handle, error)

	// Poll returns the current status of a job.
	Poll(ctx context.Context, h Handle) (Status, error)

	// Fetch returns the raw payload of one result kind of a finished job.
	Fetch(ctx context.Context, h Handle, kind hits.Kind) ([]byte, error)

	// Ready checks that the remote service is reachable.
	Ready(ctx context.Context) error
}

// Runner executes a search and classifies its outcome.
// *Controller is the base implementation; decorators such as a result cache wrap it.
type Runner interface {
	Run(ctx context.Context, req Request) Outcome
}
