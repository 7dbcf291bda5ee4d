package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"seqjoin/internal/apperrors"
	"seqjoin/internal/hits"
	"seqjoin/internal/observability"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// errWaitLimit is the cancellation cause installed by the controller's own timer.
var errWaitLimit = errors.New("search wait limit exceeded")

// Config holds the per-controller lifecycle settings.
type Config struct {
	PollInterval time.Duration // delay between polls, must be positive
	Timeout      time.Duration // maximum time from submit to fetched results
	Kinds        []hits.Kind   // result kinds to fetch, primary first
}

// Validate checks that the lifecycle settings are usable.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if len(c.Kinds) == 0 {
		return errors.New("at least one result kind is required")
	}
	seen := make(map[hits.Kind]bool, len(c.Kinds))
	for _, k := range c.Kinds {
		if !hits.Supported(k) {
			return fmt.Errorf("unsupported result kind %q", k)
		}
		if seen[k] {
			return fmt.Errorf("duplicate result kind %q", k)
		}
		seen[k] = true
	}
	return nil
}

// Recorder receives lifecycle measurements. *observability.Metrics implements it.
type Recorder interface {
	RecordSearchStarted(ctx context.Context, program string)
	RecordSearchFinished(ctx context.Context, program, outcome string, duration time.Duration, hitCount int)
	RecordPoll(ctx context.Context, status string)
}

// Controller runs searches against a Transport. It holds no per-run state
// and is safe for concurrent use.
type Controller struct {
	transport Transport
	cfg       Config
	metrics   Recorder
}

// NewController creates a controller. metrics may be nil.
func NewController(transport Transport, cfg Config, metrics Recorder) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{transport: transport, cfg: cfg, metrics: metrics}, nil
}

// Kinds returns the configured result kinds, primary first.
func (c *Controller) Kinds() []hits.Kind {
	return append([]hits.Kind(nil), c.cfg.Kinds...)
}

// Run executes one search lifecycle and returns its classified outcome.
// It blocks until the job completes, fails, ctx is done or the configured
// timeout elapses.
func (c *Controller) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "search.run",
		trace.WithAttributes(
			attribute.String("search.program", req.Program),
			attribute.String("search.database", req.Database),
			attribute.String("search.stype", req.SeqType),
		),
	)
	defer span.End()

	if c.metrics != nil {
		c.metrics.RecordSearchStarted(ctx, req.Program)
	}

	out := c.run(ctx, req)

	hitCount := len(out.Hits())
	span.SetAttributes(
		attribute.String("search.outcome", out.Label()),
		attribute.Int("search.hits", hitCount),
	)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	if c.metrics != nil {
		c.metrics.RecordSearchFinished(ctx, req.Program, out.Label(), time.Since(start), hitCount)
	}
	return out
}

func (c *Controller) run(ctx context.Context, req Request) Outcome {
	logger := slog.With("program", req.Program, "database", req.Database)

	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "Search request rejected", "error", err)
		return transportError(err)
	}

	waitCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.Timeout, errWaitLimit)
	defer cancel()

	handle, err := c.transport.Submit(waitCtx, req)
	if err != nil {
		logger.ErrorContext(waitCtx, "Search submission failed", "error", err)
		return c.failure(waitCtx, "submit", err)
	}
	logger = logger.With("handle", handle)
	logger.InfoContext(waitCtx, "Search submitted")

	status, err := c.await(waitCtx, handle)
	switch {
	case err != nil:
		out := c.failure(waitCtx, "poll", err)
		logger.WarnContext(ctx, "Search stopped while polling", "outcome", out.Label(), "error", out.Err)
		return out
	case status != StatusDone:
		logger.WarnContext(waitCtx, "Search ended remotely", "status", status)
		return remoteFailure(status)
	case waitCtx.Err() != nil:
		// Finished remotely, but the caller has already given up.
		return c.interrupted(waitCtx)
	}

	raws, err := c.fetch(waitCtx, handle)
	if err != nil {
		out := c.failure(waitCtx, "fetch", err)
		logger.ErrorContext(ctx, "Search result fetch failed", "outcome", out.Label(), "error", out.Err)
		return out
	}

	payloads := make([]Payload, 0, len(raws))
	for i, kind := range c.cfg.Kinds {
		parsed, err := hits.Parse(raws[i], kind)
		if err != nil {
			if i == 0 {
				logger.ErrorContext(waitCtx, "Primary result unparseable", "kind", kind, "error", err)
				return transportError(apperrors.Parse(string(kind), err))
			}
			logger.WarnContext(waitCtx, "Omitting unparseable result kind", "kind", kind, "error", err)
			continue
		}
		payloads = append(payloads, Payload{Kind: kind, Raw: raws[i], Hits: parsed})
	}

	logger.InfoContext(waitCtx, "Search completed", "hits", len(payloads[0].Hits))
	return success(payloads)
}

// await polls until the job reaches a terminal status. The first poll is
// issued immediately; later polls are spaced by the poll interval.
func (c *Controller) await(ctx context.Context, h Handle) (Status, error) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		status, err := c.transport.Poll(ctx, h)
		if err != nil {
			return "", err
		}
		if c.metrics != nil {
			c.metrics.RecordPoll(ctx, string(status))
		}

		if status.Terminal() {
			return status, nil
		}
		if status != StatusRunning {
			return "", fmt.Errorf("unknown job status %q", status)
		}

		timer.Reset(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return StatusRunning, ctx.Err()
		case <-timer.C:
		}
	}
}

// fetch retrieves every configured kind concurrently. Any failure fails the
// whole fetch; raws are returned in configured order.
func (c *Controller) fetch(ctx context.Context, h Handle) ([][]byte, error) {
	raws := make([][]byte, len(c.cfg.Kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range c.cfg.Kinds {
		g.Go(func() error {
			raw, err := c.transport.Fetch(gctx, h, kind)
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			raws[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return raws, nil
}

// failure classifies an error from a transport call. Errors caused by the
// run's own context ending are interruptions; anything else is a transport error.
func (c *Controller) failure(ctx context.Context, op string, err error) Outcome {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return c.interrupted(ctx)
	}
	return transportError(apperrors.Transport(op, err))
}

func (c *Controller) interrupted(ctx context.Context) Outcome {
	cause := context.Cause(ctx)
	if errors.Is(cause, errWaitLimit) {
		return cancelled(apperrors.TimedOut(c.cfg.Timeout))
	}
	return cancelled(apperrors.Cancelled(cause))
}
