package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"seqjoin/internal/observability"
	"seqjoin/internal/searches"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("notify buffer full, event dropped")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier closed")

// Config holds notifier settings. Zero values use defaults.
type Config struct {
	BufferSize     int           // pending events (default: 1000)
	Workers        int           // concurrent deliveries (default: 4)
	HTTPTimeout    time.Duration // per-request timeout (default: 10s)
	MaxRetries     int           // extra attempts after a failed delivery (default: 3, negative for none)
	InitialBackoff time.Duration // first retry delay, doubled per attempt (default: 100ms)
	MaxBackoff     time.Duration // retry delay cap (default: 5s)
	SigningKey     string        // HMAC key; empty disables signing
	Source         string        // CloudEvent source (default: "seqjoin")
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Source == "" {
		c.Source = "seqjoin"
	}
	return c
}

// Recorder receives delivery results: delivered, failed or dropped.
type Recorder interface {
	RecordNotification(ctx context.Context, result string)
}

// Stats holds notifier counters.
type Stats struct {
	QueueDepth int
	Queued     int64
	Delivered  int64
	Failed     int64
	Dropped    int64
	Retries    int64
}

type delivery struct {
	destination string
	event       *CloudEvent
}

// Notifier is an in-memory async webhook dispatcher. Events are queued in a
// bounded channel and delivered by a worker pool.
type Notifier struct {
	queue   chan delivery
	sender  *Sender
	cfg     Config
	metrics Recorder
	logger  *slog.Logger

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	retries   atomic.Int64

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

var _ searches.Notifier = (*Notifier)(nil)

// New starts a notifier. metrics may be nil.
func New(cfg Config, metrics Recorder) *Notifier {
	cfg = cfg.withDefaults()
	n := &Notifier{
		queue:    make(chan delivery, cfg.BufferSize),
		sender:   NewSender(cfg.HTTPTimeout, cfg.SigningKey),
		cfg:      cfg,
		metrics:  metrics,
		logger:   slog.With("component", "notify"),
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go n.worker()
	}
	return n
}

// SearchFinished queues a search.finished event for callbackURL.
func (n *Notifier) SearchFinished(callbackURL string, s searches.Status) error {
	data := map[string]any{
		"searchId": s.ID,
		"state":    s.State,
		"outcome":  s.Outcome,
	}
	if s.RemoteStatus != "" {
		data["remoteStatus"] = s.RemoteStatus
	}
	if s.Error != "" {
		data["error"] = s.Error
	}
	if s.Result != nil {
		data["filter"] = s.Result.Filter
		data["hitCount"] = len(s.Result.Hits)
	}

	eventID := s.ID
	if s.FinishedAt != nil {
		eventID += "-" + s.FinishedAt.Format("20060102T150405.000000000")
	}
	return n.Notify(callbackURL, NewEvent(TypeSearchFinished, n.cfg.Source, s.ID, eventID, data))
}

// Notify queues event for delivery to destination without blocking.
func (n *Notifier) Notify(destination string, event *CloudEvent) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	select {
	case n.queue <- delivery{destination: destination, event: event}:
		n.queued.Add(1)
		return nil
	default:
		n.dropped.Add(1)
		n.record(context.Background(), "dropped")
		n.logger.Warn("Event dropped, buffer full", "destination", host(destination), "type", event.Type)
		return ErrBufferFull
	}
}

// Stats returns current counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		QueueDepth: len(n.queue),
		Queued:     n.queued.Load(),
		Delivered:  n.delivered.Load(),
		Failed:     n.failed.Load(),
		Dropped:    n.dropped.Load(),
		Retries:    n.retries.Load(),
	}
}

// Close stops accepting events and delivers what is queued until ctx is done.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drain()
			return
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case d := <-n.queue:
			n.deliver(d)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ctx, span := observability.Tracer().Start(ctx, "notify.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("notify.destination", host(d.destination)),
			attribute.String("notify.event_type", d.event.Type),
			attribute.String("notify.subject", d.event.Subject),
		),
	)
	defer span.End()

	if err := n.sendWithRetry(ctx, d); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		n.failed.Add(1)
		n.record(ctx, "failed")
		n.logger.Warn("Delivery failed", "destination", host(d.destination), "type", d.event.Type, "error", err)
		return
	}
	n.delivered.Add(1)
	n.record(ctx, "delivered")
}

func (n *Notifier) sendWithRetry(ctx context.Context, d delivery) error {
	var lastErr error
	for attempt := range n.cfg.MaxRetries + 1 {
		if attempt > 0 {
			n.retries.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.delay(attempt)):
			}
		}

		lastErr = n.sender.Send(ctx, d.destination, d.event)
		if lastErr == nil || IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (n *Notifier) delay(attempt int) time.Duration {
	d := n.cfg.InitialBackoff << (attempt - 1)
	if d <= 0 || d > n.cfg.MaxBackoff {
		return n.cfg.MaxBackoff
	}
	return d
}

func (n *Notifier) record(ctx context.Context, result string) {
	if n.metrics != nil {
		n.metrics.RecordNotification(ctx, result)
	}
}

func host(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
