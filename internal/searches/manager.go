// Package searches runs searches in the background and keeps their outcomes
// for a retention period.
package searches

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"seqjoin/internal/apperrors"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("search manager closed")

// errCancelRequested is the cancellation cause for Cancel.
var errCancelRequested = errors.New("search cancelled by request")

// Config holds Manager settings. Zero values use defaults.
type Config struct {
	Retention           time.Duration   // How long finished searches are kept (default 15m)
	MaintenanceInterval time.Duration   // How often to purge expired searches (default 1m)
	ScoreOrder          hits.ScoreOrder // Score semantics for result filters
	Notifier            Notifier        // Receives searches started WithCallback (optional)
}

// Notifier delivers the final status of a search to its callback URL.
// Implementations must not block.
type Notifier interface {
	SearchFinished(callbackURL string, s Status) error
}

// StartOption configures a single search.
type StartOption func(*entry)

// WithCallback asks for the final status to be posted to callbackURL.
func WithCallback(callbackURL string) StartOption {
	return func(e *entry) {
		e.callbackURL = callbackURL
	}
}

// Manager runs searches in background goroutines. Safe for concurrent use.
type Manager struct {
	runner    search.Runner
	repo      *stateRepo
	retention time.Duration
	order     hits.ScoreOrder
	notifier  Notifier

	mu                sync.Mutex
	closed            bool
	runs              sync.WaitGroup
	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
}

// NewManager creates a manager and starts its maintenance loop.
func NewManager(runner search.Runner, cfg Config) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = 15 * time.Minute
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Minute
	}

	maintenanceCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:            runner,
		repo:              newStateRepo(),
		retention:         cfg.Retention,
		order:             cfg.ScoreOrder,
		notifier:          cfg.Notifier,
		cancelMaintenance: cancel,
		maintenanceDone:   make(chan struct{}),
	}
	go m.runMaintenance(maintenanceCtx, cfg.MaintenanceInterval)
	return m
}

// Start validates req and runs it in the background. The search is detached
// from ctx; use Cancel to interrupt it.
func (m *Manager) Start(ctx context.Context, req search.Request, opts ...StartOption) (*Status, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	e := &entry{req: req, state: StateRunning}
	for _, opt := range opts {
		opt(e)
	}
	if e.callbackURL != "" {
		if err := validateCallback(e.callbackURL); err != nil {
			return nil, err
		}
		if m.notifier == nil {
			return nil, apperrors.Validation("callbackUrl", "callbacks are not enabled")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	e.id = uuid.NewString()
	e.startedAt = time.Now().UTC()
	e.cancel = cancel
	m.repo.add(e)
	// Snapshot before the run starts; finish mutates e under the repo lock.
	started := e.status(m.order)

	logger := slog.With("searchId", e.id, "program", req.Program)
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		defer cancel(nil)

		out := m.runner.Run(runCtx, req)
		if !m.repo.finish(e.id, out, time.Now().UTC()) {
			return
		}
		if out.Succeeded() {
			logger.Info("Search finished", "outcome", out.Label(), "hits", len(out.Hits()))
		} else {
			logger.Warn("Search finished", "outcome", out.Label(), "error", out.Err)
		}
		m.notify(e.id)
	}()

	logger.Info("Search started")
	return &started, nil
}

func (m *Manager) notify(id string) {
	e, ok := m.repo.get(id)
	if !ok || e.callbackURL == "" {
		return
	}
	if err := m.notifier.SearchFinished(e.callbackURL, e.status(m.order)); err != nil {
		slog.Warn("Search callback not queued", "searchId", id, "error", err)
	}
}

func validateCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.Validation("callbackUrl", "callbackUrl must be an absolute http(s) URL")
	}
	return nil
}

// Get returns the status of a search.
func (m *Manager) Get(id string) (*Status, error) {
	e, ok := m.repo.get(id)
	if !ok {
		return nil, apperrors.NotFound("search", id)
	}
	s := e.status(m.order)
	return &s, nil
}

// List returns all known searches, newest first.
func (m *Manager) List() *ListResponse {
	entries := m.repo.list()
	slices.SortFunc(entries, func(a, b entry) int {
		return b.startedAt.Compare(a.startedAt)
	})

	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, e.status(m.order))
	}
	return &ListResponse{Searches: statuses}
}

// Cancel interrupts a running search. Cancelling a finished search is a no-op.
func (m *Manager) Cancel(id string) error {
	cancel, ok := m.repo.cancelFunc(id)
	if !ok {
		return apperrors.NotFound("search", id)
	}
	if cancel != nil {
		cancel(errCancelRequested)
		slog.Info("Search cancellation requested", "searchId", id)
	}
	return nil
}

// Close stops accepting searches, cancels running ones and waits for them
// until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancelMaintenance()
	<-m.maintenanceDone

	for _, cancel := range m.repo.running() {
		cancel(ErrClosed)
	}

	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runMaintenance periodically purges expired searches.
func (m *Manager) runMaintenance(ctx context.Context, interval time.Duration) {
	defer close(m.maintenanceDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.purgeExpired(time.Now())
		}
	}
}

func (m *Manager) purgeExpired(now time.Time) {
	removed := m.repo.purge(now.Add(-m.retention))
	if len(removed) > 0 {
		slog.Info("Maintenance complete", "component", "maintenance", "purged", len(removed))
	}
}
