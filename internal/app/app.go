// Package app assembles the search pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"seqjoin/internal/cache"
	"seqjoin/internal/config"
	"seqjoin/internal/health"
	"seqjoin/internal/hits"
	"seqjoin/internal/notify"
	"seqjoin/internal/observability"
	"seqjoin/internal/search"
	"seqjoin/internal/searches"
	"seqjoin/internal/transport/ebi"
	"seqjoin/internal/transport/replay"
)

// Pipeline is the wired search stack. Runner is the controller, wrapped by
// the outcome cache when one is configured.
type Pipeline struct {
	Transport  search.Transport
	Controller *search.Controller
	Runner     search.Runner
	Cache      cache.Cache
	Kinds      []hits.Kind
}

// Build creates the transport, controller and optional cache described by
// cfg. metrics may be nil.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Pipeline, error) {
	kinds, err := cfg.Kinds()
	if err != nil {
		return nil, err
	}

	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}

	var recorder search.Recorder
	var lookups cache.LookupRecorder
	if metrics != nil {
		recorder = metrics
		lookups = metrics
	}

	ctrl, err := search.NewController(transport, search.Config{
		PollInterval: cfg.Fasta.PollInterval,
		Timeout:      cfg.Fasta.Timeout,
		Kinds:        kinds,
	}, recorder)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Transport:  transport,
		Controller: ctrl,
		Runner:     ctrl,
		Kinds:      kinds,
	}

	if cfg.Cache.RedisURL != "" {
		rc, err := cache.Open(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open outcome cache: %w", err)
		}
		p.Cache = rc
		p.Runner = cache.NewCachedRunner(ctrl, rc, kinds, lookups)
		slog.Info("Outcome cache enabled", "ttl", cfg.Cache.TTL)
	}

	return p, nil
}

// NewTransport returns the replay transport when a replay file is
// configured, otherwise the EBI REST client.
func NewTransport(cfg *config.Config) (search.Transport, error) {
	if cfg.Fasta.ReplayFile != "" {
		t, err := replay.Load(cfg.Fasta.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load replay payloads: %w", err)
		}
		slog.Info("Using replay transport", "path", cfg.Fasta.ReplayFile)
		return t, nil
	}

	c, err := ebi.New(ebi.Config{
		BaseURL:     cfg.Fasta.BaseURL,
		Email:       cfg.Fasta.Email,
		HTTPTimeout: cfg.Fasta.HTTPTimeout,
		Retries:     cfg.Fasta.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create EBI client: %w", err)
	}
	return c, nil
}

// Defaults returns the request defaults configured for host queries.
func Defaults(cfg *config.Config) search.Defaults {
	return search.Defaults{
		Program:  cfg.Fasta.Program,
		Database: cfg.Fasta.Database,
		SeqType:  cfg.Fasta.SeqType,
	}
}

// HealthChecks returns the readiness probes: the transport is critical, the
// cache is not.
func (p *Pipeline) HealthChecks() []health.Check {
	checks := []health.Check{{Name: "transport", Probe: p.Transport.Ready, Critical: true}}
	if p.Cache != nil {
		checks = append(checks, health.Check{Name: "cache", Probe: p.Cache.Ping})
	}
	return checks
}

// Close releases the cache connection.
func (p *Pipeline) Close() error {
	if p.Cache == nil {
		return nil
	}
	return p.Cache.Close()
}

// NewNotifier starts the completion callback dispatcher, or returns nil when
// callbacks are disabled. metrics may be nil.
func NewNotifier(cfg *config.Config, metrics *observability.Metrics) *notify.Notifier {
	if !cfg.Notify.Enabled {
		return nil
	}
	retries := cfg.Notify.MaxRetries
	if retries == 0 {
		retries = -1
	}
	var recorder notify.Recorder
	if metrics != nil {
		recorder = metrics
	}
	return notify.New(notify.Config{
		BufferSize:  cfg.Notify.BufferSize,
		Workers:     cfg.Notify.Workers,
		HTTPTimeout: cfg.Notify.HTTPTimeout,
		MaxRetries:  retries,
		SigningKey:  cfg.Notify.SigningKey,
	}, recorder)
}

// NewManager creates the background search manager over the pipeline runner.
// n may be nil, which disables callbacks.
func (p *Pipeline) NewManager(cfg *config.Config, n *notify.Notifier) *searches.Manager {
	mcfg := searches.Config{
		Retention:           cfg.Service.SearchRetention,
		MaintenanceInterval: cfg.Service.MaintenanceInterval,
		ScoreOrder:          cfg.ScoreOrder(),
	}
	if n != nil {
		mcfg.Notifier = n
	}
	return searches.NewManager(p.Runner, mcfg)
}
