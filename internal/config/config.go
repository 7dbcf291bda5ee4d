// Package config provides configuration loading from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"seqjoin/internal/hits"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "SEQJOIN_CONFIG"

// Failure policies for the synchronous filter endpoint.
const (
	FailureClosed = "closed" // respond with an empty filter
	FailureError  = "error"  // surface the classified error
)

// Config represents the complete application configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Fasta   FastaConfig   `yaml:"fasta"`
	Cache   CacheConfig   `yaml:"cache"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServiceConfig holds configuration for the HTTP service.
type ServiceConfig struct {
	Port                string        `yaml:"port"`
	MetricsPort         string        `yaml:"metrics_port"`
	APIKey              string        `yaml:"-"`
	APIKeyFile          string        `yaml:"api_key_file"`
	ShutdownDrainWait   time.Duration `yaml:"shutdown_drain_wait"` // Time to wait for load balancer to drain (0 to skip)
	FailurePolicy       string        `yaml:"failure_policy"`
	SearchRetention     time.Duration `yaml:"search_retention"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// FastaConfig holds remote search settings.
type FastaConfig struct {
	Email        string        `yaml:"email"`
	Program      string        `yaml:"program"`
	Database     string        `yaml:"database"`
	SeqType      string        `yaml:"stype"`
	BaseURL      string        `yaml:"base_url"`
	ResultKinds  []string      `yaml:"result_kinds"`
	ScoreOrder   string        `yaml:"score_order"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	Retries      int           `yaml:"retries"`
	ReplayFile   string        `yaml:"replay_file"`
}

// CacheConfig holds outcome cache settings. An empty RedisURL disables the cache.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// NotifyConfig holds completion callback settings.
type NotifyConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Workers        int           `yaml:"workers"`
	BufferSize     int           `yaml:"buffer_size"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	SigningKey     string        `yaml:"-"`
	SigningKeyFile string        `yaml:"signing_key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:                "8080",
			MetricsPort:         "9090",
			ShutdownDrainWait:   5 * time.Second,
			FailurePolicy:       FailureClosed,
			SearchRetention:     15 * time.Minute,
			MaintenanceInterval: time.Minute,
		},
		Fasta: FastaConfig{
			Program:      "ssearch",
			Database:     "pdb",
			SeqType:      "protein",
			BaseURL:      "https://www.ebi.ac.uk/Tools/services/rest/fasta",
			ResultKinds:  []string{string(hits.KindTabular), string(hits.KindAlignment)},
			ScoreOrder:   "lower",
			PollInterval: 3 * time.Second,
			Timeout:      5 * time.Minute,
			HTTPTimeout:  30 * time.Second,
			Retries:      2,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Notify: NotifyConfig{
			Enabled:     true,
			Workers:     4,
			BufferSize:  1000,
			HTTPTimeout: 10 * time.Second,
			MaxRetries:  3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides, then overrides. The result is
// validated.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	for _, override := range overrides {
		override(cfg)
	}

	if cfg.Service.APIKeyFile != "" {
		cfg.Service.APIKey = GetSecretFile(cfg.Service.APIKeyFile)
	}
	if cfg.Notify.SigningKeyFile != "" {
		cfg.Notify.SigningKey = GetSecretFile(cfg.Notify.SigningKeyFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with any set environment variables.
func (c *Config) applyEnv() {
	s := &c.Service
	s.Port = GetEnv("PORT", s.Port)
	s.MetricsPort = GetEnv("METRICS_PORT", s.MetricsPort)
	s.APIKeyFile = GetEnv("API_KEY_FILE", s.APIKeyFile)
	s.ShutdownDrainWait = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", s.ShutdownDrainWait)
	s.FailurePolicy = GetEnv("FAILURE_POLICY", s.FailurePolicy)
	s.SearchRetention = GetDurationEnv("SEARCH_RETENTION", s.SearchRetention)
	s.MaintenanceInterval = GetDurationEnv("MAINTENANCE_INTERVAL", s.MaintenanceInterval)

	f := &c.Fasta
	f.Email = GetEnv("FASTA_EMAIL", f.Email)
	f.Program = GetEnv("FASTA_PROGRAM", f.Program)
	f.Database = GetEnv("FASTA_DATABASE", f.Database)
	f.SeqType = GetEnv("FASTA_STYPE", f.SeqType)
	f.BaseURL = GetEnv("FASTA_BASE_URL", f.BaseURL)
	if kinds := GetEnv("FASTA_RESULT_KINDS", ""); kinds != "" {
		f.ResultKinds = splitList(kinds)
	}
	f.ScoreOrder = GetEnv("FASTA_SCORE_ORDER", f.ScoreOrder)
	f.PollInterval = GetDurationEnv("FASTA_POLL_INTERVAL", f.PollInterval)
	f.Timeout = GetDurationEnv("FASTA_TIMEOUT", f.Timeout)
	f.HTTPTimeout = GetDurationEnv("FASTA_HTTP_TIMEOUT", f.HTTPTimeout)
	f.Retries = GetIntEnv("FASTA_RETRIES", f.Retries)
	f.ReplayFile = GetEnv("FASTA_REPLAY_FILE", f.ReplayFile)

	c.Cache.RedisURL = GetEnv("REDIS_URL", c.Cache.RedisURL)
	c.Cache.TTL = GetDurationEnv("CACHE_TTL", c.Cache.TTL)

	n := &c.Notify
	n.Enabled = GetBoolEnv("NOTIFY_ENABLED", n.Enabled)
	n.Workers = GetIntEnv("NOTIFY_WORKERS", n.Workers)
	n.BufferSize = GetIntEnv("NOTIFY_BUFFER_SIZE", n.BufferSize)
	n.HTTPTimeout = GetDurationEnv("NOTIFY_HTTP_TIMEOUT", n.HTTPTimeout)
	n.MaxRetries = GetIntEnv("NOTIFY_MAX_RETRIES", n.MaxRetries)
	n.SigningKeyFile = GetEnv("NOTIFY_SIGNING_KEY_FILE", n.SigningKeyFile)

	c.Logging.Level = GetEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = GetEnv("LOG_FORMAT", c.Logging.Format)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	for name, port := range map[string]string{"service.port": c.Service.Port, "service.metrics_port": c.Service.MetricsPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s must be a port number, got %q", name, port))
		}
	}
	if c.Service.FailurePolicy != FailureClosed && c.Service.FailurePolicy != FailureError {
		errs = append(errs, fmt.Errorf("service.failure_policy must be %q or %q, got %q", FailureClosed, FailureError, c.Service.FailurePolicy))
	}
	if c.Service.SearchRetention <= 0 {
		errs = append(errs, errors.New("service.search_retention must be positive"))
	}

	f := c.Fasta
	if f.ReplayFile == "" {
		if f.Email == "" {
			errs = append(errs, errors.New("fasta.email is required (FASTA_EMAIL) unless fasta.replay_file is set"))
		}
		if u, err := url.Parse(f.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("fasta.base_url must be an http(s) URL, got %q", f.BaseURL))
		}
	}
	if f.Program == "" || f.Database == "" || f.SeqType == "" {
		errs = append(errs, errors.New("fasta.program, fasta.database and fasta.stype are required"))
	}
	if _, err := c.Kinds(); err != nil {
		errs = append(errs, err)
	}
	if _, err := hits.ParseScoreOrder(f.ScoreOrder); err != nil {
		errs = append(errs, fmt.Errorf("fasta.score_order: %w", err))
	}
	if f.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("fasta.poll_interval must be positive, got %s", f.PollInterval))
	}
	if f.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fasta.timeout must be positive, got %s", f.Timeout))
	}
	if f.Retries < 0 {
		errs = append(errs, fmt.Errorf("fasta.retries must not be negative, got %d", f.Retries))
	}

	if c.Notify.Enabled {
		if c.Notify.Workers < 1 {
			errs = append(errs, fmt.Errorf("notify.workers must be at least 1, got %d", c.Notify.Workers))
		}
		if c.Notify.BufferSize < 1 {
			errs = append(errs, fmt.Errorf("notify.buffer_size must be at least 1, got %d", c.Notify.BufferSize))
		}
		if c.Notify.HTTPTimeout <= 0 {
			errs = append(errs, fmt.Errorf("notify.http_timeout must be positive, got %s", c.Notify.HTTPTimeout))
		}
		if c.Notify.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("notify.max_retries must not be negative, got %d", c.Notify.MaxRetries))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json, text or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Kinds returns the configured result kinds, primary first.
func (c *Config) Kinds() ([]hits.Kind, error) {
	if len(c.Fasta.ResultKinds) == 0 {
		return nil, errors.New("fasta.result_kinds must name at least one kind")
	}
	kinds := make([]hits.Kind, 0, len(c.Fasta.ResultKinds))
	seen := make(map[hits.Kind]bool)
	for _, raw := range c.Fasta.ResultKinds {
		k := hits.Kind(strings.ToLower(strings.TrimSpace(raw)))
		if !hits.Supported(k) {
			return nil, fmt.Errorf("fasta.result_kinds: unsupported kind %q", raw)
		}
		if seen[k] {
			return nil, fmt.Errorf("fasta.result_kinds: duplicate kind %q", raw)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ScoreOrder returns the parsed score semantics.
func (c *Config) ScoreOrder() hits.ScoreOrder {
	order, _ := hits.ParseScoreOrder(c.Fasta.ScoreOrder)
	return order
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
