// Package ebi implements search.Transport against the EMBL-EBI Job
// Dispatcher REST API for FASTA/SSEARCH.
//
// Endpoints, relative to the configured base URL:
//
//	POST /run                  form-encoded parameters, returns the job id
//	GET  /status/{id}          QUEUED, RUNNING, FINISHED, ERROR, FAILURE or NOT_FOUND
//	GET  /result/{id}/{kind}   raw result payload
//	GET  /parameters           used as a readiness probe
package ebi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"strings"
	"time"
)

const (
	maxResponseBytes = 64 << 20
	maxErrorSnippet  = 512
	userAgent        = "seqjoin (+https://www.ebi.ac.uk/Tools/common/tools/help/)"
)

// ErrCircuitOpen is returned without contacting the service while the
// circuit breaker is open.
var ErrCircuitOpen = errors.New("ebi: circuit open, service marked unavailable")

// Config holds client settings.
type Config struct {
	BaseURL     string        // e.g. https://www.ebi.ac.uk/Tools/services/rest/fasta
	Email       string        // contact address required by the service's usage policy
	HTTPTimeout time.Duration // per-request timeout (default: 30s)
	Retries     int           // extra attempts for Poll, Fetch and Ready; Submit never retries
	Backoff     BackoffConfig
	Breaker     BreakerConfig
}

// Client talks to the remote job service. Safe for concurrent use.
type Client struct {
	base    *url.URL
	email   string
	http    *http.Client
	retries int
	backoff BackoffConfig
	breaker *breaker
	logger  *slog.Logger
}

var _ search.Transport = (*Client)(nil)

// New creates a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Email == "" {
		return nil, errors.New("contact email is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	return &Client{
		base:  base,
		email: cfg.Email,
		http: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retries: max(cfg.Retries, 0),
		backoff: cfg.Backoff,
		breaker: newBreaker(cfg.Breaker),
		logger:  slog.With("component", "ebi", "host", base.Host),
	}, nil
}

// Submit starts a job. It is attempted exactly once.
func (c *Client) Submit(ctx context.Context, req search.Request) (search.Handle, error) {
	form := url.Values{}
	form.Set("email", c.email)
	for k, v := range req.Params() {
		form.Set(k, v)
	}

	body, err := c.call(ctx, http.MethodPost, c.endpoint("run"), form, 0)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(body))
	if id == "" || strings.ContainsAny(id, " \t\r\n/") {
		return "", fmt.Errorf("ebi: unexpected job id %q", truncate(id))
	}
	return search.Handle(id), nil
}

// Poll returns the job's current status. An HTTP 404 is reported as NOT_FOUND.
func (c *Client) Poll(ctx context.Context, h search.Handle) (search.Status, error) {
	body, err := c.call(ctx, http.MethodGet, c.endpoint("status", string(h)), nil, c.retries)
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode == http.StatusNotFound {
			return search.StatusNotFound, nil
		}
		return "", err
	}
	return ParseStatus(string(body))
}

// Fetch returns the raw result payload of one kind.
func (c *Client) Fetch(ctx context.Context, h search.Handle, kind hits.Kind) ([]byte, error) {
	return c.call(ctx, http.MethodGet, c.endpoint("result", string(h), string(kind)), nil, c.retries)
}

// Ready checks that the service answers its parameter listing.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, c.endpoint("parameters"), nil, 0)
	return err
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.current()
}

// ParseStatus maps the service's status vocabulary onto search.Status.
func ParseStatus(raw string) (search.Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "QUEUED", "RUNNING", "PENDING":
		return search.StatusRunning, nil
	case "FINISHED", "DONE":
		return search.StatusDone, nil
	case "ERROR", "FAILURE", "FAILED":
		return search.StatusFailed, nil
	case "NOT_FOUND":
		return search.StatusNotFound, nil
	default:
		return "", fmt.Errorf("ebi: unrecognised job status %q", truncate(raw))
	}
}

func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}

// call performs a request with up to retries extra attempts on server and
// network errors. Client errors are returned immediately.
func (c *Client) call(ctx context.Context, method, target string, form url.Values, retries int) ([]byte, error) {
	if !c.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := range retries + 1 {
		if attempt > 0 {
			delay := c.backoff.delay(attempt)
			c.logger.Debug("Retrying request", "method", method, "url", target, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				c.breaker.release()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.do(ctx, method, target, form)
		if err == nil {
			c.breaker.success()
			return body, nil
		}
		lastErr = err
		if IsClientError(err) {
			// The service answered; only its verdict on this request was negative.
			c.breaker.success()
			return nil, err
		}
		if ctx.Err() != nil {
			c.breaker.release()
			return nil, err
		}
	}

	c.breaker.failure()
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, target string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(data))}
	}
	return data, nil
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsClientError returns true for 4xx errors (shouldn't retry).
func IsClientError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 400 && he.StatusCode < 500
	}
	return false
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}
