package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/searches take
// - Traffic: Request/search throughput
// - Errors: Rate of failed searches by outcome
// - Saturation: Concurrent remote jobs
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Search metrics (Latency, Traffic, Errors, Saturation)
	SearchDuration metric.Float64Histogram
	SearchesTotal  metric.Int64Counter
	SearchesActive metric.Int64UpDownCounter
	SearchHits     metric.Int64Histogram
	PollsTotal     metric.Int64Counter

	// Cache metrics
	CacheLookups metric.Int64Counter

	// Callback delivery metrics
	NotificationsTotal metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("seqjoin")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Search metrics
	m.SearchDuration, err = meter.Float64Histogram(
		"search_duration_seconds",
		metric.WithDescription("Search lifecycle duration from submit to parsed results"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SearchesTotal, err = meter.Int64Counter(
		"searches_total",
		metric.WithDescription("Total number of searches by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SearchesActive, err = meter.Int64UpDownCounter(
		"searches_active",
		metric.WithDescription("Number of searches currently waiting on a remote job (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SearchHits, err = meter.Int64Histogram(
		"search_hits",
		metric.WithDescription("Number of primary hits returned by successful searches"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollsTotal, err = meter.Int64Counter(
		"search_polls_total",
		metric.WithDescription("Total number of remote status polls by reported status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheLookups, err = meter.Int64Counter(
		"cache_lookups_total",
		metric.WithDescription("Total number of outcome cache lookups"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotificationsTotal, err = meter.Int64Counter(
		"search_notifications_total",
		metric.WithDescription("Total number of completion callbacks by delivery result"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSearchStarted records a search entering the remote lifecycle.
func (m *Metrics) RecordSearchStarted(ctx context.Context, program string) {
	m.SearchesActive.Add(ctx, 1, metric.WithAttributes(programAttr(program)))
}

// RecordSearchFinished records a search reaching an outcome.
func (m *Metrics) RecordSearchFinished(ctx context.Context, program, outcome string, duration time.Duration, hitCount int) {
	attrs := metric.WithAttributes(programAttr(program), outcomeAttr(outcome))
	m.SearchesTotal.Add(ctx, 1, attrs)
	m.SearchDuration.Record(ctx, duration.Seconds(), attrs)
	m.SearchesActive.Add(ctx, -1, metric.WithAttributes(programAttr(program)))

	if outcome == "success" {
		m.SearchHits.Record(ctx, int64(hitCount), metric.WithAttributes(programAttr(program)))
	}
}

// RecordPoll records one remote status poll.
func (m *Metrics) RecordPoll(ctx context.Context, status string) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(jobStatusAttr(status)))
}

// RecordCacheLookup records an outcome cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(hitAttr(hit)))
}

// RecordNotification records a completion callback reaching a final result
// (delivered, failed or dropped).
func (m *Metrics) RecordNotification(ctx context.Context, result string) {
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(result)))
}
