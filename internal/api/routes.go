package api

import (
	"net/http"
	"seqjoin/internal/health"
	"seqjoin/internal/hits"
	"seqjoin/internal/observability"
	"seqjoin/internal/search"
	"seqjoin/internal/searches"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Runner        search.Runner
	Searches      *searches.Manager
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	Defaults      search.Defaults
	ScoreOrder    hits.ScoreOrder
	FailurePolicy string
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Search endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("GET /v1/filter", authMiddleware(http.HandlerFunc(handler.Filter)))
	mux.Handle("POST /v1/searches", authMiddleware(http.HandlerFunc(handler.CreateSearch)))
	mux.Handle("GET /v1/searches", authMiddleware(http.HandlerFunc(handler.ListSearches)))
	mux.Handle("GET /v1/searches/{searchId}", authMiddleware(http.HandlerFunc(handler.GetSearch)))
	mux.Handle("DELETE /v1/searches/{searchId}", authMiddleware(http.HandlerFunc(handler.DeleteSearch)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = TracingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
