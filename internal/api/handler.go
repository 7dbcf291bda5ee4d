// Package api provides the HTTP API handlers and routing for the search service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"seqjoin/internal/apperrors"
	"seqjoin/internal/config"
	"seqjoin/internal/health"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"seqjoin/internal/searches"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// callbackKey is the request body field naming a completion webhook.
const callbackKey = "callbackUrl"

// FilterResponse is the body of GET /v1/filter.
type FilterResponse struct {
	Outcome      string             `json:"outcome"`
	IDs          []string           `json:"ids"`
	Scores       map[string]float64 `json:"scores"`
	Hits         []hits.Hit         `json:"hits"`
	RemoteStatus string             `json:"remoteStatus,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// NewFilterResponse renders an outcome. Non-success outcomes carry an empty
// filter and the error text.
func NewFilterResponse(out search.Outcome, order hits.ScoreOrder) FilterResponse {
	f := out.Filter(order)
	resp := FilterResponse{
		Outcome:      out.Label(),
		IDs:          f.IDs(),
		Scores:       f.Scores(),
		Hits:         out.Hits(),
		RemoteStatus: string(out.Status),
	}
	if resp.IDs == nil {
		resp.IDs = []string{}
	}
	if resp.Hits == nil {
		resp.Hits = []hits.Hit{}
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

// Handler contains HTTP handlers for the search API
type Handler struct {
	runner        search.Runner
	searches      *searches.Manager
	health        *health.Checker
	defaults      search.Defaults
	order         hits.ScoreOrder
	failurePolicy string
}

// NewHandler creates a new API handler
func NewHandler(cfg RouterConfig) *Handler {
	policy := cfg.FailurePolicy
	if policy == "" {
		policy = config.FailureClosed
	}
	return &Handler{
		runner:        cfg.Runner,
		searches:      cfg.Searches,
		health:        cfg.HealthChecker,
		defaults:      cfg.Defaults,
		order:         cfg.ScoreOrder,
		failurePolicy: policy,
	}
}

// Filter handles GET /v1/filter. It runs one search synchronously and
// returns the identifier set and score table.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	req, err := search.RequestFromParams(params, h.defaults)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.handleError(w, r, err)
		return
	}

	out := h.runner.Run(r.Context(), req)
	if !out.Succeeded() && h.failurePolicy == config.FailureError {
		h.handleError(w, r, out.Err)
		return
	}

	resp := NewFilterResponse(out, h.order)
	if out.Err != nil {
		slog.WarnContext(r.Context(), "Search failed, serving empty filter", "outcome", out.Label(), "error", out.Err)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CreateSearch handles POST /v1/searches
func (h *Handler) CreateSearch(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var opts []searches.StartOption
	if raw, ok := body[callbackKey]; ok {
		callback, ok := raw.(string)
		if !ok {
			h.handleError(w, r, apperrors.Validation(callbackKey, "must be a string"))
			return
		}
		if callback != "" {
			opts = append(opts, searches.WithCallback(callback))
		}
		delete(body, callbackKey)
	}

	params, err := flatParams(body)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	req, err := search.RequestFromParams(params, h.defaults)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	status, err := h.searches.Start(r.Context(), req, opts...)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/searches/"+status.ID)
	h.writeJSON(w, http.StatusAccepted, status)
}

// ListSearches handles GET /v1/searches
func (h *Handler) ListSearches(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searches.List())
}

// GetSearch handles GET /v1/searches/{searchId}
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	searchID := r.PathValue("searchId")
	if searchID == "" {
		h.writeError(w, http.StatusBadRequest, "Search ID is required")
		return
	}

	status, err := h.searches.Get(searchID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// DeleteSearch handles DELETE /v1/searches/{searchId}
func (h *Handler) DeleteSearch(w http.ResponseWriter, r *http.Request) {
	searchID := r.PathValue("searchId")
	if searchID == "" {
		h.writeError(w, http.StatusBadRequest, "Search ID is required")
		return
	}

	if err := h.searches.Cancel(searchID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the remote search service is unreachable. A cache outage
// only degrades the response.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	errorJSON(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// errorJSON writes {"error": message}; middleware and handlers share it.
func errorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if errors.Is(err, searches.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path, "status", status)
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}

// flatParams converts a decoded JSON object of scalar values into the flat
// parameter form the host query uses.
func flatParams(body map[string]any) (map[string]string, error) {
	params := make(map[string]string, len(body))
	for key, value := range body {
		switch v := value.(type) {
		case string:
			params[key] = v
		case json.Number:
			params[key] = v.String()
		case nil:
		default:
			return nil, apperrors.Validation(key, fmt.Sprintf("must be a string or number, got %T", value))
		}
	}
	return params, nil
}
