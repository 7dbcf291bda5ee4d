// Package cache stores successful search outcomes so identical requests are
// answered without a remote job.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"slices"
	"strings"
	"time"
)

// Entry is one cached successful outcome.
type Entry struct {
	Payloads []search.Payload
	StoredAt time.Time
}

// Cache stores entries by key. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e Entry) error
	Ping(ctx context.Context) error
	Close() error
}

// Key derives the cache key for a request fetched with the given kinds.
// Requests differing only in FASTA header, whitespace or residue case share a key.
func Key(req search.Request, kinds []hits.Kind) string {
	params := req.Params()
	params[search.ParamSequence] = strings.ToUpper(params[search.ParamSequence])
	params[search.ParamSeqType] = strings.ToLower(params[search.ParamSeqType])

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	for _, k := range kinds {
		h.Write([]byte("kind=" + string(k)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LookupRecorder receives cache hit/miss counts. *observability.Metrics implements it.
type LookupRecorder interface {
	RecordCacheLookup(ctx context.Context, hit bool)
}

// CachedRunner answers repeated requests from a Cache and stores successful
// outcomes of the wrapped runner. Cache failures are logged and never fail a search.
type CachedRunner struct {
	next    search.Runner
	cache   Cache
	kinds   []hits.Kind
	metrics LookupRecorder
	logger  *slog.Logger
}

var _ search.Runner = (*CachedRunner)(nil)

// NewCachedRunner wraps next. kinds must match the wrapped controller's kinds.
// metrics may be nil.
func NewCachedRunner(next search.Runner, c Cache, kinds []hits.Kind, metrics LookupRecorder) *CachedRunner {
	return &CachedRunner{
		next:    next,
		cache:   c,
		kinds:   slices.Clone(kinds),
		metrics: metrics,
		logger:  slog.With("component", "cache"),
	}
}

// Run returns a cached outcome when present, otherwise runs the search.
func (r *CachedRunner) Run(ctx context.Context, req search.Request) search.Outcome {
	if req.Validate() != nil {
		return r.next.Run(ctx, req)
	}

	key := Key(req, r.kinds)
	logger := r.logger.With("key", key[:12])

	entry, err := r.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Cache lookup failed", "error", err)
	}
	if r.metrics != nil && err == nil {
		r.metrics.RecordCacheLookup(ctx, entry != nil)
	}
	if entry != nil {
		logger.Debug("Serving cached outcome", "stored_at", entry.StoredAt)
		return search.Outcome{Kind: search.OutcomeSuccess, Payloads: entry.Payloads}
	}

	out := r.next.Run(ctx, req)
	if !out.Succeeded() {
		return out
	}

	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.cache.Put(putCtx, key, Entry{Payloads: out.Payloads, StoredAt: time.Now().UTC()}); err != nil {
		logger.Warn("Cache store failed", "error", err)
	}
	return out
}
