// Package replay implements an offline search.Transport that serves recorded
// payloads. Every job finishes immediately.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"strings"

	"github.com/google/uuid"
)

// handlePrefix marks handles issued by Submit.
const handlePrefix = "replay-"

// Transport serves recorded payloads. It keeps no per-job state: handles are
// recognised by their form. Safe for concurrent use.
type Transport struct {
	fallback []byte               // served for every kind when set
	payloads map[hits.Kind][]byte // per-kind payloads
}

var _ search.Transport = (*Transport)(nil)

// New serves payloads per kind.
func New(payloads map[hits.Kind][]byte) *Transport {
	t := &Transport{
		payloads: make(map[hits.Kind][]byte, len(payloads)),
	}
	for k, v := range payloads {
		t.payloads[k] = bytes.Clone(v)
	}
	return t
}

// Single serves the same payload for every kind.
func Single(payload []byte) *Transport {
	t := New(nil)
	t.fallback = bytes.Clone(payload)
	return t
}

// Load reads recordings from path. A regular file is served for every kind;
// a directory serves one file per kind, named after the kind with any
// extension (tab, tab.txt, out.txt).
func Load(path string) (*Transport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		return Single(data), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	payloads := make(map[hits.Kind][]byte)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		kind, _, _ := strings.Cut(e.Name(), ".")
		data, err := os.ReadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		payloads[hits.Kind(kind)] = data
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("replay: no recordings in %s", path)
	}
	return New(payloads), nil
}

// Submit returns a fresh handle. The request itself is not kept.
func (t *Transport) Submit(ctx context.Context, _ search.Request) (search.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return search.Handle(handlePrefix + uuid.NewString()), nil
}

// issued reports whether h has the form Submit produces.
func issued(h search.Handle) bool {
	id, ok := strings.CutPrefix(string(h), handlePrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Poll reports DONE for handles issued by Submit.
func (t *Transport) Poll(ctx context.Context, h search.Handle) (search.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !issued(h) {
		return search.StatusNotFound, nil
	}
	return search.StatusDone, nil
}

// Fetch returns a copy of the recorded payload for kind.
func (t *Transport) Fetch(ctx context.Context, h search.Handle, kind hits.Kind) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !issued(h) {
		return nil, fmt.Errorf("replay: unknown handle %q", h)
	}

	if data, ok := t.payloads[kind]; ok {
		return bytes.Clone(data), nil
	}
	if t.fallback != nil {
		return bytes.Clone(t.fallback), nil
	}
	return nil, fmt.Errorf("replay: no recording for result kind %q", kind)
}

// Ready always succeeds.
func (t *Transport) Ready(context.Context) error {
	return nil
}
