package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seqjoin/internal/observability"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("dropped")
	logger.With("component", "search").Warn("kept", "kind", "out")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "search", record["component"])
	assert.Equal(t, "out", record["kind"])
	assert.NotContains(t, record, "trace_id")
}

func TestNew_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text")

	logger.Debug("polling", "status", "RUNNING")

	assert.Contains(t, buf.String(), "polling")
	assert.Contains(t, buf.String(), "RUNNING")
}

func TestNew_TraceID(t *testing.T) {
	t.Parallel()
	tp := observability.NewTracerProvider("seqjoin-test", "dev")
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	New(&buf, "info", "json").InfoContext(ctx, "search started")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, observability.TraceID(ctx), record["trace_id"])
}
