package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger(t *testing.T) {
	t.Run("writes JSON", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)
		logger.Info("tick", slog.String("bus", "bus-1"), slog.Int("segment", 2))

		out := buf.String()
		assert.Contains(t, out, `"level":"INFO"`)
		assert.Contains(t, out, `"msg":"tick"`)
		assert.Contains(t, out, `"bus":"bus-1"`)
		assert.Contains(t, out, `"segment":2`)
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelWarn)
		logger.Info("hidden")
		logger.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "fetch failed", errors.New("boom"), slog.String("resource", "students"))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Contains(t, buf.String(), `"resource":"students"`)

	buf.Reset()
	LogOperation(logger, "run finished", slog.Duration("duration", 0), slog.String("bus", "b1"))
	assert.NotContains(t, buf.String(), "duration")
	assert.Contains(t, buf.String(), `"bus":"b1"`)

	buf.Reset()
	LogOperation(logger, "run finished", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), "duration")

	buf.Reset()
	LogHTTPRequest(logger, "GET", "/api/buses", 200, 1.5)
	assert.Contains(t, buf.String(), `"msg":"http_request"`)
	assert.Contains(t, buf.String(), `"status":200`)

	// nil loggers are ignored
	LogError(nil, "x", errors.New("y"))
	LogOperation(nil, "x")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("close failed") }

func TestSafeClose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)
	SafeClose(failingCloser{}, logger, "store")
	assert.Contains(t, buf.String(), "close failed")
	assert.Contains(t, buf.String(), `"operation":"store"`)
	SafeClose(nil, logger, "noop")
}
