package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

func newBufferedSlog(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})

	return NewSlog(slog.New(handler)), buf
}

func TestNewSlog(t *testing.T) {
	logger, _ := newBufferedSlog(slog.LevelDebug)
	require.NotNil(t, logger.logger)

	require.NotNil(t, NewSlog(nil).logger)
	require.NotNil(t, NewSlogDefault().logger)
}

func TestSlogLogger_Levels(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelDebug)

	logger.Debug("polling partition", "partition_id", "p-0")
	logger.Info("lease acquired", "host", "host-a")
	logger.Warn("renewal failed", "attempt", 2)
	logger.Error("checkpoint failed", "error", "conflict")

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "partition_id=p-0")
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, "host=host-a")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "attempt=2")
	assert.Contains(t, output, "level=ERROR")
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "shown")
}

func TestWith(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelInfo)

	scoped := With(logger, "partition_id", "p-7")
	scoped.Info("batch handled", "size", 3)

	output := buf.String()
	assert.Contains(t, output, "partition_id=p-7")
	assert.Contains(t, output, "size=3")

	nop := NewNop()
	require.Same(t, nop, With(nop, "k", "v").(*NopLogger))
}

func TestNopLogger(t *testing.T) {
	var logger types.Logger = NewNop()

	require.NotPanics(t, func() {
		logger.Debug("message", "key", "value")
		logger.Info("")
		logger.Warn("message", "single")
		logger.Error("message", "k1", "v1", "k2", "v2")
		logger.Fatal("message") // must not exit
	})
}

func BenchmarkNopLogger(b *testing.B) {
	logger := NewNop()

	for b.Loop() {
		logger.Debug("benchmark message", "key1", "value1", "key2", 42)
	}
}
