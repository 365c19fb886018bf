package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("backend stdout", "message", "listening")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "helix.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"backend stdout"`)
	assert.Contains(t, string(data), `"service":"helix"`)
	assert.Same(t, logger, slog.Default())
}

func TestInitLogger_InfoLevelDropsDebug(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	logger, closer, err := InitLogger(dir, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "helix.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)

	_, span := tracer.Start(context.Background(), "test.span")
	span.End()
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "helix_traces.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "test.span")
}
