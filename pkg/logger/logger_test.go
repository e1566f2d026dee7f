package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "verbose", Encoding: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewLoggerJSONOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := newLogger(Config{
		Level:       "info",
		Encoding:    "json",
		OutputPaths: []string{path},
	})
	require.NoError(t, err)

	log.Info("table created", zap.String("table", "rollout"), zap.Int("columns", 26))
	log.Debug("below the configured level")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, `"message":"table created"`)
	assert.Contains(t, out, `"table":"rollout"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.NotContains(t, out, "below the configured level")
}

func TestNewLoggerConsoleOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := newLogger(Config{
		Level:       "warn",
		Encoding:    "console",
		OutputPaths: []string{path},
	})
	require.NoError(t, err)

	log.Warn("rollout not found", zap.String("filename", "ep_000.tfrecord"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rollout not found")
	assert.Contains(t, string(data), "warn")
}

func TestGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.log")
	require.NoError(t, Init(Config{
		Level:       "info",
		Encoding:    "json",
		OutputPaths: []string{path},
	}))

	first := Get()
	require.NotNil(t, first)

	// Init is once-only; a second call must not replace the logger.
	require.NoError(t, Init(Config{Level: "error", Encoding: "json"}))
	assert.Same(t, first, Get())

	Info("store opened", zap.String("path", "rollouts.db"))
	Warn("skipping rollout row that failed reconstruction")
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "store opened")
	assert.Contains(t, string(data), "skipping rollout row that failed reconstruction")
}

func TestWithContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), DatasetKey, "kitchen_v2")
	ctx = context.WithValue(ctx, OperationKey, "find_by_dataset")

	log := WithContext(ctx)
	require.NotNil(t, log)

	// Values of the wrong type are ignored rather than logged.
	bad := context.WithValue(context.Background(), DatasetKey, 42)
	require.NotNil(t, WithContext(bad))
}

func TestWith(t *testing.T) {
	child := With(zap.String("component", "store"))
	require.NotNil(t, child)
	assert.NotSame(t, Get(), child)
}
