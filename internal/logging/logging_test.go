package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger, cleanup, err := NewWithWriter(&buf, "info", "")
	require.NoError(t, err)
	defer cleanup()

	logger.Debug("hidden")
	logger.Info("turn complete", "turn", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "turn complete", entry["msg"])
	assert.Equal(t, float64(3), entry["turn"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewWritesLogFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	path := filepath.Join(t.TempDir(), "logs", "mealchat.log")
	var buf bytes.Buffer
	logger, cleanup, err := NewWithWriter(&buf, "debug", path)
	require.NoError(t, err)

	logger.Debug("image saved", "storage_key", "dish_abc.jpg")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dish_abc.jpg")
	assert.Contains(t, buf.String(), "dish_abc.jpg")
}

func TestNewBadLogFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	_, _, err := NewWithWriter(&bytes.Buffer{}, "info", filepath.Join(blocker, "mealchat.log"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
