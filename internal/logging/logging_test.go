package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", JSON: true, Service: "treectl", Output: &buf})
	require.NoError(t, err)

	logger.Debug("renamed", "from", "a", "to", "b")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "renamed", entry["msg"])
	assert.Equal(t, "treectl", entry["service"])
	assert.Equal(t, "a", entry["from"])
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewUnknownLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "loud", Output: &buf})
	require.Error(t, err)
	require.NotNil(t, logger)
	logger.Info("still logs")
	assert.Contains(t, buf.String(), "still logs")
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := slog.Default()
	assert.Same(t, l, OrDiscard(l))
}
