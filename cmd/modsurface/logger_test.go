package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"error":   slog.LevelError,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		" debug ": slog.LevelDebug,
	}
	for in, want := range cases {
		got, err := parseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseLogLevel("trace")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestSetupLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown", "slot", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "slot=1")
}
