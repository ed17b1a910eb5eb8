package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfig_MissingDefaultFallsBack(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yml")

	cfg, err := resolveConfig(missing, false, FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Host.WsURL, cfg.Host.WsURL)

	_, err = resolveConfig(missing, true, FlagOverrides{})
	assert.Error(t, err, "an explicit path must exist")
}

func TestResolveConfig_OverridesThenValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("surface:\n  settle_ms: 250\n"), 0o644))

	store := ":memory:"
	cfg, err := resolveConfig(path, true, FlagOverrides{StorePath: &store})
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Surface.SettleMS)
	assert.Equal(t, ":memory:", cfg.Store.Path)

	bad := "http://not-a-websocket"
	_, err = resolveConfig(path, true, FlagOverrides{HostWsURL: &bad})
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modsurface.env")
	require.NoError(t, os.WriteFile(path, []byte(envLogLevel+"=debug\n"), 0o644))

	t.Setenv(envLogLevel, "")
	require.NoError(t, os.Unsetenv(envLogLevel))
	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "debug", os.Getenv(envLogLevel))

	// Existing variables win over the file.
	t.Setenv(envLogLevel, "warn")
	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "warn", os.Getenv(envLogLevel))

	missing := filepath.Join(dir, "absent.env")
	assert.NoError(t, loadEnvFile(missing, false))
	assert.Error(t, loadEnvFile(missing, true))
	assert.NoError(t, loadEnvFile("", true))
}
