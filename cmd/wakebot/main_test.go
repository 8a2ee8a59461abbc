package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileStoreConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "wakebot.yaml")
	body := fmt.Sprintf("storage:\n  driver: file\n  path: %q\nlogging:\n  level: error\n", filepath.Join(dir, "state"))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSettingsCommands(t *testing.T) {
	cfg := fileStoreConfig(t)

	out, err := run(t, "--config", cfg, "settings", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No settings stored.")

	_, err = run(t, "--config", cfg, "settings", "interval", "30m")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "settings", "get", "postIntervalMs")
	require.NoError(t, err)
	assert.Equal(t, "1800000\n", out)

	_, err = run(t, "--config", cfg, "settings", "set", "lastPostAt", "0")
	assert.ErrorContains(t, err, "managed by the scheduler")

	_, err = run(t, "--config", cfg, "settings", "set", "postIntervalMs", "-5")
	assert.Error(t, err)

	_, err = run(t, "--config", cfg, "settings", "get", "missing")
	assert.ErrorContains(t, err, "not found")

	out, err = run(t, "--config", cfg, "settings", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "postIntervalMs")
}

func TestLogsCommand_Empty(t *testing.T) {
	cfg := fileStoreConfig(t)

	out, err := run(t, "--config", cfg, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "No messages logged.")

	out, err = run(t, "--config", cfg, "logs", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestWakeCommand_DisabledWithoutBot(t *testing.T) {
	cfg := fileStoreConfig(t)
	out, err := run(t, "--config", cfg, "wake")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")
}
