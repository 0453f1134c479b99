package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileType)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Colored)
	assert.Equal(t, "", cfg.Policy.File)
	assert.False(t, cfg.Policy.Watch)
	assert.Equal(t, "127.0.0.1:7878", cfg.Server.Addr)
	assert.EqualValues(t, 1<<20, cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.Evaluator.DisableTokenizer)
	assert.Equal(t, "", cfg.File)
}

func TestLoadFromHomeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, filepath.Join(home, DirName), `
log:
  level: debug
policy:
  file: ~/.autoapprove/policy.yaml
  watch: true
evaluator:
  disable_tokenizer: true
`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(home, ".autoapprove", "policy.yaml"), cfg.Policy.File)
	assert.True(t, cfg.Policy.Watch)
	assert.True(t, cfg.Evaluator.DisableTokenizer)
}

func TestLoadExplicitPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, t.TempDir(), "server:\n  addr: \":9999\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, t.TempDir(), "server:\n  addr: \":9999\"\n")
	t.Setenv("AUTOAPPROVE_SERVER_ADDR", ":1234")
	t.Setenv("AUTOAPPROVE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name    string
		content string
	}{
		{"BadLevel", "log:\n  level: loud\n"},
		{"WatchWithoutFile", "policy:\n  watch: true\n"},
		{"EmptyAddr", "server:\n  addr: \"\"\n"},
		{"ZeroBody", "server:\n  max_body_bytes: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, t.TempDir(), "log: [\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}
