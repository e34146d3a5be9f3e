package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
min_token_length: 6
store:
  backend: badger
  in_memory: true
  cache_size: 32
`))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.MinTokenLength)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, 32, cfg.Store.CacheSize)
	assert.Equal(t, "info", cfg.Log.Level, "unset fields keep defaults")
	assert.Equal(t, FormatText, cfg.Log.Format)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     "min_token_len: 3\n",
		"negative length":   "min_token_length: -1\n",
		"unknown backend":   "store:\n  backend: s3\n",
		"dir without path":  "store:\n  path: \"\"\n",
		"dir in memory":     "store:\n  in_memory: true\n",
		"badger no path":    "store:\n  backend: badger\n  path: \"\"\n",
		"negative cache":    "store:\n  cache_size: -4\n",
		"bad level":         "log:\n  level: loud\n",
		"bad format":        "log:\n  format: xml\n",
		"malformed yaml":    "store: [\n",
		"wrong scalar type": "min_token_length: four\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n  format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, FormatJSON, cfg.Log.Format)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := LogConfig{Level: in}.SlogLevel()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: FormatJSON}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", slog.Int("n", 1))
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
	assert.Contains(t, buf.String(), `"n":1`)
}
