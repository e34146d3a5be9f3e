package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeInput(t *testing.T, dir, text string) string {
	t.Helper()
	path := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

const sampleText = "GET /api/items 200\nGET /api/items 200\nPOST /api/items 201\nGET /api/items 200\n"

func TestCompressDecompressFile(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, sampleText)

	_, stderr, err := run(t, "compress", input)
	require.NoError(t, err)
	assert.Contains(t, stderr, "compressed")

	container := input + ".stash"
	require.FileExists(t, container)

	stdout, _, err := run(t, "decompress", container)
	require.NoError(t, err)
	assert.Equal(t, sampleText, stdout)

	restored := filepath.Join(dir, "restored.txt")
	_, _, err = run(t, "decompress", container, "-o", restored)
	require.NoError(t, err)
	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, sampleText, string(data))
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "abcabcabc")
	container := filepath.Join(dir, "out.stash")

	_, _, err := run(t, "--min-token-length", "2", "compress", input, "-o", container)
	require.NoError(t, err)

	stdout, _, err := run(t, "stats", "--tokens", container)
	require.NoError(t, err)
	assert.Regexp(t, `source bytes\s+9`, stdout)
	assert.Regexp(t, `tokens\s+1`, stdout)
	assert.Regexp(t, `placements\s+3`, stdout)
	assert.Regexp(t, `segment bytes\s+0`, stdout)
	assert.Contains(t, stdout, `"abc"`)
}

func TestPutGetListDelete(t *testing.T) {
	for _, backend := range []string{"dir", "badger"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			input := writeInput(t, dir, sampleText)
			storeFlags := []string{"--store-backend", backend, "--store-path", filepath.Join(dir, "store"), "--log-level", "error"}

			_, _, err := run(t, append(storeFlags, "put", "requests", input)...)
			require.NoError(t, err)

			stdout, _, err := run(t, append(storeFlags, "get", "requests")...)
			require.NoError(t, err)
			assert.Equal(t, sampleText, stdout)

			stdout, _, err = run(t, append(storeFlags, "list")...)
			require.NoError(t, err)
			assert.Equal(t, "requests\n", stdout)

			_, _, err = run(t, append(storeFlags, "delete", "requests")...)
			require.NoError(t, err)

			_, _, err = run(t, append(storeFlags, "get", "requests")...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not found")
		})
	}
}

func TestConfigFileAndFlagOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "stash.yaml")
	cfg := "min_token_length: 2\nstore:\n  path: " + filepath.Join(dir, "store") + "\n  cache_size: 8\nlog:\n  level: debug\n  format: json\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	input := writeInput(t, dir, "xyzxyz")

	_, stderr, err := run(t, "--config", cfgPath, "put", "k", input)
	require.NoError(t, err)
	assert.Contains(t, stderr, `"msg":"compressed"`)
	assert.Contains(t, stderr, `"tokens":1`)

	_, stderr, err = run(t, "--config", cfgPath, "--log-level", "error", "--min-token-length", "4", "put", "k", input)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(stderr))

	stdout, _, err := run(t, "--config", cfgPath, "list")
	require.NoError(t, err)
	assert.Equal(t, "k\n", stdout)
}

func TestInvalidConfigurationFails(t *testing.T) {
	_, _, err := run(t, "--store-backend", "s3", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")

	_, _, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecompressRejectsCorruptContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.stash")
	require.NoError(t, os.WriteFile(path, []byte("not a container"), 0o600))

	_, _, err := run(t, "decompress", path)
	require.Error(t, err)
}

func TestCompressMissingInput(t *testing.T) {
	_, _, err := run(t, "compress", filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
