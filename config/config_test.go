package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://127.0.0.1:8000", cfg.Service.BaseURL)
	assert.Equal(t, 50, cfg.Monitor.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.BatchInterval())
	assert.Equal(t, 100*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 30*time.Second, cfg.CleanTimeout())
}

func TestReadOverridesDefaults(t *testing.T) {
	doc := `
[service]
base_url = "http://indexd:9000"

[monitor]
batch_size = 10
`
	cfg, err := Read(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "http://indexd:9000", cfg.Service.BaseURL)
	assert.Equal(t, 10, cfg.Monitor.BatchSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.Debounce())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
