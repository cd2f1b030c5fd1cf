package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.False(t, cfg.Bail)
}

func TestLoadOverlaysFileValuesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xjet.yaml")
	contents := `
bail: true
timeout: 2500ms
parallel: 8
include:
  - "e2e/**/*.test.ts"
exclude:
  - "**/*.skip.test.ts"
reporter: json
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Bail)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 8, cfg.Parallel)
	assert.Equal(t, []string{"e2e/**/*.test.ts"}, cfg.Include)
	assert.Equal(t, []string{"**/*.skip.test.ts"}, cfg.Exclude)
	assert.Equal(t, "json", cfg.Reporter)
}

func TestLoadRejectsInvalidTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xjet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: not-a-duration\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
