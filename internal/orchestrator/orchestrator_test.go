package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.xjet.dev/xjet/internal/config"
	"go.xjet.dev/xjet/internal/guest"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("// fixture"), 0o644))
	return p
}

func TestDiscoverMatchesIncludeAndHonorsExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.test.ts")
	writeFile(t, dir, "sub/b.test.ts")
	writeFile(t, dir, "sub/b.skip.test.ts")
	writeFile(t, dir, "readme.md")

	files, err := Discover(dir, []string{"**/*.test.ts"}, []string{"**/*.skip.test.ts"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.NotContains(t, f, ".skip.")
	}
}

func TestDiscoverDedupesAcrossOverlappingIncludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.test.ts")

	files, err := Discover(dir, []string{"**/*.test.ts", "a.test.ts"}, nil)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestTextReporterFormatsTestAndSuiteEvents(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTextReporter(&buf)
	tr.OnTest("s1", "r1", guest.TestPayload{Action: guest.ActionSuccess, Description: "adds numbers", Ancestry: []string{"math"}})
	tr.OnSuiteComplete("s1", "r1", nil)
	out := buf.String()
	assert.Contains(t, out, "PASS adds numbers")
	assert.Contains(t, out, "PASS s1 (r1)")
}

func TestOrchestratorRunEndToEndWithLocalTarget(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "math.test.ts")

	cfg := config.Config{
		Include:  []string{"**/*.test.ts"},
		Parallel: 2,
		Timeout:  time.Second,
	}
	buildSuite := func(p string) (func(*guest.Suite), error) {
		return func(s *guest.Suite) {
			s.Test("adds", func(ctx *guest.Context) error { return nil })
		}, nil
	}

	var buf bytes.Buffer
	orch := New(cfg, dir, buildSuite, NewTextReporter(&buf))
	code, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, buf.String(), "PASS")
	_ = path
}

func TestOrchestratorRunReturnsNonZeroExitOnSuiteFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.test.ts")

	cfg := config.Config{Include: []string{"**/*.test.ts"}, Parallel: 1, Timeout: time.Second}
	buildSuite := func(p string) (func(*guest.Suite), error) {
		return func(s *guest.Suite) {
			s.Test("explodes", func(ctx *guest.Context) error { return assert.AnError })
		}, nil
	}

	orch := New(cfg, dir, buildSuite)
	code, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}
