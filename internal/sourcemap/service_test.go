package sourcemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalMap is the smallest valid source-map v3 document: one segment
// mapping generated (line 1, col 0) back to (foo.ts, line 1, col 0).
const minimalMap = `{"version":3,"sources":["foo.ts"],"names":[],"mappings":"AAAA","file":"foo.js"}`

// preambleMap is minimalMap's shape with a distinguishable source name, used
// to tell apart a query resolved through a concatenated preamble from one
// resolved through the suite's own map.
const preambleMap = `{"version":3,"sources":["runtime.ts"],"names":[],"mappings":"AAAA","file":"preamble.js"}`

func TestServiceResolveOriginal(t *testing.T) {
	svc, err := New("foo.js", []byte(minimalMap))
	require.NoError(t, err)

	orig, err := svc.ResolveOriginal(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "foo.ts", orig.Source)
}

func TestServiceResolveOriginalNoMappingOnZeroValue(t *testing.T) {
	var svc Service
	_, err := svc.ResolveOriginal(1, 0)
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestNewRejectsInvalidJSON(t *testing.T) {
	_, err := New("bad.js", []byte("not json"))
	assert.Error(t, err)
}

func TestServiceConcatShiftsFutureQueries(t *testing.T) {
	preamble, err := New("preamble.js", []byte(minimalMap))
	require.NoError(t, err)
	preamble.SetExtent(5)

	suite, err := New("suite.js", []byte(minimalMap))
	require.NoError(t, err)
	suite.Concat(preamble)

	// Line 6 in the concatenated bundle is line 1 of suite's own map, since
	// the preamble occupies the first 5 generated lines.
	orig, err := suite.ResolveOriginal(6, 0)
	require.NoError(t, err)
	assert.Equal(t, "foo.ts", orig.Source)
}

func TestServiceConcatResolvesWithinPreambleRange(t *testing.T) {
	preamble, err := New("preamble.js", []byte(preambleMap))
	require.NoError(t, err)
	preamble.SetExtent(5)

	suite, err := New("suite.js", []byte(minimalMap))
	require.NoError(t, err)
	suite.Concat(preamble)

	// Line 1 falls within the preamble's own 5-line extent and must resolve
	// against the preamble's map, unshifted, not the suite's.
	orig, err := suite.ResolveOriginal(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "runtime.ts", orig.Source)
}

func TestServiceConcatWithNilIsNoop(t *testing.T) {
	svc, err := New("foo.js", []byte(minimalMap))
	require.NoError(t, err)
	svc.Concat(nil)

	orig, err := svc.ResolveOriginal(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "foo.ts", orig.Source)
}
