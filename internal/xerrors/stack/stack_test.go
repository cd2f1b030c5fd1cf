package stack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesCallingFrame(t *testing.T) {
	s := New(0)
	require.NotEmpty(t, s)

	str := s.String()
	assert.Contains(t, str, "TestNewCapturesCallingFrame")
	assert.Contains(t, str, "stack_test.go")
}

func TestFramesMatchStringOutput(t *testing.T) {
	s := New(0)
	frames := s.Frames()
	require.NotEmpty(t, frames)
	assert.True(t, strings.HasSuffix(frames[0].File, "stack_test.go"))
}

func TestEmptyStackRendersEmptyString(t *testing.T) {
	var s Stack
	assert.Equal(t, "", s.String())
	assert.Nil(t, s.Frames())
}
