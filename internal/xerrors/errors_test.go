package xerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimeoutCarriesFields(t *testing.T) {
	e := NewTimeout(50, "t", nil)
	assert.True(t, Is(e, TimeoutError))
	assert.Equal(t, int64(50), e.DelayMs)
	assert.Equal(t, "t", e.At)
}

func TestIsTraversesWrapChain(t *testing.T) {
	root := New(ExecutionError, "boom")
	wrapped := Wrap(VMRuntimeErrorKind, root, "vm failed")
	assert.True(t, Is(wrapped, VMRuntimeErrorKind))
	assert.True(t, Is(wrapped, ExecutionError))
	assert.False(t, Is(wrapped, NestingError))
}

func TestAggregateIsChecksMembers(t *testing.T) {
	agg := NewAggregate("afterEach failures", New(ExecutionError, "a"), New(TimeoutError, "b"))
	assert.True(t, Is(agg, TimeoutError))
	assert.False(t, Is(agg, NestingError))
}

func TestMarshalUnmarshalWireRoundTrip(t *testing.T) {
	e := NewTimeout(200, "t", &Location{Line: 3, Column: 4})
	p := e.MarshalWire()
	assert.Equal(t, "TimeoutError", p.Kind)

	back := UnmarshalWire(p)
	require.True(t, Is(back, TimeoutError))
	assert.Equal(t, int64(200), back.DelayMs)
	assert.Equal(t, "t", back.At)
}

func TestFormatPlusVIncludesStack(t *testing.T) {
	e := New(ExecutionError, "oops")
	rendered := fmt.Sprintf("%+v", e)
	assert.Contains(t, rendered, "ExecutionError")
	assert.Contains(t, rendered, "oops")
	assert.Contains(t, rendered, "errors_test.go")
}
