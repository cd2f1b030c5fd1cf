package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := json.Marshal(map[string]interface{}{
		"action":      "SUCCESS",
		"description": "x",
		"ancestry":    []string{"S"},
		"duration":    12,
	})
	require.NoError(t, err)

	f := Frame{
		Kind:     KindTest,
		SuiteID:  "abc0000000000",
		RunnerID: "local000000000",
		Payload:  payload,
	}

	b, err := Encode(f)
	require.NoError(t, err)
	assert.Equal(t, HeaderLength, 1+14+14)

	got, n, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, f.Kind, got.Kind)
	assert.Equal(t, f.SuiteID, got.SuiteID)
	assert.Equal(t, f.RunnerID, got.RunnerID)
	assert.JSONEq(t, string(f.Payload), string(got.Payload))
}

func TestDecodeRejectsMalformedHeader(t *testing.T) {
	_, _, err := Decode([]byte{0, 1, 2})
	require.Error(t, err)
	var pe *ErrProtocol
	assert.ErrorAs(t, err, &pe)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	buf := make([]byte, HeaderLength+4)
	buf[0] = 99
	_, _, err := Decode(buf)
	require.Error(t, err)
}

func TestAssemblerHandlesPartialFrames(t *testing.T) {
	f := Frame{Kind: KindLog, SuiteID: "s1", RunnerID: "r1", Payload: json.RawMessage(`{"level":"info"}`)}
	b, err := Encode(f)
	require.NoError(t, err)

	var asm Assembler
	frames, err := asm.Feed(b[:5])
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = asm.Feed(b[5:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, KindLog, frames[0].Kind)
}

func TestAssemblerHandlesMultipleFramesInOneChunk(t *testing.T) {
	f1 := Frame{Kind: KindLog, SuiteID: "s1", RunnerID: "r1", Payload: json.RawMessage(`1`)}
	f2 := Frame{Kind: KindTest, SuiteID: "s1", RunnerID: "r1", Payload: json.RawMessage(`2`)}
	b1, _ := Encode(f1)
	b2, _ := Encode(f2)

	var asm Assembler
	frames, err := asm.Feed(append(b1, b2...))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, KindLog, frames[0].Kind)
	assert.Equal(t, KindTest, frames[1].Kind)
}

func TestEncodeRejectsOversizedID(t *testing.T) {
	_, err := Encode(Frame{SuiteID: "this-id-is-way-too-long-for-the-field"})
	require.Error(t, err)
}
