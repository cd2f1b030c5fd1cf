// Package wire implements xJet's host<->runner binary framing: a fixed
// header identifying the frame kind and its suite/runner, followed by a
// length-prefixed UTF-8 JSON payload. Every event that crosses the
// sandbox/remote boundary — logs, test transitions, describe transitions,
// suite completion, wire-level errors, status, and control actions — is
// carried by exactly this framing, grounded on the teacher's
// chromiumos/tast/internal/control message-union model but adapted from
// self-delimiting JSON-stream framing to an explicit fixed header plus
// length prefix, since the spec calls out a byte-oriented transport that
// may deliver partial frames.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Kind identifies the payload schema carried by a Frame.
type Kind byte

const (
	KindLog Kind = iota
	KindTest
	KindSuite
	KindDescribe
	KindError
	KindStatus
	KindAction
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "LOG"
	case KindTest:
		return "TEST"
	case KindSuite:
		return "SUITE"
	case KindDescribe:
		return "DESCRIBE"
	case KindError:
		return "ERROR"
	case KindStatus:
		return "STATUS"
	case KindAction:
		return "ACTION"
	default:
		return fmt.Sprintf("KIND(%d)", byte(k))
	}
}

const (
	idFieldLen   = 14
	kindLen      = 1
	lengthLen    = 4 // uint32 big-endian payload length
	HeaderLength = kindLen + idFieldLen + idFieldLen
)

// Frame is a single decoded wire message.
type Frame struct {
	Kind     Kind
	SuiteID  string
	RunnerID string
	Payload  json.RawMessage
}

// ErrProtocol is returned for any malformed header or payload. Callers
// should surface it to the host as a runner-fatal WireProtocolError.
type ErrProtocol struct {
	Reason string
}

func (e *ErrProtocol) Error() string { return "wire: protocol error: " + e.Reason }

func padID(id string) ([idFieldLen]byte, error) {
	var out [idFieldLen]byte
	if len(id) > idFieldLen {
		return out, &ErrProtocol{Reason: fmt.Sprintf("id %q exceeds %d bytes", id, idFieldLen)}
	}
	copy(out[:], id)
	return out, nil
}

func trimID(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// Encode serializes f as HEADER || uint32(len(payload)) || PAYLOAD.
func Encode(f Frame) ([]byte, error) {
	suite, err := padID(f.SuiteID)
	if err != nil {
		return nil, err
	}
	runner, err := padID(f.RunnerID)
	if err != nil {
		return nil, err
	}
	payload := f.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return nil, &ErrProtocol{Reason: "payload is not valid JSON"}
	}

	buf := make([]byte, 0, HeaderLength+lengthLen+len(payload))
	buf = append(buf, byte(f.Kind))
	buf = append(buf, suite[:]...)
	buf = append(buf, runner[:]...)
	var lenBuf [lengthLen]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	return buf, nil
}

// Decode parses a single complete frame from buf. It returns the number of
// bytes consumed so callers buffering a stream can slice the remainder.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderLength+lengthLen {
		return Frame{}, 0, &ErrProtocol{Reason: "buffer shorter than header"}
	}
	kind := Kind(buf[0])
	if kind > KindAction {
		return Frame{}, 0, &ErrProtocol{Reason: fmt.Sprintf("unknown frame kind %d", buf[0])}
	}
	suiteID := trimID(buf[kindLen : kindLen+idFieldLen])
	runnerID := trimID(buf[kindLen+idFieldLen : HeaderLength])
	payloadLen := binary.BigEndian.Uint32(buf[HeaderLength : HeaderLength+lengthLen])
	total := HeaderLength + lengthLen + int(payloadLen)
	if len(buf) < total {
		return Frame{}, 0, &ErrProtocol{Reason: "buffer shorter than declared payload length"}
	}
	payload := buf[HeaderLength+lengthLen : total]
	if !json.Valid(payload) {
		return Frame{}, 0, &ErrProtocol{Reason: "payload is not valid JSON"}
	}
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)
	return Frame{Kind: kind, SuiteID: suiteID, RunnerID: runnerID, Payload: cp}, total, nil
}

// Assembler buffers a byte-oriented transport's output and yields complete
// frames as they become available, per the spec's requirement that
// partial-frame assembly is the Target's duty.
type Assembler struct {
	buf []byte
}

// Feed appends newly-received bytes and returns any frames that are now
// complete, in order.
func (a *Assembler) Feed(chunk []byte) ([]Frame, error) {
	a.buf = append(a.buf, chunk...)
	var out []Frame
	for {
		if len(a.buf) < HeaderLength+lengthLen {
			return out, nil
		}
		f, n, err := Decode(a.buf)
		if err != nil {
			var pe *ErrProtocol
			if errors.As(err, &pe) && pe.Reason == "buffer shorter than declared payload length" {
				return out, nil
			}
			return out, err
		}
		out = append(out, f)
		a.buf = a.buf[n:]
	}
}

// MessageWriter writes frames to an underlying io.Writer, serializing
// concurrent writers' access the way the teacher's control.MessageWriter
// serializes JSON-encoder access.
type MessageWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewMessageWriter returns a writer for w.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: w}
}

// WriteFrame encodes and writes f.
func (mw *MessageWriter) WriteFrame(f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	_, err = mw.w.Write(b)
	return err
}
