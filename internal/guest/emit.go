package guest

import (
	"encoding/json"
	"time"

	"go.xjet.dev/xjet/internal/wire"
)

// DispatchFunc sends raw framed bytes to the host, matching the guest's
// contract with the host-supplied dispatch(bytes) sink (spec §6).
type DispatchFunc func(buf []byte)

// EmitService builds wire frames for the current suite/runner and hands
// them to the host-supplied dispatch function. Frames are fire-and-forget
// from the guest (spec §4.G "Dispatch").
type EmitService struct {
	suiteID  string
	runnerID string
	dispatch DispatchFunc
}

// NewEmitService constructs an EmitService bound to one suite/runner pair.
func NewEmitService(suiteID, runnerID string, dispatch DispatchFunc) *EmitService {
	return &EmitService{suiteID: suiteID, runnerID: runnerID, dispatch: dispatch}
}

func (e *EmitService) emit(kind wire.Kind, payload interface{}) {
	if e == nil || e.dispatch == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	buf, err := wire.Encode(wire.Frame{
		Kind:     kind,
		SuiteID:  e.suiteID,
		RunnerID: e.runnerID,
		Payload:  raw,
	})
	if err != nil {
		return
	}
	e.dispatch(buf)
}

// Action is the action taken on a test or describe transition.
type Action string

const (
	ActionStart   Action = "START"
	ActionSkip    Action = "SKIP"
	ActionTodo    Action = "TODO"
	ActionFailure Action = "FAILURE"
	ActionSuccess Action = "SUCCESS"
)

// TestPayload is the JSON schema of a TEST/DESCRIBE frame (spec §4.F).
type TestPayload struct {
	Action      Action          `json:"action"`
	Description string          `json:"description"`
	Ancestry    []string        `json:"ancestry"`
	DurationMs  *int64          `json:"duration,omitempty"`
	Errors      json.RawMessage `json:"errors,omitempty"`
	Location    *Location       `json:"location,omitempty"`
}

// EmitTest emits a TEST frame.
func (e *EmitService) EmitTest(p TestPayload) { e.emit(wire.KindTest, p) }

// EmitDescribe emits a DESCRIBE frame.
func (e *EmitService) EmitDescribe(p TestPayload) { e.emit(wire.KindDescribe, p) }

// LogPayload is the JSON schema of a LOG frame.
type LogPayload struct {
	Level       string    `json:"level"`
	Context     []string  `json:"context"`
	Location    *Location `json:"location,omitempty"`
	Timestamp   string    `json:"timestamp"`
	Description string    `json:"description"`
}

// EmitLog emits a LOG frame with the current time stamped in RFC3339Nano.
func (e *EmitService) EmitLog(level string, context []string, loc *Location, description string) {
	e.emit(wire.KindLog, LogPayload{
		Level:       level,
		Context:     context,
		Location:    loc,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Description: description,
	})
}

// SuitePayload is the JSON schema of the terminal SUITE frame.
type SuitePayload struct {
	Error json.RawMessage `json:"error,omitempty"`
}

// EmitSuite emits the terminal SUITE frame for this suite.
func (e *EmitService) EmitSuite(p SuitePayload) { e.emit(wire.KindSuite, p) }

// ErrorPayload is the JSON schema of an ERROR frame.
type ErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// EmitError emits a standalone ERROR frame (Target-fatal condition).
func (e *EmitService) EmitError(p ErrorPayload) { e.emit(wire.KindError, p) }

// StatusPayload is the JSON schema of a STATUS frame.
type StatusPayload struct {
	Status string `json:"status"`
}

// EmitStatus emits a STATUS frame.
func (e *EmitService) EmitStatus(status string) {
	e.emit(wire.KindStatus, StatusPayload{Status: status})
}
