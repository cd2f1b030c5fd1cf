package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.xjet.dev/xjet/internal/guest"
	"go.xjet.dev/xjet/internal/wire"
	"go.xjet.dev/xjet/internal/xerrors"
)

type fakeReporter struct {
	logs       []guest.LogPayload
	tests      []guest.TestPayload
	describes  []guest.TestPayload
	statuses   []string
	completed  map[string]error
	completedR map[string]string
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{completed: map[string]error{}, completedR: map[string]string{}}
}

func (f *fakeReporter) OnLog(suiteID, runnerID string, p guest.LogPayload)         { f.logs = append(f.logs, p) }
func (f *fakeReporter) OnTest(suiteID, runnerID string, p guest.TestPayload)       { f.tests = append(f.tests, p) }
func (f *fakeReporter) OnDescribe(suiteID, runnerID string, p guest.TestPayload)   { f.describes = append(f.describes, p) }
func (f *fakeReporter) OnStatus(suiteID, runnerID, status string)                  { f.statuses = append(f.statuses, status) }
func (f *fakeReporter) OnSuiteComplete(suiteID, runnerID string, err error) {
	f.completed[suiteID] = err
	f.completedR[suiteID] = runnerID
}

func encodeFrame(t *testing.T, kind wire.Kind, suiteID, runnerID string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	buf, err := wire.Encode(wire.Frame{Kind: kind, SuiteID: suiteID, RunnerID: runnerID, Payload: raw})
	require.NoError(t, err)
	return buf
}

func TestDispatcherRoutesLogTestDescribeStatus(t *testing.T) {
	d := New()
	d.SetRunner("runner1", "local")
	r := newFakeReporter()
	d.AddReporter(r)

	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindLog, "suite1", "runner1", guest.LogPayload{Level: "info", Description: "hi"})))
	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindTest, "suite1", "runner1", guest.TestPayload{Action: guest.ActionSuccess, Description: "t"})))
	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindDescribe, "suite1", "runner1", guest.TestPayload{Action: guest.ActionStart, Description: "d"})))
	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindStatus, "suite1", "runner1", guest.StatusPayload{Status: "ready"})))

	require.Len(t, r.logs, 1)
	assert.Equal(t, "hi", r.logs[0].Description)
	require.Len(t, r.tests, 1)
	require.Len(t, r.describes, 1)
	require.Len(t, r.statuses, 1)
	assert.Equal(t, "ready", r.statuses[0])
}

func TestDispatcherSuiteFrameWithoutErrorCompletesCleanly(t *testing.T) {
	d := New()
	d.SetSuiteSource("suite1", nil)
	r := newFakeReporter()
	d.AddReporter(r)

	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindSuite, "suite1", "runner1", guest.SuitePayload{})))
	err, ok := r.completed["suite1"]
	require.True(t, ok)
	assert.NoError(t, err)
	assert.False(t, d.Running("suite1"))
}

func TestDispatcherSuiteFrameWithErrorWrapsVMRuntimeError(t *testing.T) {
	d := New()
	d.SetSuiteSource("suite1", nil)
	r := newFakeReporter()
	d.AddReporter(r)

	inner := xerrors.New(xerrors.ExecutionError, "boom")
	payload := guest.SuitePayload{}
	raw, err := inner.MarshalJSON()
	require.NoError(t, err)
	payload.Error = raw

	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindSuite, "suite1", "runner1", payload)))
	got, ok := r.completed["suite1"]
	require.True(t, ok)
	require.Error(t, got)
	assert.True(t, xerrors.Is(got, xerrors.VMRuntimeErrorKind))
}

func TestDispatcherErrorFrameCompletesSuite(t *testing.T) {
	d := New()
	d.SetSuiteSource("suite1", nil)
	r := newFakeReporter()
	d.AddReporter(r)

	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindError, "suite1", "runner1", guest.ErrorPayload{Name: "TypeError", Message: "x is not a function"})))
	got, ok := r.completed["suite1"]
	require.True(t, ok)
	require.Error(t, got)
	assert.False(t, d.Running("suite1"))
}

func TestDispatcherMalformedPayloadReturnsXJetError(t *testing.T) {
	d := New()
	buf, err := wire.Encode(wire.Frame{Kind: wire.KindLog, SuiteID: "s", RunnerID: "r", Payload: []byte(`"not-an-object"`)})
	require.NoError(t, err)

	perr := d.ProcessData(buf)
	require.Error(t, perr)
	assert.True(t, xerrors.Is(perr, xerrors.XJetErrorKind))
}

func TestDispatcherCompletionCallbackFires(t *testing.T) {
	d := New()
	d.SetSuiteSource("suite1", nil)
	var gotID string
	d.SetOnComplete(func(suiteID string, err error) { gotID = suiteID })

	require.NoError(t, d.ProcessData(encodeFrame(t, wire.KindSuite, "suite1", "runner1", guest.SuitePayload{})))
	assert.Equal(t, "suite1", gotID)
}
