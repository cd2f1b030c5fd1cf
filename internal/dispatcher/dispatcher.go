// Package dispatcher implements the host-side message handler (spec §4.F):
// it decodes wire frames emitted by a Target, tracks which suites are
// still running, wraps terminal guest errors with the resolved source map,
// and fans decoded events out to any number of Reporters — grounded on the
// teacher's OutputStream, which fans a single stream of test events out to
// every attached logger via MultiLogger.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.xjet.dev/xjet/internal/guest"
	"go.xjet.dev/xjet/internal/sourcemap"
	"go.xjet.dev/xjet/internal/wire"
	"go.xjet.dev/xjet/internal/xerrors"
)

// Reporter receives decoded events. A Dispatcher may fan out to any number
// of Reporters (spec's [NEW] multi-reporter requirement).
type Reporter interface {
	OnLog(suiteID, runnerID string, p guest.LogPayload)
	OnTest(suiteID, runnerID string, p guest.TestPayload)
	OnDescribe(suiteID, runnerID string, p guest.TestPayload)
	OnStatus(suiteID, runnerID, status string)
	OnSuiteComplete(suiteID, runnerID string, err error)
}

// CompletionFunc is invoked once per suite, when its terminal SUITE/ERROR
// frame is processed.
type CompletionFunc func(suiteID string, err error)

// Dispatcher is the host-side message handler bound to one Target
// invocation (spec §4.F).
type Dispatcher struct {
	mu        sync.Mutex
	suites    map[string]*sourcemap.Service
	runners   map[string]string
	running   map[string]string // suiteID -> owning runnerID, present while the suite is in flight
	reporters []Reporter
	onDone    CompletionFunc
}

// New builds an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		suites:  make(map[string]*sourcemap.Service),
		runners: make(map[string]string),
		running: make(map[string]string),
	}
}

// AddReporter subscribes a Reporter to every future decoded event.
func (d *Dispatcher) AddReporter(r Reporter) {
	d.mu.Lock()
	d.reporters = append(d.reporters, r)
	d.mu.Unlock()
}

// SetOnComplete installs the per-suite completion callback.
func (d *Dispatcher) SetOnComplete(fn CompletionFunc) {
	d.mu.Lock()
	d.onDone = fn
	d.mu.Unlock()
}

// SetRunner records a runnerId→name mapping, called by a Target during
// InitTarget.
func (d *Dispatcher) SetRunner(id, name string) {
	d.mu.Lock()
	d.runners[id] = name
	d.mu.Unlock()
}

// SetSuiteSource registers a suiteId's source-map service, called by a
// Target before enqueuing that suite's execution task.
func (d *Dispatcher) SetSuiteSource(id string, svc *sourcemap.Service) {
	d.mu.Lock()
	d.suites[id] = svc
	if _, ok := d.running[id]; !ok {
		d.running[id] = ""
	}
	d.mu.Unlock()
}

// SetSuiteRunner associates a suite with the runner executing it, so
// OnSuiteComplete can report which runner a suite finished on.
func (d *Dispatcher) SetSuiteRunner(suiteID, runnerID string) {
	d.mu.Lock()
	d.running[suiteID] = runnerID
	d.mu.Unlock()
}

func (d *Dispatcher) sourceFor(id string) *sourcemap.Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suites[id]
}

// CompleteSuite marks suiteID terminal with err, exactly as if a SUITE or
// ERROR frame had arrived for it. Targets call this directly for failures
// that never make it onto the wire at all — e.g. an External runner's
// transport rejecting the initial dispatch (spec §7: "transport errors ...
// mark suite complete; do not terminate other suites").
func (d *Dispatcher) CompleteSuite(suiteID string, err error) {
	d.complete(suiteID, err)
}

func (d *Dispatcher) complete(suiteID string, err error) {
	d.mu.Lock()
	runnerID := d.runners[d.running[suiteID]]
	if runnerID == "" {
		runnerID = d.running[suiteID]
	}
	delete(d.running, suiteID)
	reporters := append([]Reporter(nil), d.reporters...)
	onDone := d.onDone
	d.mu.Unlock()

	for _, r := range reporters {
		r.OnSuiteComplete(suiteID, runnerID, err)
	}
	if onDone != nil {
		onDone(suiteID, err)
	}
}

// Running reports whether suiteID has not yet produced a terminal frame.
func (d *Dispatcher) Running(suiteID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[suiteID]
	return ok
}

// ProcessData decodes one wire frame and routes it by kind (spec §4.F).
// Malformed frames raise XJetError and do not invoke any reporter.
func (d *Dispatcher) ProcessData(buf []byte) error {
	frame, _, err := wire.Decode(buf)
	if err != nil {
		return xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed frame")
	}
	return d.ProcessFrame(frame)
}

// ProcessFrame routes an already-decoded frame by kind. Targets that
// assemble frames themselves (internal/wire.Assembler, used by External to
// reassemble a byte-oriented transport's output) call this directly rather
// than re-encoding back to bytes for ProcessData.
func (d *Dispatcher) ProcessFrame(frame wire.Frame) error {
	d.mu.Lock()
	reporters := append([]Reporter(nil), d.reporters...)
	runnerID := d.runners[frame.RunnerID]
	d.mu.Unlock()
	if runnerID == "" {
		runnerID = frame.RunnerID
	}

	switch frame.Kind {
	case wire.KindLog:
		var p guest.LogPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed LOG payload")
		}
		for _, r := range reporters {
			r.OnLog(frame.SuiteID, runnerID, p)
		}

	case wire.KindTest:
		p, err := decodeTestPayload(frame.Payload)
		if err != nil {
			return err
		}
		for _, r := range reporters {
			r.OnTest(frame.SuiteID, runnerID, p)
		}

	case wire.KindDescribe:
		p, err := decodeTestPayload(frame.Payload)
		if err != nil {
			return err
		}
		for _, r := range reporters {
			r.OnDescribe(frame.SuiteID, runnerID, p)
		}

	case wire.KindStatus:
		var p guest.StatusPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed STATUS payload")
		}
		for _, r := range reporters {
			r.OnStatus(frame.SuiteID, runnerID, p.Status)
		}

	case wire.KindSuite:
		var p guest.SuitePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed SUITE payload")
		}
		var suiteErr error
		if len(p.Error) > 0 && string(p.Error) != "null" {
			var wp xerrors.WirePayload
			if err := json.Unmarshal(p.Error, &wp); err != nil {
				return xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed SUITE error payload")
			}
			reconstructed := xerrors.UnmarshalWire(wp)
			suiteErr = xerrors.WrapVMRuntime(reconstructed, wp.Name, wp.Stack, d.sourceFor(frame.SuiteID))
		}
		d.complete(frame.SuiteID, suiteErr)

	case wire.KindError:
		var p guest.ErrorPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed ERROR payload")
		}
		wrapped := xerrors.WrapVMRuntime(fmt.Errorf("%s", p.Message), p.Name, p.Stack, d.sourceFor(frame.SuiteID))
		d.complete(frame.SuiteID, wrapped)

	case wire.KindAction:
		// ACTION frames flow host→guest (e.g. a bail signal); a Target never
		// emits one back to the dispatcher, so there is nothing to route.

	default:
		return xerrors.Errorf(xerrors.XJetErrorKind, "unhandled frame kind %d", frame.Kind)
	}
	return nil
}

func decodeTestPayload(raw json.RawMessage) (guest.TestPayload, error) {
	var p guest.TestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, xerrors.Wrap(xerrors.XJetErrorKind, err, "malformed TEST/DESCRIBE payload")
	}
	return p, nil
}
