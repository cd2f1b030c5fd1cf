package target

import (
	"context"
	"encoding/json"
	"fmt"

	"go.xjet.dev/xjet/internal/dispatcher"
	"go.xjet.dev/xjet/internal/guest"
	"go.xjet.dev/xjet/internal/queue"
	"go.xjet.dev/xjet/internal/sourcemap"
	"go.xjet.dev/xjet/internal/wire"
	"go.xjet.dev/xjet/internal/xerrors"
)

// Local is the in-process sandbox Target (spec §4.E.1). It generates one
// runnerId for itself, runs each suite's tree against a fresh SuiteState,
// and feeds frames directly into the Dispatcher rather than over a
// transport, since there is no separate runner process to talk to.
type Local struct {
	d *dispatcher.Dispatcher
	q *queue.Queue

	runnerID  string
	bail      bool
	filter    []string
	timeoutMs int64
	randomize bool
	seed      int64
}

// NewLocal builds a Local target reporting through d, bounded to
// parallelism concurrent suites.
func NewLocal(d *dispatcher.Dispatcher, parallelism int, bail bool, filter []string, timeoutMs int64, randomize bool, seed int64) *Local {
	return &Local{
		d:         d,
		q:         queue.New(parallelism),
		bail:      bail,
		filter:    filter,
		timeoutMs: timeoutMs,
		randomize: randomize,
		seed:      seed,
	}
}

// InitTarget generates the local runnerId and opens the queue for dequeue.
func (l *Local) InitTarget(ctx context.Context) error {
	l.runnerID = wire.NewID()
	l.d.SetRunner(l.runnerID, "local")
	l.q.Start()
	return nil
}

// ExecuteSuites enqueues one task per suite, running each against a fresh
// guest.SuiteState. On bail, the first suite failure drops every other
// queued suite (there is only one runnerId, so RemoveTasksByRunner clears
// everything not already running) per spec §5 "Cancellation & timeouts".
func (l *Local) ExecuteSuites(ctx context.Context, suites []Suite) error {
	for _, s := range suites {
		s := s
		suiteID := wire.NewID()
		svc := buildSourceMap(s)
		l.d.SetSuiteSource(suiteID, svc)
		l.d.SetSuiteRunner(suiteID, l.runnerID)

		l.q.Enqueue(func(taskCtx context.Context) (interface{}, error) {
			err := l.runSuite(taskCtx, suiteID, s, svc)
			if err != nil && l.bail {
				l.q.RemoveTasksByRunner(l.runnerID)
			}
			return nil, err
		}, l.runnerID)
	}
	l.q.Wait()
	return nil
}

// Shutdown tears down the local queue.
func (l *Local) Shutdown() { l.q.Shutdown() }

// runSuite registers s's tree against a fresh SuiteState, runs it, and
// emits the terminal SUITE frame carrying any failure. A registration-time
// panic is reported the same way: through the SUITE frame's error, not a
// separate ERROR frame, and it completes the suite.
func (l *Local) runSuite(ctx context.Context, suiteID string, s Suite, svc *sourcemap.Service) (runErr error) {
	state := guest.NewSuiteState()
	emit := guest.NewEmitService(suiteID, l.runnerID, func(buf []byte) {
		_ = l.d.ProcessData(buf)
	})

	if regErr := l.register(state, s); regErr != nil {
		l.finish(suiteID, emit, regErr)
		return regErr
	}

	rtCtx := &guest.RuntimeContext{
		Bail:         l.bail,
		Filter:       l.filter,
		TimeoutMs:    l.timeoutMs,
		Randomize:    l.randomize,
		Seed:         l.seed,
		SuiteID:      suiteID,
		RunnerID:     l.runnerID,
		RelativePath: s.Path,
	}

	runner := guest.NewRunner(ctx, state, rtCtx, emit)
	err := runner.Run()
	l.finish(suiteID, emit, err)
	return err
}

// register runs s.Factory against a fresh DSL surface, converting a
// registration-time panic (NestingError, InvalidHookType, XJetError usage —
// spec §7's first propagation policy) into a returned error instead of
// crashing the queue's goroutine.
func (l *Local) register(state *guest.SuiteState, s Suite) (regErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(*xerrors.E); ok {
				regErr = e
				return
			}
			regErr = xerrors.Errorf(xerrors.XJetErrorKind, "registering %s: %v", s.Path, rec)
		}
	}()
	if s.Factory != nil {
		s.Factory(guest.NewSuite(state))
	}
	return nil
}

func (l *Local) finish(suiteID string, emit *guest.EmitService, err error) {
	emit.EmitSuite(guest.SuitePayload{Error: marshalSuiteError(err)})
}

// marshalSuiteError renders err into the WirePayload JSON shape the
// dispatcher expects on a terminal SUITE frame's "error" field, matching
// the taxonomy's own MarshalJSON for the common case.
func marshalSuiteError(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	if e, ok := err.(*xerrors.E); ok {
		raw, mErr := e.MarshalJSON()
		if mErr == nil {
			return raw
		}
	}
	raw, mErr := json.Marshal(xerrors.Wrap(xerrors.ExecutionError, err, err.Error()).MarshalWire())
	if mErr != nil {
		return json.RawMessage(fmt.Sprintf(`{"name":"Error","message":%q,"stack":""}`, err.Error()))
	}
	return raw
}

// buildSourceMap parses s.SourceMap if present; a suite with no source map
// (the PassthroughTranspiler's default) simply resolves no stack frames.
func buildSourceMap(s Suite) *sourcemap.Service {
	if len(s.SourceMap) == 0 {
		return nil
	}
	svc, err := sourcemap.New(s.Path, s.SourceMap)
	if err != nil {
		return nil
	}
	return svc
}
