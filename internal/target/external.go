package target

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.xjet.dev/xjet/internal/dispatcher"
	"go.xjet.dev/xjet/internal/guest"
	"go.xjet.dev/xjet/internal/queue"
	"go.xjet.dev/xjet/internal/wire"
	"go.xjet.dev/xjet/internal/xerrors"
)

// Runner is a pluggable remote execution backend (spec §6 "Host <-> Runner
// transport"): Connect is called once at InitTarget and must arrange for
// receive to be invoked, in order, with the bytes the runner's far side
// emits; chunks need not align with frame boundaries, since InitTarget's
// receive callback reassembles them with a wire.Assembler. Dispatch sends
// bytes to the runner; Disconnect closes the transport. SSHRunner and TCPRunner are the two concrete transports
// xJet ships.
type Runner interface {
	Name() string
	Connect(ctx context.Context, receive func([]byte)) error
	Dispatch(ctx context.Context, payload []byte) error
	Disconnect(ctx context.Context) error
}

// ActionPayload is the JSON schema of an ACTION frame's payload: rather
// than prepending bundle code to the transport message (the original's
// approach, moot here since a Go runner binary already carries its
// compiled suites — see DESIGN.md), the host tells a runner which
// registered suite path to run and under which runtime context.
type ActionPayload struct {
	SuitePath string               `json:"suitePath"`
	Runtime   guest.RuntimeContext `json:"runtime"`
}

// External is the remote Target (spec §4.E.2). It fans every (runner ×
// suite) pair out through the bounded queue, cancels a runner's remaining
// queued suites on its first failure when bail is set, and disconnects
// every runner in Shutdown.
type External struct {
	d       *dispatcher.Dispatcher
	q       *queue.Queue
	runners []Runner

	bail      bool
	filter    []string
	timeoutMs int64
	randomize bool
	seed      int64

	runnerIDs map[string]string // Runner.Name() -> assigned runnerId

	mu   sync.Mutex
	done map[string]chan error // suiteId -> completion channel, populated by onComplete
}

// NewExternal builds an External target dispatching to runners, bounded to
// parallelism concurrent in-flight suites across all runners.
func NewExternal(d *dispatcher.Dispatcher, parallelism int, runners []Runner, bail bool, filter []string, timeoutMs int64, randomize bool, seed int64) *External {
	return &External{
		d:         d,
		q:         queue.New(parallelism),
		runners:   runners,
		bail:      bail,
		filter:    filter,
		timeoutMs: timeoutMs,
		randomize: randomize,
		seed:      seed,
		runnerIDs: make(map[string]string, len(runners)),
		done:      make(map[string]chan error),
	}
}

// InitTarget assigns every runner a runnerId, registers it with the
// dispatcher, opens its transport, and starts the queue.
func (e *External) InitTarget(ctx context.Context) error {
	e.d.SetOnComplete(e.onComplete)
	for _, r := range e.runners {
		id := wire.NewID()
		e.runnerIDs[r.Name()] = id
		e.d.SetRunner(id, r.Name())

		asm := &wire.Assembler{}
		if err := r.Connect(ctx, func(chunk []byte) {
			frames, feedErr := asm.Feed(chunk)
			if feedErr != nil {
				// A malformed frame from this runner is runner-fatal but must
				// not take down the others (spec §4.A "surfaced as a host-side
				// fatal for that runner").
				return
			}
			for _, f := range frames {
				_ = e.d.ProcessFrame(f)
			}
		}); err != nil {
			return fmt.Errorf("connect runner %s: %w", r.Name(), err)
		}
	}
	e.q.Start()
	return nil
}

// onComplete is installed as the Dispatcher's single completion hook and
// relays each terminal SUITE/ERROR frame to the waiting ExecuteSuites task
// for that suiteId.
func (e *External) onComplete(suiteID string, err error) {
	e.mu.Lock()
	ch, ok := e.done[suiteID]
	if ok {
		delete(e.done, suiteID)
	}
	e.mu.Unlock()
	if ok {
		ch <- err
	}
}

// ExecuteSuites dispatches an ACTION frame for every (runner × suite)
// pair and waits for every suite's terminal frame (or bail-triggered
// cancellation) before returning.
func (e *External) ExecuteSuites(ctx context.Context, suites []Suite) error {
	for _, r := range e.runners {
		r := r
		runnerID := e.runnerIDs[r.Name()]
		for _, s := range suites {
			s := s
			suiteID := wire.NewID()
			svc := buildSourceMap(s)
			e.d.SetSuiteSource(suiteID, svc)
			e.d.SetSuiteRunner(suiteID, runnerID)

			doneCh := make(chan error, 1)
			e.mu.Lock()
			e.done[suiteID] = doneCh
			e.mu.Unlock()

			rtCtx := guest.RuntimeContext{
				Bail:         e.bail,
				Filter:       e.filter,
				TimeoutMs:    e.timeoutMs,
				Randomize:    e.randomize,
				Seed:         e.seed,
				SuiteID:      suiteID,
				RunnerID:     runnerID,
				RelativePath: s.Path,
			}
			payload, err := json.Marshal(ActionPayload{SuitePath: s.Path, Runtime: rtCtx})
			if err != nil {
				return fmt.Errorf("marshal action for %s: %w", s.Path, err)
			}
			buf, err := wire.Encode(wire.Frame{Kind: wire.KindAction, SuiteID: suiteID, RunnerID: runnerID, Payload: payload})
			if err != nil {
				return fmt.Errorf("encode action for %s: %w", s.Path, err)
			}

			e.q.Enqueue(func(taskCtx context.Context) (interface{}, error) {
				return nil, e.runOne(taskCtx, r, runnerID, suiteID, buf, doneCh)
			}, runnerID)
		}
	}
	e.q.Wait()
	return nil
}

// runOne dispatches buf to r and blocks until the suite's terminal frame
// arrives (or the task context is canceled), cancelling the rest of r's
// queued suites on failure when bail is set (spec §5 "bail=true ...
// per-runner cancel").
func (e *External) runOne(taskCtx context.Context, r Runner, runnerID, suiteID string, buf []byte, doneCh chan error) error {
	if err := r.Dispatch(taskCtx, buf); err != nil {
		err = xerrors.Wrap(xerrors.WireProtocolErrorKind, err, fmt.Sprintf("dispatch to runner %s", r.Name()))
		e.d.CompleteSuite(suiteID, err)
		if e.bail {
			e.q.RemoveTasksByRunner(runnerID)
		}
		return err
	}

	var err error
	select {
	case err = <-doneCh:
	case <-taskCtx.Done():
		err = taskCtx.Err()
	}
	if err != nil && e.bail {
		e.q.RemoveTasksByRunner(runnerID)
	}
	return err
}

// Shutdown tears down the queue and disconnects every runner.
func (e *External) Shutdown() {
	e.q.Shutdown()
	ctx := context.Background()
	for _, r := range e.runners {
		_ = r.Disconnect(ctx)
	}
}
