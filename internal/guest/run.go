package guest

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"go.xjet.dev/xjet/internal/xerrors"
)

// gracePeriod mirrors the teacher's safeCall: once a block's timeout fires,
// its goroutine is given a little longer to unwind before being abandoned
// (spec §4.G "Timeouts": "the goroutine is abandoned, not killed").
const gracePeriod = 2 * time.Second

// safeCall runs block on its own goroutine with a deadline, returning a
// TimeoutError if it runs past timeout; a block that ignores cancellation is
// abandoned once timeout+gracePeriod elapses. Grounded on
// the teacher's internal/planner.safeCall: a CAS token decides whether the
// caller or the background goroutine "wins", so an abandoned goroutine's
// late result is silently discarded rather than racing the next test.
func safeCall(ctx context.Context, name string, timeout, grace time.Duration, block func(ctx context.Context) error) error {
	var token uint32
	take := func() bool { return atomic.CompareAndSwapUint32(&token, 0, 1) }

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if !take() {
					return
				}
				done <- xerrors.Errorf(xerrors.ExecutionError, "%s panicked: %v", name, r)
				return
			}
		}()
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := block(callCtx)
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = xerrors.NewTimeout(timeout.Milliseconds(), name, nil)
		}
		if take() {
			done <- err
		}
	}()

	timer := time.NewTimer(timeout + grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		if take() {
			return xerrors.NewTimeout(timeout.Milliseconds(), name, nil)
		}
		return <-done
	case <-ctx.Done():
		if take() {
			return ctx.Err()
		}
		return <-done
	}
}

// Runner executes a registered SuiteState against one ambient context,
// reporting progress through an EmitService (spec §4.G "Execution order").
type Runner struct {
	std      context.Context
	state    *SuiteState
	runtime  *RuntimeContext
	emit     *EmitService
	onlyMode bool
	grace    time.Duration
	rng      *rand.Rand
}

// NewRunner builds a Runner bound to a populated SuiteState. When
// runtime.Randomize is set, tests within each describe are shuffled with a
// source seeded from runtime.Seed (spec §4.G "Execution order": "insertion
// order unless randomize — then seeded-shuffle tests within a describe"),
// so reruns with the same seed reproduce the same order.
func NewRunner(std context.Context, state *SuiteState, runtime *RuntimeContext, emit *EmitService) *Runner {
	r := &Runner{std: std, state: state, runtime: runtime, emit: emit, onlyMode: state.OnlyMode(), grace: gracePeriod}
	if runtime != nil && runtime.Randomize {
		r.rng = rand.New(rand.NewSource(runtime.Seed))
	}
	return r
}

// SetGracePeriod overrides the post-timeout cleanup window (NewRunner
// defaults to gracePeriod); tests use this to keep a timeout scenario fast.
func (r *Runner) SetGracePeriod(d time.Duration) { r.grace = d }

// Run walks the suite tree depth-first and reports the failure itself when
// exactly one test, hook, or registration-time panic failed, an
// AggregateError when several did, and nil otherwise. The
// SUITE terminal frame is the caller's responsibility (spec §4.G step 4).
func (r *Runner) Run() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(*xerrors.E); ok {
				err = e
				return
			}
			err = xerrors.Errorf(xerrors.XJetErrorKind, "registration panic: %v", rec)
		}
	}()
	var failures []*xerrors.E
	r.runDescribe(r.state.Root, &failures, false, nil)
	if len(failures) == 0 {
		return nil
	}
	if len(failures) == 1 {
		return failures[0]
	}
	return xerrors.NewAggregate("suite run failed", failures...)
}

// selected reports whether a test should execute given the suite-wide
// only-mode rule (spec §4.G "only propagation"): if any node anywhere
// declared only, every test not itself (or its ancestry) marked only is
// skipped.
func (r *Runner) selected(t *TestNode, ancestorOnly bool) bool {
	if t.Options.Skip {
		return false
	}
	if !r.onlyMode {
		return true
	}
	return ancestorOnly || t.Options.Only
}

// asE normalizes any error returned from guest code into the taxonomy's *E,
// wrapping foreign errors as ExecutionError so every frame/failure carries a
// Kind (spec §4.C: "distinct kinds, not type names").
func asE(err error) *xerrors.E {
	if err == nil {
		return nil
	}
	if e, ok := err.(*xerrors.E); ok {
		return e
	}
	return xerrors.Wrap(xerrors.ExecutionError, err, err.Error())
}

// runDescribe walks node and its subtree. parentSkipped carries the
// union of every ancestor's skip flag down the recursion (spec §3 "skip
// propagates by union from parent to child"), and inherited carries an
// ancestor beforeAll's failure so every test and nested describe beneath it
// emits FAILURE referencing that same error instead of running normally
// (spec §4.G step 1: "every test and nested describe then emits FAILURE
// referencing these errors").
func (r *Runner) runDescribe(node *DescribeNode, failures *[]*xerrors.E, parentSkipped bool, inherited *xerrors.E) {
	ancestorOnly := nodeIsOnly(node)
	skipped := parentSkipped || node.Options.Skip

	if !skipped && node.Description != "" {
		r.emit.EmitDescribe(TestPayload{Action: ActionStart, Description: node.Description, Ancestry: node.Ancestry})
	}

	hookErr := inherited
	if !skipped && inherited == nil {
		hookErr = asE(r.runHooks(node.Hooks.BeforeAll, node, "beforeAll"))
		if hookErr != nil {
			*failures = append(*failures, hookErr)
		}
	}

	for _, t := range r.orderedTests(node) {
		switch {
		case skipped || t.Options.Skip:
			r.emit.EmitTest(TestPayload{Action: ActionSkip, Description: t.Description, Ancestry: t.FullAncestry()})
		case t.Options.Todo:
			r.emit.EmitTest(TestPayload{Action: ActionTodo, Description: t.Description, Ancestry: t.FullAncestry()})
		case !r.selected(t, ancestorOnly):
			r.emit.EmitTest(TestPayload{Action: ActionSkip, Description: t.Description, Ancestry: t.FullAncestry()})
		case hookErr != nil:
			r.emitTestResult(t, hookErr, 0, failures)
		default:
			r.runTest(t, failures)
		}
	}

	for _, child := range node.Children {
		r.runDescribe(child, failures, skipped, hookErr)
	}

	if !skipped && inherited == nil {
		if err := asE(r.runHooks(node.Hooks.AfterAll, node, "afterAll")); err != nil {
			*failures = append(*failures, err)
		}
	}

	if !skipped && node.Description != "" {
		action := ActionSuccess
		if hookErr != nil {
			action = ActionFailure
		}
		r.emit.EmitDescribe(TestPayload{Action: action, Description: node.Description, Ancestry: node.Ancestry})
	}
}

// orderedTests returns node.Tests in the order they should execute: plain
// insertion order, or a seeded shuffle local to this describe when
// randomize is enabled. Nested describes are not reordered relative to
// their declaring describe's own test list; only the tests slice within
// each describe is shuffled.
func (r *Runner) orderedTests(node *DescribeNode) []*TestNode {
	if r.rng == nil || len(node.Tests) < 2 {
		return node.Tests
	}
	tests := append([]*TestNode(nil), node.Tests...)
	r.rng.Shuffle(len(tests), func(i, j int) { tests[i], tests[j] = tests[j], tests[i] })
	return tests
}

func nodeIsOnly(node *DescribeNode) bool {
	for n := node; n != nil; n = n.Parent {
		if n.Options.Only {
			return true
		}
	}
	return false
}

func (r *Runner) runHooks(hooks []*HookNode, node *DescribeNode, name string) error {
	for _, h := range hooks {
		ctx := newContext(r.std, r.runtime, r.emit, node.Ancestry).WithAncestry(append(append([]string(nil), node.Ancestry...), name))
		timeout := r.timeoutFor(h.TimeoutMs)
		if err := safeCall(r.std, name, timeout, r.grace, func(callCtx context.Context) error {
			ctx.std = callCtx
			return h.Block(ctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// timeoutFor resolves a test or hook timeout: the node's own timeout when
// set, otherwise the runtime's configured timeout via DefaultTimeout.
func (r *Runner) timeoutFor(nodeMs int64) time.Duration {
	if nodeMs > 0 {
		return time.Duration(nodeMs) * time.Millisecond
	}
	var runtimeMs int64
	if r.runtime != nil {
		runtimeMs = r.runtime.TimeoutMs
	}
	return time.Duration(DefaultTimeout(runtimeMs)) * time.Millisecond
}

func (r *Runner) beforeEachChain(node *DescribeNode) []*HookNode {
	var chain []*DescribeNode
	for n := node; n != nil; n = n.Parent {
		chain = append([]*DescribeNode{n}, chain...)
	}
	var hooks []*HookNode
	for _, n := range chain {
		hooks = append(hooks, n.Hooks.BeforeEach...)
	}
	return hooks
}

func (r *Runner) afterEachChain(node *DescribeNode) []*HookNode {
	var hooks []*HookNode
	for n := node; n != nil; n = n.Parent {
		hooks = append(hooks, n.Hooks.AfterEach...)
	}
	return hooks
}

func (r *Runner) runTest(t *TestNode, failures *[]*xerrors.E) {
	r.state.setRunningTest(t)
	defer r.state.setRunningTest(nil)

	start := time.Now()
	r.emit.EmitTest(TestPayload{Action: ActionStart, Description: t.Description, Ancestry: t.FullAncestry(), Location: &t.Location})

	var runErr error
	if err := r.runHooks(r.beforeEachChain(t.Parent), t.Parent, "beforeEach"); err != nil {
		runErr = err
	} else {
		timeout := r.timeoutFor(t.TimeoutMs)
		ctx := newContext(r.std, r.runtime, r.emit, t.FullAncestry())
		runErr = safeCall(r.std, t.Description, timeout, r.grace, func(callCtx context.Context) error {
			ctx.std = callCtx
			return t.Block(ctx)
		})
	}

	if err := r.runHooks(r.afterEachChain(t.Parent), t.Parent, "afterEach"); err != nil && runErr == nil {
		runErr = err
	}

	elapsed := time.Since(start).Milliseconds()
	r.emitTestResult(t, asE(runErr), elapsed, failures)
}

func (r *Runner) emitTestResult(t *TestNode, runErr *xerrors.E, elapsedMs int64, failures *[]*xerrors.E) {
	duration := elapsedMs
	if t.Options.Failing {
		if runErr == nil {
			runErr = xerrors.NewFailing(t.Description)
		} else {
			runErr = nil
		}
	}
	if runErr != nil {
		*failures = append(*failures, runErr)
		raw, err := runErr.MarshalJSON()
		if err != nil {
			raw = []byte(`{}`)
		}
		r.emit.EmitTest(TestPayload{
			Action:      ActionFailure,
			Description: t.Description,
			Ancestry:    t.FullAncestry(),
			DurationMs:  &duration,
			Errors:      raw,
			Location:    &t.Location,
		})
		return
	}
	r.emit.EmitTest(TestPayload{
		Action:      ActionSuccess,
		Description: t.Description,
		Ancestry:    t.FullAncestry(),
		DurationMs:  &duration,
		Location:    &t.Location,
	})
}
