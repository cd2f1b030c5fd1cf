// Package target implements xJet's two execution backends (spec §4.E): a
// Local target that runs each suite in-process (standing in for "an
// isolated evaluation context", since Go has no embeddable sandbox VM to
// speak of), and an External target that dispatches suites to
// user-supplied remote Runners over a pluggable transport. Both satisfy
// the common Target contract and share the bounded-concurrency
// internal/queue for admission control, grounded on the teacher's
// internal/planner.safeCall goroutine-isolation pattern (reused inside
// internal/guest/run.go, which Local drives directly) and its worker-pool
// style bounded dispatch for remote execution.
package target

import (
	"context"

	"go.xjet.dev/xjet/internal/guest"
)

// Suite is a discovered, transpiled spec file ready for a Target. Factory
// is the Go-native stand-in for "bundled code": rather than evaluating an
// arbitrary bundle inside a sandbox, a Target calls Factory against a
// fresh *guest.Suite to register that file's describe/test/hook tree
// (spec §4.H step 2's "{code, sourceMap}", realized here as
// "{factory, sourceMap}" since there is no JS VM to hand raw code to).
type Suite struct {
	Path      string
	Factory   func(*guest.Suite)
	SourceMap []byte
}

// Target is the common contract both Local and External satisfy (spec
// §4.E).
type Target interface {
	// InitTarget prepares the target for dispatch: generating runner ids,
	// registering them with the dispatcher, and (for External) opening
	// every runner's transport.
	InitTarget(ctx context.Context) error
	// ExecuteSuites runs every suite and returns once all per-suite
	// completions have been observed, whether by a terminal SUITE frame or
	// a bail-triggered cancellation. It does not return an error for
	// individual suite failures; those are reported through the
	// dispatcher's Reporters.
	ExecuteSuites(ctx context.Context, suites []Suite) error
	// Shutdown releases the target's resources (queue, runner transports).
	Shutdown()
}
