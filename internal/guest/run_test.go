package guest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.xjet.dev/xjet/internal/xerrors"
)

func TestRunnerAncestryInvariant(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	var seen [][]string
	suite.Describe("outer", func() {
		suite.Describe("inner", func() {
			node := suite.Test("leaf", func(ctx *Context) error { return nil })
			seen = append(seen, node.FullAncestry())
		})
	})
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"outer", "inner", "leaf"}, seen[0])
}

func TestRunnerOnlyModeSkipsUnselected(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	ran := map[string]bool{}
	suite.Describe("d", func() {
		suite.Test("a", func(ctx *Context) error { ran["a"] = true; return nil })
		suite.TestOnly("b", func(ctx *Context) error { ran["b"] = true; return nil })
	})

	rt := &RuntimeContext{TimeoutMs: 1000}
	runner := NewRunner(context.Background(), suite.State(), rt, NewEmitService("s", "r", nil))
	err := runner.Run()
	require.NoError(t, err)
	assert.False(t, ran["a"])
	assert.True(t, ran["b"])
}

func TestRunnerFailingTestThatPassesIsReportedAsFailure(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	suite.TestFailing("flaky", func(ctx *Context) error { return nil })

	runner := NewRunner(context.Background(), suite.State(), &RuntimeContext{TimeoutMs: 1000}, NewEmitService("s", "r", nil))
	err := runner.Run()
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.FailingError))
}

func TestRunnerTimeoutProducesTimeoutError(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	suite.Test("slow", func(ctx *Context) error {
		select {
		case <-ctx.Std().Done():
		case <-time.After(time.Second):
		}
		return nil
	}, 20)

	runner := NewRunner(context.Background(), suite.State(), &RuntimeContext{}, NewEmitService("s", "r", nil))
	runner.SetGracePeriod(5 * time.Millisecond)
	err := runner.Run()
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.TimeoutError))
}

func TestRunnerBeforeAllFailureFailsEveryTestInDescribe(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	suite.Describe("d", func() {
		suite.BeforeAll(func(ctx *Context) error { return xerrors.New(xerrors.ExecutionError, "setup failed") })
		suite.Test("a", func(ctx *Context) error { return nil })
		suite.Test("b", func(ctx *Context) error { return nil })
	})

	runner := NewRunner(context.Background(), suite.State(), &RuntimeContext{TimeoutMs: 1000}, NewEmitService("s", "r", nil))
	err := runner.Run()
	require.Error(t, err)
}

func TestRunnerSkipPropagatesTransitivelyToNestedDescribes(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	ran := false
	suite.DescribeSkip("outer", func() {
		suite.Describe("inner", func() {
			suite.Test("t", func(ctx *Context) error { ran = true; return nil })
		})
	})

	runner := NewRunner(context.Background(), suite.State(), &RuntimeContext{TimeoutMs: 1000}, NewEmitService("s", "r", nil))
	require.NoError(t, runner.Run())
	assert.False(t, ran, "a test under a nested describe of a skipped ancestor must not run")
}

func TestRunnerBeforeAllFailureCascadesToNestedDescribe(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	innerRan := false
	innerAfterAllRan := false
	suite.Describe("outer", func() {
		suite.BeforeAll(func(ctx *Context) error { return xerrors.New(xerrors.ExecutionError, "setup failed") })
		suite.Describe("inner", func() {
			suite.AfterAll(func(ctx *Context) error { innerAfterAllRan = true; return nil })
			suite.Test("t", func(ctx *Context) error { innerRan = true; return nil })
		})
	})

	runner := NewRunner(context.Background(), suite.State(), &RuntimeContext{TimeoutMs: 1000}, NewEmitService("s", "r", nil))
	err := runner.Run()
	require.Error(t, err)
	assert.False(t, innerRan, "a nested describe's test must not run once an ancestor's beforeAll failed")
	assert.False(t, innerAfterAllRan, "a nested describe's own afterAll must not run once an ancestor's beforeAll failed")
}

func TestRunnerRandomizeIsDeterministicForSameSeed(t *testing.T) {
	build := func() (*Suite, *[]string) {
		suite := NewSuite(NewSuiteState())
		var order []string
		suite.Describe("d", func() {
			for _, name := range []string{"a", "b", "c", "d", "e"} {
				name := name
				suite.Test(name, func(ctx *Context) error { order = append(order, name); return nil })
			}
		})
		return suite, &order
	}

	suiteA, orderA := build()
	runnerA := NewRunner(context.Background(), suiteA.State(), &RuntimeContext{TimeoutMs: 1000, Randomize: true, Seed: 42}, NewEmitService("s", "r", nil))
	require.NoError(t, runnerA.Run())

	suiteB, orderB := build()
	runnerB := NewRunner(context.Background(), suiteB.State(), &RuntimeContext{TimeoutMs: 1000, Randomize: true, Seed: 42}, NewEmitService("s", "r", nil))
	require.NoError(t, runnerB.Run())

	assert.Equal(t, *orderA, *orderB)
}

func TestRunnerHookOrderingOuterBeforeInner(t *testing.T) {
	suite := NewSuite(NewSuiteState())
	var order []string
	suite.Describe("outer", func() {
		suite.BeforeEach(func(ctx *Context) error { order = append(order, "outer-before"); return nil })
		suite.AfterEach(func(ctx *Context) error { order = append(order, "outer-after"); return nil })
		suite.Describe("inner", func() {
			suite.BeforeEach(func(ctx *Context) error { order = append(order, "inner-before"); return nil })
			suite.AfterEach(func(ctx *Context) error { order = append(order, "inner-after"); return nil })
			suite.Test("t", func(ctx *Context) error { order = append(order, "test"); return nil })
		})
	})

	runner := NewRunner(context.Background(), suite.State(), &RuntimeContext{TimeoutMs: 1000}, NewEmitService("s", "r", nil))
	require.NoError(t, runner.Run())
	assert.Equal(t, []string{"outer-before", "inner-before", "test", "inner-after", "outer-after"}, order)
}
