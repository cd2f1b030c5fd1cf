package target

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.xjet.dev/xjet/internal/dispatcher"
	"go.xjet.dev/xjet/internal/guest"
)

type recordingReporter struct {
	completions []string
	failed      []bool
}

func (r *recordingReporter) OnLog(string, string, guest.LogPayload)       {}
func (r *recordingReporter) OnTest(string, string, guest.TestPayload)     {}
func (r *recordingReporter) OnDescribe(string, string, guest.TestPayload) {}
func (r *recordingReporter) OnStatus(string, string, string)              {}
func (r *recordingReporter) OnSuiteComplete(suiteID, runnerID string, err error) {
	r.completions = append(r.completions, suiteID)
	r.failed = append(r.failed, err != nil)
}

func TestLocalExecuteSuitesRunsEveryFactory(t *testing.T) {
	d := dispatcher.New()
	rep := &recordingReporter{}
	d.AddReporter(rep)

	lt := NewLocal(d, 2, false, nil, 1000, false, 0)
	require.NoError(t, lt.InitTarget(context.Background()))
	defer lt.Shutdown()

	ran := map[string]bool{}
	suites := []Suite{
		{Path: "a.test.ts", Factory: func(s *guest.Suite) {
			s.Test("pass", func(ctx *guest.Context) error { ran["a"] = true; return nil })
		}},
		{Path: "b.test.ts", Factory: func(s *guest.Suite) {
			s.Test("fail", func(ctx *guest.Context) error { ran["b"] = true; return assert.AnError })
		}},
	}

	require.NoError(t, lt.ExecuteSuites(context.Background(), suites))
	assert.True(t, ran["a"])
	assert.True(t, ran["b"])
	assert.Len(t, rep.completions, 2)
	assert.Contains(t, rep.failed, true)
	assert.Contains(t, rep.failed, false)
}

// TestLocalBailCancelsQueuedSiblingSuite exercises the exact sequence
// ExecuteSuites's task closure runs (runSuite then, on failure with bail
// set, RemoveTasksByRunner) directly against a manually controlled queue,
// since driving it through ExecuteSuites's own concurrent dispatch cannot
// deterministically guarantee which of two simultaneously enqueued tasks
// a free semaphore slot is granted to first.
func TestLocalBailCancelsQueuedSiblingSuite(t *testing.T) {
	d := dispatcher.New()
	rep := &recordingReporter{}
	d.AddReporter(rep)

	lt := NewLocal(d, 1, true, nil, 1000, false, 0)
	require.NoError(t, lt.InitTarget(context.Background()))
	defer lt.Shutdown()

	// Occupy the only concurrency slot under a different runnerID so the
	// sibling enqueued below is guaranteed to remain pending.
	occupy := make(chan struct{})
	lt.q.Enqueue(func(ctx context.Context) (interface{}, error) {
		<-occupy
		return nil, nil
	}, "occupant")
	require.Eventually(t, func() bool { return lt.q.Running() == 1 }, time.Second, time.Millisecond)

	started := false
	sibling := lt.q.Enqueue(func(ctx context.Context) (interface{}, error) {
		started = true
		return nil, nil
	}, lt.runnerID)
	require.Equal(t, 1, lt.q.Size())

	suite := Suite{Path: "first.test.ts", Factory: func(s *guest.Suite) {
		s.Test("fail", func(ctx *guest.Context) error { return assert.AnError })
	}}
	const suiteID = "manual-suite"
	lt.d.SetSuiteSource(suiteID, nil)
	lt.d.SetSuiteRunner(suiteID, lt.runnerID)

	err := lt.runSuite(context.Background(), suiteID, suite, nil)
	require.Error(t, err)
	lt.q.RemoveTasksByRunner(lt.runnerID)

	assert.False(t, started, "sibling must never start once bail cancels its runner's queue")
	require.Len(t, rep.completions, 1)
	assert.True(t, rep.failed[0])

	close(occupy)
	select {
	case <-sibling:
		t.Fatal("abandoned sibling task must never resolve its result channel")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestLocalRegistrationErrorIsReportedAsSuiteFailure(t *testing.T) {
	d := dispatcher.New()
	rep := &recordingReporter{}
	d.AddReporter(rep)

	lt := NewLocal(d, 1, false, nil, 1000, false, 0)
	require.NoError(t, lt.InitTarget(context.Background()))
	defer lt.Shutdown()

	// Attempting to register a new test from inside a running test's block
	// is forbidden (NestingError) and must surface as a terminal suite
	// failure rather than crash the queue's goroutine.
	suites := []Suite{
		{Path: "nested.test.ts", Factory: func(s *guest.Suite) {
			s.Test("registers mid-run", func(ctx *guest.Context) error {
				s.Test("too late", func(*guest.Context) error { return nil })
				return nil
			})
		}},
	}

	require.NoError(t, lt.ExecuteSuites(context.Background(), suites))
	require.Len(t, rep.completions, 1)
	assert.True(t, rep.failed[0])
}
