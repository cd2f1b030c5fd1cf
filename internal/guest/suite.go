// Package guest implements the preamble injected into every suite bundle:
// the describe/test/hook registration DSL, the SuiteState singleton,
// execution ordering, log interception, and the wire dispatch path —
// spec §4.G. It is grounded on the teacher's internal/testing package
// (registry.go, test_instance.go, state.go) for the overall shape of an
// entity graph and its execution, adapted from tast's flat,
// dependency-annotated test registry to xJet's nested describe/test/hook
// tree with skip/only propagation.
package guest

import (
	"fmt"
	"sync"

	"go.xjet.dev/xjet/internal/xerrors"
)

// HookType is one of the four closed hook kinds (spec §3: "Hook types are
// closed").
type HookType int

const (
	BeforeAll HookType = iota
	AfterAll
	BeforeEach
	AfterEach
)

func (h HookType) String() string {
	switch h {
	case BeforeAll:
		return "beforeAll"
	case AfterAll:
		return "afterAll"
	case BeforeEach:
		return "beforeEach"
	case AfterEach:
		return "afterEach"
	default:
		return "unknown"
	}
}

// Location is a (line, column) source location of a registration call.
type Location struct {
	Line   int
	Column int
	Source string
}

// Block is the callable body of a test or hook. ctx carries the guest's
// logging sink and is canceled on timeout by the execution engine (§4.G
// "Timeouts").
type Block func(ctx *Context) error

// HookNode is a single registered hook.
type HookNode struct {
	Type      HookType
	Block     Block
	TimeoutMs int64
	Location  Location
}

// Options captures skip/only/todo/failing declared on a describe or test.
type Options struct {
	Skip    bool
	Only    bool
	Todo    bool
	Failing bool
}

// DescribeNode is one node of the suite tree (spec §3).
type DescribeNode struct {
	ID          string
	Description string
	Ancestry    []string
	Options     Options

	Hooks struct {
		BeforeAll  []*HookNode
		AfterAll   []*HookNode
		BeforeEach []*HookNode
		AfterEach  []*HookNode
	}

	Parent    *DescribeNode
	Children  []*DescribeNode
	Tests     []*TestNode
}

// TestNode is one registered test (spec §3).
type TestNode struct {
	ID          string
	Description string
	Ancestry    []string
	Options     Options
	Block       Block
	TimeoutMs   int64
	Location    Location
	Parent      *DescribeNode
}

// FullAncestry returns the node's declaration path including its own
// description, used for report grouping.
func (t *TestNode) FullAncestry() []string {
	return append(append([]string(nil), t.Ancestry...), t.Description)
}

// SuiteState is the process-singleton execution graph for one guest
// evaluation (spec §3 "Execution state"). A fresh SuiteState must be
// created before each bundle executes (spec §5 "Shared resources").
type SuiteState struct {
	mu sync.Mutex

	Root        *DescribeNode
	cursor      *DescribeNode
	runningTest *TestNode
	onlyMode    bool

	idSeq int
}

// NewSuiteState creates the implicit top-level describe and returns a fresh
// SuiteState.
func NewSuiteState() *SuiteState {
	root := &DescribeNode{ID: "root", Description: ""}
	return &SuiteState{Root: root, cursor: root}
}

func (s *SuiteState) nextID(prefix string) string {
	s.idSeq++
	return fmt.Sprintf("%s-%d", prefix, s.idSeq)
}

// OnlyMode reports whether any node in the tree has declared `only`.
func (s *SuiteState) OnlyMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlyMode
}

// RunningTest returns the currently-executing test, or nil.
func (s *SuiteState) RunningTest() *TestNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningTest
}

func (s *SuiteState) setRunningTest(t *TestNode) {
	s.mu.Lock()
	s.runningTest = t
	s.mu.Unlock()
}

// checkNotRunning enforces spec §3: "Registration of describes/tests/hooks
// is forbidden from inside a running test's block."
func (s *SuiteState) checkNotRunning(what string) error {
	if s.RunningTest() != nil {
		return xerrors.NewNesting(what)
	}
	return nil
}

// Describe registers a new describe node under the current cursor, runs fn
// synchronously for its registration side effects, then restores the
// cursor (spec §4.G: "pushes a new child node ... sets cursor to child;
// runs fn synchronously; pops cursor").
func (s *SuiteState) Describe(description string, opts Options, fn func()) (*DescribeNode, error) {
	if err := s.checkNotRunning("describe"); err != nil {
		return nil, err
	}
	if opts.Only && opts.Skip {
		return nil, xerrors.NewXJetError(fmt.Sprintf("describe %q: only and skip cannot be combined", description))
	}

	s.mu.Lock()
	parent := s.cursor
	node := &DescribeNode{
		ID:          s.nextID("d"),
		Description: description,
		Ancestry:    append(append([]string(nil), parent.Ancestry...), parent.Description),
		Options:     opts,
		Parent:      parent,
	}
	if parent.Description == "" {
		node.Ancestry = append([]string(nil), parent.Ancestry...)
	}
	parent.Children = append(parent.Children, node)
	if opts.Only {
		s.onlyMode = true
	}
	s.cursor = node
	s.mu.Unlock()

	func() {
		defer func() {
			s.mu.Lock()
			s.cursor = parent
			s.mu.Unlock()
		}()
		if fn != nil {
			fn()
		}
	}()

	return node, nil
}

// Test registers a new test under the current cursor.
func (s *SuiteState) Test(description string, block Block, opts Options, timeoutMs int64, loc Location) (*TestNode, error) {
	if err := s.checkNotRunning("test"); err != nil {
		return nil, err
	}
	if opts.Only && opts.Skip {
		return nil, xerrors.NewXJetError(fmt.Sprintf("test %q: only and skip cannot be combined", description))
	}
	if opts.Todo && block != nil {
		return nil, xerrors.NewXJetError(fmt.Sprintf("test %q: todo tests cannot declare a block body", description))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.cursor
	node := &TestNode{
		ID:          s.nextID("t"),
		Description: description,
		Ancestry:    append(append([]string(nil), parent.Ancestry...), parent.Description),
		Options:     opts,
		Block:       block,
		TimeoutMs:   timeoutMs,
		Location:    loc,
		Parent:      parent,
	}
	if parent.Description == "" {
		node.Ancestry = append([]string(nil), parent.Ancestry...)
	}
	parent.Tests = append(parent.Tests, node)
	if opts.Only {
		s.onlyMode = true
	}
	return node, nil
}

// Hook registers a hook of the given type on the current describe.
func (s *SuiteState) Hook(typ HookType, block Block, timeoutMs int64, loc Location) (*HookNode, error) {
	if typ != BeforeAll && typ != AfterAll && typ != BeforeEach && typ != AfterEach {
		return nil, xerrors.NewInvalidHookType(fmt.Sprintf("%d", typ))
	}
	if err := s.checkNotRunning(typ.String()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := &HookNode{Type: typ, Block: block, TimeoutMs: timeoutMs, Location: loc}
	switch typ {
	case BeforeAll:
		s.cursor.Hooks.BeforeAll = append(s.cursor.Hooks.BeforeAll, h)
	case AfterAll:
		s.cursor.Hooks.AfterAll = append(s.cursor.Hooks.AfterAll, h)
	case BeforeEach:
		s.cursor.Hooks.BeforeEach = append(s.cursor.Hooks.BeforeEach, h)
	case AfterEach:
		s.cursor.Hooks.AfterEach = append(s.cursor.Hooks.AfterEach, h)
	}
	return h, nil
}

const defaultTimeoutMs = 5000

// DefaultTimeout returns the runtime's configured timeout, falling back to
// the spec's documented 5000ms default.
func DefaultTimeout(runtimeTimeoutMs int64) int64 {
	if runtimeTimeoutMs > 0 {
		return runtimeTimeoutMs
	}
	return defaultTimeoutMs
}
