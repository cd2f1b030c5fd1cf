package guest

// Suite is the public DSL surface bound to one SuiteState — the guest
// globals `describe`, `test`/`it`, and the hook registrars (spec §6
// "Guest globals"). Go has no proxy objects, so rather than emulating
// `describe.only.skip` dot-chaining (spec §9 design note), xJet exposes
// the only/skip/todo/failing/each variants as plain named methods; this is
// the Go-native resolution of that design note (see DESIGN.md).
type Suite struct {
	state *SuiteState
}

// NewSuite wraps a fresh SuiteState in the DSL surface injected into guest
// code.
func NewSuite(state *SuiteState) *Suite {
	return &Suite{state: state}
}

// State returns the underlying SuiteState, for the execution engine.
func (s *Suite) State() *SuiteState { return s.state }

func (s *Suite) mustDescribe(description string, opts Options, fn func()) {
	if _, err := s.state.Describe(description, opts, fn); err != nil {
		panic(err)
	}
}

// Describe registers a plain describe block.
func (s *Suite) Describe(description string, fn func()) { s.mustDescribe(description, Options{}, fn) }

// DescribeOnly registers a describe block with `only` set.
func (s *Suite) DescribeOnly(description string, fn func()) {
	s.mustDescribe(description, Options{Only: true}, fn)
}

// DescribeSkip registers a describe block with `skip` set.
func (s *Suite) DescribeSkip(description string, fn func()) {
	s.mustDescribe(description, Options{Skip: true}, fn)
}

// DescribeEach expands into one Describe call per row, with the name
// template resolved via Printf (spec §4.G "describe.each(table)").
func (s *Suite) DescribeEach(rows []EachRow) func(nameTemplate string, fn func(EachRow)) {
	return func(nameTemplate string, fn func(EachRow)) {
		for i, row := range rows {
			row := row
			name := Printf(nameTemplate, row.Params(), i)
			s.mustDescribe(name, Options{}, func() { fn(row) })
		}
	}
}

func timeoutArg(timeoutMs []int64) int64 {
	if len(timeoutMs) > 0 {
		return timeoutMs[0]
	}
	return 0
}

func (s *Suite) mustTest(description string, block Block, opts Options, loc Location, timeoutMs ...int64) *TestNode {
	node, err := s.state.Test(description, block, opts, timeoutArg(timeoutMs), loc)
	if err != nil {
		panic(err)
	}
	return node
}

// Test registers a plain test.
func (s *Suite) Test(description string, block Block, timeoutMs ...int64) *TestNode {
	return s.mustTest(description, block, Options{}, Location{}, timeoutMs...)
}

// TestOnly registers a test with `only` set.
func (s *Suite) TestOnly(description string, block Block, timeoutMs ...int64) *TestNode {
	return s.mustTest(description, block, Options{Only: true}, Location{}, timeoutMs...)
}

// TestSkip registers a test with `skip` set.
func (s *Suite) TestSkip(description string, block Block, timeoutMs ...int64) *TestNode {
	return s.mustTest(description, block, Options{Skip: true}, Location{}, timeoutMs...)
}

// TestTodo registers a todo test; block must be nil.
func (s *Suite) TestTodo(description string) *TestNode {
	return s.mustTest(description, nil, Options{Todo: true}, Location{})
}

// TestFailing registers a test expected to fail (spec Scenario C).
func (s *Suite) TestFailing(description string, block Block, timeoutMs ...int64) *TestNode {
	return s.mustTest(description, block, Options{Failing: true}, Location{}, timeoutMs...)
}

// TestEach expands into one Test call per row (spec Scenario E).
func (s *Suite) TestEach(rows []EachRow) func(nameTemplate string, fn func(EachRow) error) {
	return func(nameTemplate string, fn func(EachRow) error) {
		for i, row := range rows {
			row := row
			name := Printf(nameTemplate, row.Params(), i)
			s.mustTest(name, func(ctx *Context) error { return fn(row) }, Options{}, Location{})
		}
	}
}

func (s *Suite) mustHook(typ HookType, block Block, timeoutMs int64) {
	if _, err := s.state.Hook(typ, block, timeoutMs, Location{}); err != nil {
		panic(err)
	}
}

// BeforeAll registers a beforeAll hook on the current describe.
func (s *Suite) BeforeAll(block Block, timeoutMs ...int64) {
	s.mustHook(BeforeAll, block, timeoutArg(timeoutMs))
}

// AfterAll registers an afterAll hook on the current describe.
func (s *Suite) AfterAll(block Block, timeoutMs ...int64) {
	s.mustHook(AfterAll, block, timeoutArg(timeoutMs))
}

// BeforeEach registers a beforeEach hook on the current describe.
func (s *Suite) BeforeEach(block Block, timeoutMs ...int64) {
	s.mustHook(BeforeEach, block, timeoutArg(timeoutMs))
}

// AfterEach registers an afterEach hook on the current describe.
func (s *Suite) AfterEach(block Block, timeoutMs ...int64) {
	s.mustHook(AfterEach, block, timeoutArg(timeoutMs))
}

// EachRow is one row of a describe.each/test.each table: either a tuple of
// positional values, or a single named-field object (spec's "object rows"
// used by "$dotted.path" printf references).
type EachRow struct {
	Tuple  []interface{}
	Object interface{}
}

// Row builds a positional (tuple) EachRow.
func Row(vals ...interface{}) EachRow { return EachRow{Tuple: vals} }

// ObjectRow builds a named-field EachRow, enabling "$field" printf refs.
func ObjectRow(v interface{}) EachRow { return EachRow{Object: v} }

// Params returns the row's values as the positional parameter list Printf
// consumes.
func (r EachRow) Params() []interface{} {
	if r.Tuple != nil {
		return r.Tuple
	}
	return []interface{}{r.Object}
}
