// Package mock implements xJet's mock/spy subsystem (spec §4.I): function
// call recording with a LIFO implementation stack, and spyOn-style
// replacement of a struct's function-typed field with a recorded mock that
// falls back to the original implementation. JS's spyOn redefines a
// property descriptor; Go has no equivalent runtime property system, so
// SpyOn instead targets an addressable func-typed struct field via
// reflection and restores the exact original closure on MockRestore.
package mock

import (
	"fmt"
	"reflect"
	"sync"

	"go.xjet.dev/xjet/internal/xerrors"
)

// Call is one recorded invocation (spec §4.I "mock.calls"/"mock.results").
type Call struct {
	Args    []interface{}
	ThisArg interface{}
	Result  []interface{}
	Err     error
}

// Impl is the generic shape every recorded implementation takes. Go has no
// variadic-return-type polymorphism, so both the default implementation and
// every mockImplementation[Once] closure share this signature.
type Impl func(args ...interface{}) ([]interface{}, error)

// Mock is a single recorded, replaceable function.
type Mock struct {
	mu          sync.Mutex
	calls       []Call
	defaultImpl Impl
	impl        Impl
	implOnce    []Impl
	restore     func()
}

// Fn builds a standalone mock wrapping impl (nil means "return nothing by
// default"), per spec.md §4.I `fn(impl?)`.
func Fn(impl Impl) *Mock {
	m := &Mock{defaultImpl: impl}
	register(m)
	return m
}

// Calls returns the recorded call list.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Call invokes the mock's currently active implementation, recording args,
// thisArg, and the outcome. A freshly-popped mockImplementationOnce takes
// priority over the persistent mockImplementation, which takes priority
// over the default implementation (spec §4.I "implementation stack").
func (m *Mock) Call(thisArg interface{}, args ...interface{}) ([]interface{}, error) {
	m.mu.Lock()
	var active Impl
	if n := len(m.implOnce); n > 0 {
		active = m.implOnce[n-1]
		m.implOnce = m.implOnce[:n-1]
	} else if m.impl != nil {
		active = m.impl
	} else {
		active = m.defaultImpl
	}
	m.mu.Unlock()

	var results []interface{}
	var err error
	if active != nil {
		results, err = active(args...)
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Args: args, ThisArg: thisArg, Result: results, Err: err})
	m.mu.Unlock()
	return results, err
}

// MockImplementation installs a persistent implementation.
func (m *Mock) MockImplementation(fn Impl) *Mock {
	m.mu.Lock()
	m.impl = fn
	m.mu.Unlock()
	return m
}

// MockImplementationOnce pushes a one-shot implementation onto the LIFO
// stack, consumed by the next Call.
func (m *Mock) MockImplementationOnce(fn Impl) *Mock {
	m.mu.Lock()
	m.implOnce = append(m.implOnce, fn)
	m.mu.Unlock()
	return m
}

func constImpl(vals []interface{}, err error) Impl {
	return func(args ...interface{}) ([]interface{}, error) { return vals, err }
}

// MockReturnValue installs a persistent implementation that always returns
// vals with no error.
func (m *Mock) MockReturnValue(vals ...interface{}) *Mock {
	return m.MockImplementation(constImpl(vals, nil))
}

// MockReturnValueOnce pushes a one-shot fixed return value.
func (m *Mock) MockReturnValueOnce(vals ...interface{}) *Mock {
	return m.MockImplementationOnce(constImpl(vals, nil))
}

// MockResolvedValue is MockReturnValue's async-block counterpart: Go
// collapses resolve/reject into (value, error), so this is identical in
// effect, kept as a distinct name to mirror the guest-facing API.
func (m *Mock) MockResolvedValue(val interface{}) *Mock {
	return m.MockImplementation(constImpl([]interface{}{val}, nil))
}

// MockResolvedValueOnce is the Once variant of MockResolvedValue.
func (m *Mock) MockResolvedValueOnce(val interface{}) *Mock {
	return m.MockImplementationOnce(constImpl([]interface{}{val}, nil))
}

// MockRejectedValue installs a persistent implementation that always
// returns err.
func (m *Mock) MockRejectedValue(err error) *Mock {
	return m.MockImplementation(constImpl(nil, err))
}

// MockRejectedValueOnce is the Once variant of MockRejectedValue.
func (m *Mock) MockRejectedValueOnce(err error) *Mock {
	return m.MockImplementationOnce(constImpl(nil, err))
}

// MockClear discards recorded calls without touching the implementation
// stack.
func (m *Mock) MockClear() *Mock {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
	return m
}

// MockReset discards recorded calls and every installed implementation,
// reverting to the constructor's default.
func (m *Mock) MockReset() *Mock {
	m.mu.Lock()
	m.calls = nil
	m.impl = nil
	m.implOnce = nil
	m.mu.Unlock()
	return m
}

// MockRestore reverts a spyOn'd field to its original value (a no-op for a
// plain Fn mock, which has no field to restore).
func (m *Mock) MockRestore() {
	m.mu.Lock()
	restore := m.restore
	m.mu.Unlock()
	if restore != nil {
		restore()
	}
	unregister(m)
}

// registry is the process-global ordered list of live mocks (spec §4.I
// "Mock registry"). restoreAllMocks reverses installs in LIFO order.
var (
	registryMu sync.Mutex
	registry   []*Mock
)

func register(m *Mock) {
	registryMu.Lock()
	registry = append(registry, m)
	registryMu.Unlock()
}

func unregister(m *Mock) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, r := range registry {
		if r == m {
			registry = append(registry[:i], registry[i+1:]...)
			return
		}
	}
}

// RestoreAllMocks restores every live mock in reverse registration order.
func RestoreAllMocks() {
	registryMu.Lock()
	live := append([]*Mock(nil), registry...)
	registryMu.Unlock()
	for i := len(live) - 1; i >= 0; i-- {
		live[i].MockRestore()
	}
}

// SpyOn replaces the function-typed field named fieldName on the struct
// pointed to by targetPtr with a recording wrapper that, absent an
// installed implementation, calls through to the original closure — the
// Go-native reading of spec.md §4.I's "If it is a function, wrap in a
// mock; restoring reassigns the original." targetPtr must be a pointer to
// an addressable struct and fieldName an exported func-typed field.
func SpyOn(targetPtr interface{}, fieldName string) (*Mock, error) {
	rv := reflect.ValueOf(targetPtr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, xerrors.NewXJetError("spyOn: target must be a non-nil pointer to a struct")
	}
	field := rv.Elem().FieldByName(fieldName)
	if !field.IsValid() {
		return nil, xerrors.NewXJetError(fmt.Sprintf("spyOn: no field %q", fieldName))
	}
	if field.Kind() != reflect.Func || !field.CanSet() {
		return nil, xerrors.NewXJetError(fmt.Sprintf("spyOn: field %q is not a settable function", fieldName))
	}

	fieldType := field.Type()
	original := reflect.ValueOf(field.Interface())
	m := &Mock{}
	m.defaultImpl = func(args ...interface{}) ([]interface{}, error) {
		return callThrough(original, fieldType, args)
	}

	wrapper := reflect.MakeFunc(fieldType, func(in []reflect.Value) []reflect.Value {
		args := make([]interface{}, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		results, err := m.Call(targetPtr, args...)
		return toResults(fieldType, results, err)
	})

	field.Set(wrapper)
	m.restore = func() { field.Set(original) }
	register(m)
	return m, nil
}

func callThrough(fn reflect.Value, fnType reflect.Type, args []interface{}) ([]interface{}, error) {
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(fnType.In(i))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}
	out := fn.Call(in)
	return splitResults(fnType, out)
}

// splitResults separates a called function's raw outputs into (results,
// error), treating a trailing `error`-typed return as the error channel —
// mirroring how Go functions conventionally report failure.
func splitResults(fnType reflect.Type, out []reflect.Value) ([]interface{}, error) {
	n := fnType.NumOut()
	if n == 0 {
		return nil, nil
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	if fnType.Out(n-1).Implements(errType) {
		var err error
		if ev := out[n-1]; !ev.IsNil() {
			err = ev.Interface().(error)
		}
		results := make([]interface{}, n-1)
		for i := 0; i < n-1; i++ {
			results[i] = out[i].Interface()
		}
		return results, err
	}
	results := make([]interface{}, n)
	for i := 0; i < n; i++ {
		results[i] = out[i].Interface()
	}
	return results, nil
}

// toResults converts a Mock.Call's (results, err) back into the []reflect.Value
// a reflect.MakeFunc wrapper must return, filling any unset output with its
// zero value.
func toResults(fnType reflect.Type, results []interface{}, err error) []reflect.Value {
	n := fnType.NumOut()
	out := make([]reflect.Value, n)
	errType := reflect.TypeOf((*error)(nil)).Elem()
	hasErr := n > 0 && fnType.Out(n-1).Implements(errType)

	valueCount := n
	if hasErr {
		valueCount = n - 1
	}
	for i := 0; i < valueCount; i++ {
		if i < len(results) && results[i] != nil {
			out[i] = reflect.ValueOf(results[i]).Convert(fnType.Out(i))
		} else {
			out[i] = reflect.Zero(fnType.Out(i))
		}
	}
	if hasErr {
		if err != nil {
			out[n-1] = reflect.ValueOf(err)
		} else {
			out[n-1] = reflect.Zero(fnType.Out(n - 1))
		}
	}
	return out
}
