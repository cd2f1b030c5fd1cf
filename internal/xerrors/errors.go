// Package xerrors implements xJet's error pipeline: a chain-of-custody
// error type with a captured stack trace (grounded on the teacher's
// chromiumos/tast/errors package) layered with a closed taxonomy of error
// Kinds as required by the spec's error-pipeline component (§4.C). The
// spec explicitly calls for "distinct kinds, not type names" — Go's
// errors.Is/As work naturally against a single struct carrying a Kind
// field, so that's how the taxonomy is realized here instead of one
// exported type per kind.
package xerrors

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.xjet.dev/xjet/internal/xerrors/stack"
)

// Kind is one of the taxonomy's closed set of error kinds.
type Kind int

const (
	// ExecutionError is a generic failure raised from user code.
	ExecutionError Kind = iota
	// TimeoutError is raised when a test/hook exceeds its budget.
	TimeoutError
	// FailingError is raised when a `failing` test unexpectedly passes.
	FailingError
	// NestingError is raised for forbidden describe/test registration ordering.
	NestingError
	// XJetErrorKind is a framework precondition/usage error.
	XJetErrorKind
	// WireProtocolErrorKind is raised for a malformed frame.
	WireProtocolErrorKind
	// VMRuntimeErrorKind wraps any error raised by guest code with a
	// source-mapped stack; the stack text is not colorized.
	VMRuntimeErrorKind
	// InvalidHookTypeKind is raised for an unknown hook type.
	InvalidHookTypeKind
)

func (k Kind) String() string {
	switch k {
	case ExecutionError:
		return "ExecutionError"
	case TimeoutError:
		return "TimeoutError"
	case FailingError:
		return "FailingError"
	case NestingError:
		return "NestingError"
	case XJetErrorKind:
		return "XJetError"
	case WireProtocolErrorKind:
		return "WireProtocolError"
	case VMRuntimeErrorKind:
		return "VMRuntimeError"
	case InvalidHookTypeKind:
		return "InvalidHookType"
	default:
		return "UnknownError"
	}
}

// E is the error implementation used throughout xJet. It records a
// message, a kind, a stack trace captured at construction, and an
// optional wrapped cause.
type E struct {
	kind  Kind
	msg   string
	stk   stack.Stack
	cause error

	// DelayMs/At/Location are only meaningful when Kind == TimeoutError.
	DelayMs  int64
	At       string
	Location *Location

	// OriginalName carries the pre-wire-serialization name of the error when E
	// was reconstructed from a wire payload (see UnmarshalWire), so the
	// reporter can still print "TypeError: x is not a function" rather
	// than just the xJet kind.
	OriginalName string
}

// Location is a (line, column) pair, typically the original (source-mapped)
// location of a registration or a stack frame.
type Location struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Source string `json:"source,omitempty"`
}

func (e *E) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Kind returns the error's taxonomy kind.
func (e *E) Kind() Kind { return e.kind }

// Unwrap exposes the chained cause to errors.Is/As/Unwrap.
func (e *E) Unwrap() error { return e.cause }

// Stack returns the captured stack trace.
func (e *E) Stack() stack.Stack { return e.stk }

type unwrapper interface {
	unwrap() (kind Kind, msg string, stk stack.Stack, cause error)
}

func (e *E) unwrap() (Kind, string, stack.Stack, error) {
	return e.kind, e.msg, e.stk, e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		if e, ok := err.(unwrapper); ok {
			kind, msg, stk, cause := e.unwrap()
			chain = append(chain, fmt.Sprintf("%s(%s)\n%v", kind, msg, stk))
			err = cause
		} else {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			err = nil
		}
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter; "%+v" prints the full chained stack.
func (e *E) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
		return
	}
	io.WriteString(s, e.Error())
}

func newE(skip int, kind Kind, msg string, cause error) *E {
	return &E{kind: kind, msg: msg, stk: stack.New(skip + 1), cause: cause}
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *E {
	return newE(1, kind, msg, nil)
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *E {
	return newE(1, kind, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a new error of the given kind, wrapping cause. If cause is
// nil this is equivalent to New.
func Wrap(kind Kind, cause error, msg string) *E {
	return newE(1, kind, msg, cause)
}

// Wrapf is like Wrap but with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *E {
	return newE(1, kind, fmt.Sprintf(format, args...), cause)
}

// NewTimeout builds the TimeoutError carried by a test/hook that exceeded
// its budget (Testable property: `withTimeout` rejects with TimeoutError
// exactly when the inner task exceeds delay).
func NewTimeout(delayMs int64, at string, loc *Location) *E {
	e := newE(1, TimeoutError, fmt.Sprintf("%s exceeded its timeout of %dms", at, delayMs), nil)
	e.DelayMs = delayMs
	e.At = at
	e.Location = loc
	return e
}

// NewFailing builds the FailingError carried when a `failing` test
// unexpectedly passes.
func NewFailing(description string) *E {
	return newE(1, FailingError, fmt.Sprintf("test %q marked failing unexpectedly passed", description), nil)
}

// NewNesting builds the NestingError raised when registration is attempted
// from inside a running test's block.
func NewNesting(what string) *E {
	return newE(1, NestingError, fmt.Sprintf("%s cannot be registered while a test is running", what), nil)
}

// NewInvalidHookType builds the error raised for an unrecognized hook type.
func NewInvalidHookType(got string) *E {
	return newE(1, InvalidHookTypeKind, fmt.Sprintf("invalid hook type %q", got), nil)
}

// NewXJetError builds a framework precondition/usage error.
func NewXJetError(msg string) *E {
	return newE(1, XJetErrorKind, msg, nil)
}

// NewWireProtocolError builds the error raised for a malformed frame.
func NewWireProtocolError(cause error) *E {
	return newE(1, WireProtocolErrorKind, "malformed wire frame", cause)
}

// Is reports whether err (or any error in its chain) has the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			if e.kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		if a, ok := err.(*AggregateError); ok {
			for _, inner := range a.Errors {
				if Is(inner, kind) {
					return true
				}
			}
			return false
		}
		break
	}
	return false
}

// AggregateError wraps multiple errors raised together (e.g. the several
// test and hook failures of one suite run), preserving order.
type AggregateError struct {
	Message string
	Errors  []*E
}

func (a *AggregateError) Error() string {
	msgs := make([]string, len(a.Errors))
	for i, e := range a.Errors {
		msgs[i] = e.Error()
	}
	if a.Message == "" {
		return strings.Join(msgs, "; ")
	}
	return fmt.Sprintf("%s: %s", a.Message, strings.Join(msgs, "; "))
}

// NewAggregate builds an AggregateError from one or more underlying errors.
func NewAggregate(message string, errs ...*E) *AggregateError {
	return &AggregateError{Message: message, Errors: errs}
}

// WirePayload is the JSON shape an error takes when serialized across the
// wire, per spec §4.C: "the payload carries {name, message, stack, ...}".
type WirePayload struct {
	Name    string                 `json:"name"`
	Message string                 `json:"message"`
	Stack   string                 `json:"stack"`
	Kind    string                 `json:"kind"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// MarshalWire serializes e into the wire error shape.
func (e *E) MarshalWire() WirePayload {
	name := e.OriginalName
	if name == "" {
		name = e.kind.String()
	}
	p := WirePayload{
		Name:    name,
		Message: e.Error(),
		Stack:   e.stk.String(),
		Kind:    e.kind.String(),
	}
	if e.kind == TimeoutError {
		p.Extra = map[string]interface{}{
			"delayMs": e.DelayMs,
			"at":      e.At,
		}
		if e.Location != nil {
			p.Extra["location"] = e.Location
		}
	}
	return p
}

// MarshalJSON allows *E to be embedded directly in a frame payload.
func (e *E) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.MarshalWire())
}

// UnmarshalWire reconstructs an *E from a wire payload, as done by the host
// dispatcher for frames carrying a structural {name, message, stack, ...}
// error. The reconstructed error carries kind VMRuntimeErrorKind unless the
// Kind field names a recognized taxonomy member.
func UnmarshalWire(p WirePayload) *E {
	kind := VMRuntimeErrorKind
	for k := ExecutionError; k <= InvalidHookTypeKind; k++ {
		if k.String() == p.Kind {
			kind = k
			break
		}
	}
	e := &E{kind: kind, msg: p.Message, OriginalName: p.Name}
	if p.Extra != nil {
		if v, ok := p.Extra["delayMs"].(float64); ok {
			e.DelayMs = int64(v)
		}
		if v, ok := p.Extra["at"].(string); ok {
			e.At = v
		}
	}
	return e
}
