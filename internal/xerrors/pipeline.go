package xerrors

import (
	"fmt"
	"strconv"
	"strings"

	"go.xjet.dev/xjet/internal/sourcemap"
)

// WrapVMRuntime wraps any error raised by guest code in a VMRuntimeError,
// combining a source-mapped (uncolored) stack while preserving the
// original name/message, per spec §4.C. svc may be nil if no source map is
// available for the suite (the stack is then left unresolved).
func WrapVMRuntime(original error, name, rawStack string, svc *sourcemap.Service) *E {
	e := newE(1, VMRuntimeErrorKind, original.Error(), original)
	e.OriginalName = name
	if svc != nil {
		e.stk = nil // the captured Go-side stack is irrelevant; we print the resolved guest stack below
	}
	resolved := resolveStackText(rawStack, svc)
	// Store the resolved, human-readable stack as the message suffix so
	// Error()/Format print it; the taxonomy Kind and Name still identify
	// this as a VMRuntimeError to callers inspecting Kind()/OriginalName.
	e.msg = fmt.Sprintf("%s: %s\n%s", name, original.Error(), resolved)
	return e
}

// WrapAggregateVMRuntime wraps an AggregateError-shaped collection of guest
// errors, applying WrapVMRuntime to each member identically, per spec:
// "AggregateError-shaped errors wrap each nested error identically and
// preserve aggregation."
func WrapAggregateVMRuntime(message string, members []struct {
	Err      error
	Name     string
	RawStack string
}, svc *sourcemap.Service) *AggregateError {
	wrapped := make([]*E, len(members))
	for i, m := range members {
		wrapped[i] = WrapVMRuntime(m.Err, m.Name, m.RawStack, svc)
	}
	return NewAggregate(message, wrapped...)
}

// stackLineRe-free manual parser: a resolvable guest stack line looks like
// "\tat name (file:line:column)". Lines that don't match are passed through
// unresolved.
func resolveStackText(raw string, svc *sourcemap.Service) string {
	if raw == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		resolved, ok := resolveStackLine(line, svc)
		if ok {
			out = append(out, resolved)
		} else {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func resolveStackLine(line string, svc *sourcemap.Service) (string, bool) {
	if svc == nil {
		return line, false
	}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "at ") {
		return line, false
	}
	open := strings.LastIndex(trimmed, "(")
	close := strings.LastIndex(trimmed, ")")
	if open < 0 || close < open {
		return line, false
	}
	fn := strings.TrimSpace(trimmed[3:open])
	loc := trimmed[open+1 : close]
	parts := strings.Split(loc, ":")
	if len(parts) < 2 {
		return line, false
	}
	lineNo, err1 := strconv.Atoi(parts[len(parts)-2])
	colNo, err2 := strconv.Atoi(parts[len(parts)-1])
	if err1 != nil || err2 != nil {
		return line, false
	}
	orig, err := svc.ResolveOriginal(lineNo, colNo)
	if err != nil {
		return line, false
	}
	name := fn
	if orig.Name != "" {
		name = orig.Name
	}
	return fmt.Sprintf("\tat %s (%s:%d:%d)", name, orig.Source, orig.Line, orig.Column), true
}

// HideFramework truncates a rendered stack at the first frame referencing
// relativePath, per spec: "The stack is truncated at the first frame
// referencing the suite's relative path to hide runner plumbing", unless
// includeFramework is set.
func HideFramework(renderedStack, relativePath string, includeFramework bool) string {
	if includeFramework || relativePath == "" {
		return renderedStack
	}
	lines := strings.Split(renderedStack, "\n")
	for i, line := range lines {
		if strings.Contains(line, relativePath) {
			return strings.Join(lines[:i+1], "\n")
		}
	}
	return renderedStack
}
