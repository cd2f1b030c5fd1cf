package guest

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
)

// Context is passed to every test/hook Block. It carries the ambient
// context.Context (for cancellation/deadlines), the suite's read-only
// runtime context, and the log-interception sink bound to the currently
// executing entity's ancestry — mirroring the teacher's pattern of
// querying/logging against an entity via context rather than threading an
// explicit state object through arbitrary call depth (spec §4.G "Log
// interception", design note on EventEmitter-style interception seams).
type Context struct {
	std      context.Context
	runtime  *RuntimeContext
	emit     *EmitService
	ancestry []string
}

func newContext(std context.Context, runtime *RuntimeContext, emit *EmitService, ancestry []string) *Context {
	return &Context{std: std, runtime: runtime, emit: emit, ancestry: ancestry}
}

// Std returns the underlying context.Context, for passing to cancelable
// operations inside the test body.
func (c *Context) Std() context.Context { return c.std }

// Runtime returns the suite's read-only runtime context.
func (c *Context) Runtime() *RuntimeContext { return c.runtime }

// WithAncestry returns a copy of c scoped to a different ancestry, used by
// the execution engine to give hook logs a hook-specific context (the
// describe's ancestry followed by the hook's type name) rather than the
// ancestry of whichever test happens to be running.
func (c *Context) WithAncestry(ancestry []string) *Context {
	cp := *c
	cp.ancestry = append([]string(nil), ancestry...)
	return &cp
}

func callerLocation(skip int) *Location {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return nil
	}
	return &Location{Line: line, Column: 0, Source: filepath.Base(file)}
}

func (c *Context) log(level string, skip int, msg string) {
	if c.emit == nil {
		return
	}
	loc := callerLocation(skip + 1)
	c.emit.EmitLog(level, append([]string(nil), c.ancestry...), loc, msg)
}

// Log emits an INFO-level log entry (console.log/console.info equivalent).
func (c *Context) Log(args ...interface{}) { c.log("info", 1, fmt.Sprint(args...)) }

// Logf is like Log but printf-formatted.
func (c *Context) Logf(format string, args ...interface{}) {
	c.log("info", 1, fmt.Sprintf(format, args...))
}

// Warn emits a WARN-level log entry (console.warn equivalent).
func (c *Context) Warn(args ...interface{}) { c.log("warn", 1, fmt.Sprint(args...)) }

// Error emits an ERROR-level log entry (console.error equivalent).
func (c *Context) Error(args ...interface{}) { c.log("error", 1, fmt.Sprint(args...)) }

// Debug emits a DEBUG-level log entry (console.debug equivalent).
func (c *Context) Debug(args ...interface{}) { c.log("debug", 1, fmt.Sprint(args...)) }
