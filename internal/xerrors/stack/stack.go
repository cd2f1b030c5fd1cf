// Package stack captures and formats a program-counter stack trace. It is
// not meant to be used directly; xerrors builds error chains on top of it.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxDepth = 16
	ellipsis = "\t..."
)

// Stack holds a snapshot of program counters captured at construction time.
type Stack []uintptr

// New captures the stack of the caller. skip is the number of additional
// frames to skip beyond New's own frame.
func New(skip int) Stack {
	pc := make([]uintptr, maxDepth+1)
	pc = pc[:runtime.Callers(skip+2, pc)]
	return Stack(pc)
}

// String renders the stack as one "at func (file:line)" line per frame.
func (s Stack) String() string {
	if len(s) == 0 {
		return ""
	}
	var lines []string
	cf := runtime.CallersFrames(s)
	for {
		f, more := cf.Next()
		lines = append(lines, fmt.Sprintf("\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line))
		if !more {
			break
		}
		if len(lines) >= maxDepth {
			lines = append(lines, ellipsis)
			break
		}
	}
	return strings.Join(lines, "\n")
}

// Frames exposes the decoded runtime.Frame values.
func (s Stack) Frames() []runtime.Frame {
	if len(s) == 0 {
		return nil
	}
	var out []runtime.Frame
	cf := runtime.CallersFrames(s)
	for {
		f, more := cf.Next()
		out = append(out, f)
		if !more {
			break
		}
	}
	return out
}
