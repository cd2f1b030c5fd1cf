// Package orchestrator wires discovery, transpilation, target selection,
// and execution into the single pipeline the CLI drives (spec §4.H):
// Discover -> Transpile -> select target -> InitTarget -> ExecuteSuites ->
// exit code, plus an fsnotify-driven watch mode.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"go.xjet.dev/xjet/internal/config"
	"go.xjet.dev/xjet/internal/dispatcher"
	"go.xjet.dev/xjet/internal/guest"
	"go.xjet.dev/xjet/internal/target"
)

// watchedExt is the set of source extensions a watch-mode fsnotify event
// must match to trigger a re-run (spec §4.H step 4).
var watchedExt = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".mts": true, ".cts": true, ".mjs": true, ".cjs": true,
}

// Bundle is a transpiled spec file ready for a Target (spec §4.H step 2:
// "{code, sourceMap}").
type Bundle struct {
	Path      string
	SourceMap []byte
}

// Transpiler turns a discovered file into a Bundle. The default
// PassthroughTranspiler is the only implementation xJet ships, since Go
// test files need no transpilation; it keeps the seam the spec describes
// without inventing a JS toolchain.
type Transpiler interface {
	Transpile(path string) (Bundle, error)
}

// PassthroughTranspiler returns path unchanged with no source map.
type PassthroughTranspiler struct{}

func (PassthroughTranspiler) Transpile(path string) (Bundle, error) {
	return Bundle{Path: path}, nil
}

// Reporter consumes the orchestrator's structured event stream, i.e. it is
// a dispatcher.Reporter specialized for end-user presentation.
type Reporter = dispatcher.Reporter

// TextReporter is the default CLI reporter: one line per test transition
// and a final per-suite summary line. Describe transitions are not printed.
type TextReporter struct {
	out io.Writer
}

// NewTextReporter builds a TextReporter writing to out.
func NewTextReporter(out io.Writer) *TextReporter { return &TextReporter{out: out} }

func (t *TextReporter) OnLog(suiteID, runnerID string, p guest.LogPayload) {
	fmt.Fprintf(t.out, "[%s] %s\n", p.Level, p.Description)
}

func (t *TextReporter) OnTest(suiteID, runnerID string, p guest.TestPayload) {
	fmt.Fprintf(t.out, "  %s %s (%s)\n", symbolFor(p.Action), p.Description, strings.Join(p.Ancestry, " > "))
}

func (t *TextReporter) OnDescribe(suiteID, runnerID string, p guest.TestPayload) {}

func (t *TextReporter) OnStatus(suiteID, runnerID, status string) {
	fmt.Fprintf(t.out, "[%s] %s\n", runnerID, status)
}

func (t *TextReporter) OnSuiteComplete(suiteID, runnerID string, err error) {
	if err != nil {
		fmt.Fprintf(t.out, "FAIL %s (%s): %v\n", suiteID, runnerID, err)
		return
	}
	fmt.Fprintf(t.out, "PASS %s (%s)\n", suiteID, runnerID)
}

func symbolFor(action guest.Action) string {
	switch action {
	case guest.ActionSuccess:
		return "PASS"
	case guest.ActionFailure:
		return "FAIL"
	case guest.ActionSkip:
		return "SKIP"
	case guest.ActionTodo:
		return "TODO"
	default:
		return "...."
	}
}

// Discover walks include globs under root, drops anything matching an
// exclude glob, and returns a sorted, deduplicated list of file paths
// (spec §4.H step 1), using doublestar for `**` glob semantics (grounded
// on the pack's own choice of doublestar/v4 for the same job).
func Discover(root string, include, exclude []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range include {
		matches, err := doublestar.FilepathGlob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			excluded, err := matchesAny(m, root, exclude)
			if err != nil {
				return nil, err
			}
			if excluded {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchesAny(path, root string, patterns []string) (bool, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	for _, p := range patterns {
		ok, err := doublestar.Match(p, rel)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Orchestrator ties Discover, a Transpiler, a target.Target, and a
// dispatcher together behind the single Run() entry point the CLI calls.
type Orchestrator struct {
	cfg        config.Config
	root       string
	transpiler Transpiler
	reporters  []Reporter
	buildSuite func(path string) (func(*guest.Suite), error)
}

// New builds an Orchestrator rooted at root. buildSuite resolves a
// discovered file into the Go-native suite factory standing in for
// "bundled code" (see internal/target.Suite's doc comment); it is supplied
// by the caller because only the CLI (or a test) knows how discovered
// files map to registered suites.
func New(cfg config.Config, root string, buildSuite func(path string) (func(*guest.Suite), error), reporters ...Reporter) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		root:       root,
		transpiler: PassthroughTranspiler{},
		reporters:  reporters,
		buildSuite: buildSuite,
	}
}

// SetTranspiler overrides the default passthrough transpiler.
func (o *Orchestrator) SetTranspiler(t Transpiler) { o.transpiler = t }

// Run executes one pass of Discover -> Transpile -> target selection ->
// InitTarget -> ExecuteSuites, returning the process exit code the spec
// defines (spec §6 "CLI surface"): 0 all-green, 1 on any suite failure.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	files, err := Discover(o.root, o.cfg.Include, o.cfg.Exclude)
	if err != nil {
		return 2, err
	}

	d := dispatcher.New()
	for _, r := range o.reporters {
		d.AddReporter(r)
	}

	suites := make([]target.Suite, 0, len(files))
	for _, f := range files {
		bundle, err := o.transpiler.Transpile(f)
		if err != nil {
			return 2, fmt.Errorf("transpile %s: %w", f, err)
		}
		factory, err := o.buildSuite(f)
		if err != nil {
			return 2, fmt.Errorf("resolve suite %s: %w", f, err)
		}
		suites = append(suites, target.Suite{Path: f, Factory: factory, SourceMap: bundle.SourceMap})
	}

	tgt := o.selectTarget(d)
	if err := tgt.InitTarget(ctx); err != nil {
		return 2, fmt.Errorf("init target: %w", err)
	}
	defer tgt.Shutdown()

	failed := false
	d.AddReporter(completionTracker{onFail: func() { failed = true }})

	if err := tgt.ExecuteSuites(ctx, suites); err != nil {
		return 2, err
	}
	if failed {
		return 1, nil
	}
	return 0, nil
}

func (o *Orchestrator) selectTarget(d *dispatcher.Dispatcher) target.Target {
	if len(o.cfg.Runners) == 0 {
		return target.NewLocal(d, o.cfg.Parallel, o.cfg.Bail, o.cfg.Filter, o.cfg.Timeout.Milliseconds(), o.cfg.Randomize, o.cfg.Seed)
	}
	runners := make([]target.Runner, 0, len(o.cfg.Runners))
	for _, rc := range o.cfg.Runners {
		switch rc.Kind {
		case "tcp":
			runners = append(runners, target.NewTCPRunner(rc.Name, rc.Address, o.cfg.Timeout))
		default:
			runners = append(runners, target.NewSSHRunner(rc.Name, target.SSHOptions{
				User:          rc.User,
				Hostname:      rc.Hostname,
				Port:          rc.Port,
				KeyFile:       rc.KeyFile,
				KeyDir:        rc.KeyDir,
				RunnerCommand: rc.Command,
			}))
		}
	}
	return target.NewExternal(d, o.cfg.Parallel, runners, o.cfg.Bail, o.cfg.Filter, o.cfg.Timeout.Milliseconds(), o.cfg.Randomize, o.cfg.Seed)
}

// completionTracker is a minimal Reporter that only observes failures, used
// internally by Run to compute the process exit code without requiring
// every caller-supplied Reporter to also serve that bookkeeping role.
type completionTracker struct {
	onFail func()
}

func (completionTracker) OnLog(string, string, guest.LogPayload)       {}
func (completionTracker) OnTest(string, string, guest.TestPayload)     {}
func (completionTracker) OnDescribe(string, string, guest.TestPayload) {}
func (completionTracker) OnStatus(string, string, string)              {}
func (c completionTracker) OnSuiteComplete(suiteID, runnerID string, err error) {
	if err != nil {
		c.onFail()
	}
}

// Watch re-invokes Run on every fsnotify event whose basename matches one
// of the watched source extensions, until ctx is canceled (spec §4.H step
// 4), grounded on codeactual-boone's fsnotify-based watcher/dispatcher
// pair but simplified to xJet's single re-invoke-the-pipeline semantics —
// no per-target dependency tree, which is boone-specific.
func (o *Orchestrator) Watch(ctx context.Context, onRun func(exitCode int, err error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	if err := addRecursive(w, o.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watchedExt[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			code, runErr := o.Run(ctx)
			onRun(code, runErr)
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if werr != nil {
				onRun(2, werr)
			}
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
