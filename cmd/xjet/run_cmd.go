package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"go.xjet.dev/xjet/internal/config"
	"go.xjet.dev/xjet/internal/guest"
	"go.xjet.dev/xjet/internal/orchestrator"
	"go.xjet.dev/xjet/internal/registry"
)

const banner = "xJet - distributed test orchestrator"

// runCmd implements subcommands.Command to support running a suite of
// tests, mirroring the shape of the teacher's own runCmd (positional
// target, a -c/--config path, a quiet flag) but for xJet's config/watch
// surface (spec §6 "CLI surface").
type runCmd struct {
	configPath  string
	watch       bool
	bail        bool
	quiet       bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "discover and run xJet suites" }
func (*runCmd) Usage() string {
	return `run [-c config.yaml] [-watch] [-bail] [root]:
	Discovers suites under root (default ".") and runs them.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configPath, "c", "", "path to config file")
	f.StringVar(&r.configPath, "config", "", "path to config file")
	f.BoolVar(&r.watch, "watch", false, "re-run on source file changes")
	f.BoolVar(&r.bail, "bail", false, "stop a runner's remaining suites after its first failure")
	f.BoolVar(&r.quiet, "quiet", false, "suppress the startup banner")
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !r.quiet {
		fmt.Println(banner)
	}

	root := "."
	if f.NArg() > 0 {
		root = f.Arg(0)
	}

	cfg, err := config.Load(r.configPath)
	if err != nil {
		fatalf("xjet: %v", err)
		return subcommands.ExitStatus(2)
	}
	if r.bail {
		cfg.Bail = true
	}
	if r.watch {
		cfg.Watch = true
	}

	buildSuite := func(path string) (func(*guest.Suite), error) {
		factory, ok := registry.Lookup(path)
		if !ok {
			return nil, fmt.Errorf("no registered suite for %s (see internal/registry)", path)
		}
		return factory, nil
	}

	orch := orchestrator.New(cfg, root, buildSuite, orchestrator.NewTextReporter(os.Stdout))

	if cfg.Watch {
		err := orch.Watch(ctx, func(code int, runErr error) {
			if runErr != nil {
				fatalf("xjet: %v", runErr)
			}
		})
		if err != nil {
			fatalf("xjet: %v", err)
			return subcommands.ExitStatus(2)
		}
		return subcommands.ExitSuccess
	}

	code, err := orch.Run(ctx)
	if err != nil {
		fatalf("xjet: %v", err)
	}
	return subcommands.ExitStatus(code)
}
