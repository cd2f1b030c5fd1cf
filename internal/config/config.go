// Package config loads xJet's run configuration (spec §6 "Configuration")
// via viper, grounded on the teacher's pack-mate codeactual-boone's own
// viper.New()-plus-Unmarshal pattern in internal/boone.ReadConfigFile — the
// teacher itself has no config-file story, so this is learned from the
// rest of the pack rather than from nya3jp-tast.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// RunnerConfig describes one configured External target runner (spec §6
// "Runner := { name, connection, disconnect, dispatch }"); connection/
// disconnect/dispatch are behavior the CLI wires up in Go, not data, so
// only the identifying and transport-selection fields are config-shaped.
type RunnerConfig struct {
	Name string
	Kind string // "ssh" or "tcp"

	// ssh
	Hostname string
	Port     int
	User     string
	KeyFile  string
	KeyDir   string
	Command  string

	// tcp
	Address string
}

// Config is the subset of external configuration the core consumes (spec
// §6): "{ bail, filter, timeout, randomize, parallel, include, exclude,
// testRunners?, reporter }".
type Config struct {
	Bail      bool
	Filter    []string
	Timeout   time.Duration
	Randomize bool
	Seed      int64
	Parallel  int
	Include   []string
	Exclude   []string
	Runners   []RunnerConfig
	Reporter  string
	Watch     bool
}

// defaults mirrors the zero-config experience: every *.test.ts,
// *.test.tsx, and *.test.js file under the root, no remote runners (Local
// target), concurrency of 4.
func defaults() Config {
	return Config{
		Timeout:  5 * time.Second,
		Parallel: 4,
		Include:  []string{"**/*.test.ts", "**/*.test.tsx", "**/*.test.js"},
		Reporter: "text",
	}
}

// Load reads path (if non-empty) via viper and overlays it onto defaults().
// A missing path is not an error: the zero-config defaults apply.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	raw := struct {
		Bail      bool
		Filter    []string
		Timeout   string
		Randomize bool
		Seed      int64
		Parallel  int
		Include   []string
		Exclude   []string
		Runners   []RunnerConfig
		Reporter  string
		Watch     bool
	}{}
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	cfg.Bail = raw.Bail
	cfg.Randomize = raw.Randomize
	cfg.Seed = raw.Seed
	cfg.Watch = raw.Watch
	if len(raw.Filter) > 0 {
		cfg.Filter = raw.Filter
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout %q: %w", raw.Timeout, err)
		}
		cfg.Timeout = d
	}
	if raw.Parallel > 0 {
		cfg.Parallel = raw.Parallel
	}
	if len(raw.Include) > 0 {
		cfg.Include = raw.Include
	}
	if len(raw.Exclude) > 0 {
		cfg.Exclude = raw.Exclude
	}
	if len(raw.Runners) > 0 {
		cfg.Runners = raw.Runners
	}
	if raw.Reporter != "" {
		cfg.Reporter = raw.Reporter
	}
	return cfg, nil
}
