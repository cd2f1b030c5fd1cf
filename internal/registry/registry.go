// Package registry maps discovered suite file paths to their Go-native
// registration factories. There is no guest VM to load arbitrary bundled
// code into, so a suite's package registers itself at process init time —
// the same pattern the standard library uses for pluggable drivers
// (database/sql.Register, image.RegisterFormat): a blank import plus an
// init() call, rather than a runtime loader.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.xjet.dev/xjet/internal/guest"
)

var (
	mu    sync.Mutex
	suite = map[string]func(*guest.Suite){}
)

// Register associates path with factory. Suite packages call this from an
// init() function. Registering the same path twice panics, matching
// database/sql.Register's own duplicate-driver behavior.
func Register(path string, factory func(*guest.Suite)) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := suite[path]; exists {
		panic(fmt.Sprintf("registry: suite %q already registered", path))
	}
	suite[path] = factory
}

// Lookup returns the factory registered for path, if any.
func Lookup(path string) (func(*guest.Suite), bool) {
	mu.Lock()
	defer mu.Unlock()
	f, ok := suite[path]
	return f, ok
}

// Paths returns every registered path, sorted.
func Paths() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(suite))
	for p := range suite {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
