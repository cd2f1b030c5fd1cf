package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.xjet.dev/xjet/internal/guest"
)

func TestRegisterAndLookup(t *testing.T) {
	Register("a_registry_test.ts", func(s *guest.Suite) {})
	f, ok := Lookup("a_registry_test.ts")
	assert.True(t, ok)
	assert.NotNil(t, f)

	_, ok = Lookup("missing.ts")
	assert.False(t, ok)
}

func TestRegisterDuplicatePathPanics(t *testing.T) {
	Register("dup_registry_test.ts", func(s *guest.Suite) {})
	assert.Panics(t, func() {
		Register("dup_registry_test.ts", func(s *guest.Suite) {})
	})
}

func TestPathsIsSorted(t *testing.T) {
	Register("z_registry_test.ts", func(s *guest.Suite) {})
	Register("b_registry_test.ts", func(s *guest.Suite) {})
	paths := Paths()
	for i := 1; i < len(paths); i++ {
		assert.LessOrEqual(t, paths[i-1], paths[i])
	}
}
