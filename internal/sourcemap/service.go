// Package sourcemap resolves bundled (line, column) locations back to their
// original source location, per spec §4.B. It wraps the go-sourcemap
// library (the standard Go consumer of the source-map v3 format) behind a
// small Service type that also knows how to stitch a shared runtime
// preamble's source map in front of a per-suite bundle's map — the
// "concat" operation the spec calls out for composing ancillary data,
// grounded in the general append-then-shift approach the teacher uses
// elsewhere for combining per-entity logs into one timeline.
package sourcemap

import (
	"errors"
	"fmt"

	gosourcemap "github.com/go-sourcemap/sourcemap"
)

// ErrNoMapping is returned by ResolveOriginal when the consumer holds no
// mapping for the queried location (e.g. an empty source map).
var ErrNoMapping = errors.New("sourcemap: no mapping for location")

// Original describes a resolved original-source location.
type Original struct {
	Source string
	Line   int
	Column int
	Name   string
}

// Service resolves locations for exactly one bundle file, identified by its
// canonical file URI.
type Service struct {
	file     string
	consumer *gosourcemap.Consumer
	// lineShift is subtracted from queried generated line numbers before consulting
	// consumer; it is non-zero only after Concat prepends another map.
	lineShift int
	extent    int // generated line count of this service's own map content
	// preamble is the Service Concat prepended, retained so a query that
	// falls within its own line range still resolves instead of only
	// shifting queries that land in s's own body.
	preamble *Service
}

// New constructs a Service from raw source-map JSON and the file it maps.
func New(file string, rawJSON []byte) (*Service, error) {
	consumer, err := gosourcemap.Parse(file, rawJSON)
	if err != nil {
		return nil, fmt.Errorf("sourcemap: parse %s: %w", file, err)
	}
	return &Service{file: file, consumer: consumer}, nil
}

// File returns the canonical URI identifying this suite's bundle.
func (s *Service) File() string {
	return s.file
}

// ResolveOriginal maps a bundled (line, column) back to its original
// location. line is 1-based and column is 0-based, the source-map
// library's own convention. A location falling within a Concat-prepended preamble's own
// line range is resolved against that preamble directly, unshifted.
func (s *Service) ResolveOriginal(line, column int) (Original, error) {
	if s.preamble != nil && line <= s.lineShift {
		return s.preamble.ResolveOriginal(line, column)
	}
	if s.consumer == nil {
		return Original{}, ErrNoMapping
	}
	file, fn, origLine, origColumn, ok := s.consumer.Source(line-s.lineShift, column)
	if !ok {
		return Original{}, ErrNoMapping
	}
	return Original{Source: file, Line: origLine, Column: origColumn, Name: fn}, nil
}

// Concat prepends other's mappings ahead of s's own, shifting s's future
// queries down by other's line extent. This is used to stitch the guest
// runtime preamble's source map in front of the suite-specific map, so a
// stack trace line inside the preamble still resolves (delegated straight
// to other), and a line inside the suite body resolves after subtracting
// the preamble's line count.
func (s *Service) Concat(other *Service) {
	if other == nil {
		return
	}
	s.preamble = other
	s.lineShift += other.extent
	s.extent += other.extent
}

// SetExtent records how many generated lines this service's own content
// occupies, for use when a later Service concatenates this one in front of
// itself. Orchestrator callers set this from the transpiler's reported
// line count of the preamble.
func (s *Service) SetExtent(lines int) {
	s.extent = lines
}
