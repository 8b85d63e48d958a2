// Package variables holds the per-iteration variables a scenario reads and
// extracts, and renders {{name}} placeholders from them.
package variables

import (
	"regexp"
	"strconv"
	"strings"
)

// Names set by the executor at the start of every iteration.
const (
	VU        = "__VU"
	Iteration = "__ITER"
)

// Store is a map-based variable set. It belongs to a single iteration and is
// not safe for concurrent use.
type Store struct {
	vars map[string]string
}

// New returns a store seeded with a copy of seed.
func New(seed map[string]string) *Store {
	vars := make(map[string]string, len(seed)+2)
	for k, v := range seed {
		vars[k] = v
	}
	return &Store{vars: vars}
}

// ForIteration returns a store for one iteration of a VU.
func ForIteration(seed map[string]string, vuID uint64, iteration int64) *Store {
	s := New(seed)
	s.Set(VU, strconv.FormatUint(vuID, 10))
	s.Set(Iteration, strconv.FormatInt(iteration, 10))
	return s
}

func (s *Store) Set(key, value string) {
	s.vars[key] = value
}

func (s *Store) Get(key string) (string, bool) {
	value, ok := s.vars[key]
	return value, ok
}

// Merge sets every entry of values, overwriting existing keys.
func (s *Store) Merge(values map[string]string) {
	for k, v := range values {
		s.vars[k] = v
	}
}

// GetAll returns a copy of all stored variables.
func (s *Store) GetAll() map[string]string {
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

var placeholder = regexp.MustCompile(`\{\{\s*([^}|\s]+)\s*(?:\|([^}]*))?\}\}`)

// Render substitutes {{name}} and {{name|default}} placeholders. A
// placeholder with no value and no default is left as written.
func (s *Store) Render(template string) string {
	if len(template) < 4 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		if val, ok := s.vars[parts[1]]; ok {
			return val
		}
		if strings.Contains(match, "|") {
			return parts[2]
		}
		return match
	})
}

// RenderMap renders every value of m into a new map.
func (s *Store) RenderMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = s.Render(v)
	}
	return out
}
