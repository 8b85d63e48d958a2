// Package check records named assertions made against responses.
//
// Every assertion becomes a sample of the "checks" rate. A group of
// assertions evaluated together also produces one "errors" sample: 1 when
// any assertion in the group failed, 0 otherwise. A single rate threshold
// on "errors" therefore summarizes every kind of failure.
package check

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/torosent/stagefire/internal/metrics"
)

// Recorder is the write side of the metric store used by the reporter.
type Recorder interface {
	AddRate(name string, ok bool) error
}

type Result struct {
	Name   string
	Passed bool
}

// Tally counts the outcomes of one named check.
type Tally struct {
	Name   string `json:"name" yaml:"name"`
	Passes int64  `json:"passes" yaml:"passes"`
	Fails  int64  `json:"fails" yaml:"fails"`
}

type counter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// Reporter is safe for concurrent use by every VU.
type Reporter struct {
	rec Recorder

	mu      sync.RWMutex
	tallies map[string]*counter
}

func NewReporter(rec Recorder) *Reporter {
	return &Reporter{rec: rec, tallies: make(map[string]*counter)}
}

// Record adds one assertion outcome.
func (r *Reporter) Record(name string, passed bool) {
	_ = r.rec.AddRate(metrics.Checks, passed)

	c := r.counter(name)
	if passed {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
	}
}

// Group records every result and one errors sample for the group. It
// returns true when all results passed. An empty group records nothing.
func (r *Reporter) Group(results []Result) bool {
	if len(results) == 0 {
		return true
	}
	ok := true
	for _, res := range results {
		r.Record(res.Name, res.Passed)
		if !res.Passed {
			ok = false
		}
	}
	_ = r.rec.AddRate(metrics.Errors, !ok)
	return ok
}

// Summary returns per-check tallies sorted by name.
func (r *Reporter) Summary() []Tally {
	r.mu.RLock()
	out := make([]Tally, 0, len(r.tallies))
	for name, c := range r.tallies {
		out = append(out, Tally{Name: name, Passes: c.passes.Load(), Fails: c.fails.Load()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Reporter) counter(name string) *counter {
	r.mu.RLock()
	c, ok := r.tallies[name]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.tallies[name]; !ok {
		c = &counter{}
		r.tallies[name] = c
	}
	return c
}
