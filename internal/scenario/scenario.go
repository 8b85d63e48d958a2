// Package scenario runs the scripted step sequence of one virtual user
// iteration: requests, checks against their responses, and think time.
//
// Every iteration starts from fresh state. Request failures are absorbed
// into metrics and check results so a VU never exits because of what the
// service under test did.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/variables"
)

// Step is one unit of a scenario. A returned error ends the iteration early;
// steps only return one when ctx is done.
type Step interface {
	Run(ctx context.Context, it *Iteration) error
}

type Scenario struct {
	Name  string
	Steps []Step
}

// Recorder is the write side of the metric store used by the executor.
type Recorder interface {
	Add(name string, value float64) error
	AddRate(name string, ok bool) error
	AddTrend(name string, value float64) error
}

// DataSource hands each iteration a record of variables, such as a row of a
// feeder file.
type DataSource interface {
	Next(ctx context.Context) (map[string]string, error)
}

// Options configures an Executor.
type Options struct {
	Transport Transport
	Metrics   Recorder
	Checks    *check.Reporter
	Logger    *zap.Logger
	// Vars seeds every iteration's variables.
	Vars map[string]string
	// Data, when set, adds one record per iteration on top of Vars.
	Data DataSource
	// Sleep suspends the VU for think time. Defaults to a timer that honours
	// ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Executor runs iterations of one scenario. It is safe for concurrent use
// by every VU.
type Executor struct {
	scenario Scenario
	opt      Options
}

// NewExecutor validates the collaborators and returns an executor.
func NewExecutor(s Scenario, opt Options) (*Executor, error) {
	if opt.Transport == nil {
		return nil, errors.New("scenario: transport is required")
	}
	if opt.Metrics == nil {
		return nil, errors.New("scenario: metrics recorder is required")
	}
	if opt.Checks == nil {
		return nil, errors.New("scenario: check reporter is required")
	}
	for i, step := range s.Steps {
		if step == nil {
			return nil, fmt.Errorf("scenario: step %d is nil", i)
		}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Sleep == nil {
		opt.Sleep = sleepContext
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Executor{scenario: s, opt: opt}, nil
}

func (e *Executor) Scenario() Scenario { return e.scenario }

// Iterate runs one iteration for VU vuID; n is the VU-local iteration number.
// It returns ctx's error when the iteration was interrupted, in which case
// no iteration sample is recorded.
func (e *Executor) Iterate(ctx context.Context, vuID uint64, n int64) (err error) {
	it := &Iteration{
		VU:     vuID,
		Number: n,
		Vars:   variables.ForIteration(e.opt.Vars, vuID, n),
		exec:   e,
	}
	if e.opt.Data != nil {
		rec, err := e.opt.Data.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.opt.Logger.Warn("data record unavailable", zap.Uint64("vu", vuID), zap.Error(err))
		}
		it.Vars.Merge(rec)
	}
	start := e.opt.Now()

	defer func() {
		if r := recover(); r != nil {
			e.opt.Logger.Error("scenario step panicked",
				zap.String("scenario", e.scenario.Name),
				zap.Uint64("vu", vuID),
				zap.Int64("iteration", n),
				zap.Any("panic", r),
				zap.Stack("stack"))
			_ = e.opt.Metrics.AddRate(metrics.Errors, true)
			err = nil
		}
		if err != nil {
			return
		}
		it.flushPending()
		_ = e.opt.Metrics.Add(metrics.Iterations, 1)
		_ = e.opt.Metrics.AddTrend(metrics.IterationDuration, millis(e.opt.Now().Sub(start)))
	}()

	for _, step := range e.scenario.Steps {
		if err := step.Run(ctx, it); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.opt.Logger.Debug("scenario step failed", zap.Uint64("vu", vuID), zap.Error(err))
		}
	}
	return nil
}

// Iteration is the state of one running iteration. It belongs to a single
// VU goroutine.
type Iteration struct {
	VU     uint64
	Number int64
	Vars   *variables.Store

	exec *Executor

	last     *Response
	lastErr  error
	lastName string
	// pending is set while a transport error has not been consumed by a
	// check.
	pending bool
}

// Last returns the latest response and transport error. Both are nil before
// the first request.
func (it *Iteration) Last() (*Response, error) {
	return it.last, it.lastErr
}

func (it *Iteration) Metrics() Recorder { return it.exec.opt.Metrics }

func (it *Iteration) Checks() *check.Reporter { return it.exec.opt.Checks }

func (it *Iteration) Logger() *zap.Logger { return it.exec.opt.Logger }

func (it *Iteration) setResult(name string, resp *Response, err error) {
	it.flushPending()
	it.last, it.lastErr, it.lastName = resp, err, name
	it.pending = err != nil
}

// flushPending records the implicit failed check for a transport error no
// check step consumed.
func (it *Iteration) flushPending() {
	if !it.pending {
		return
	}
	it.pending = false
	it.Checks().Group([]check.Result{{Name: it.lastName + " transport", Passed: false}})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
