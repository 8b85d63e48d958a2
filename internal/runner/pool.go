package runner

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// vu is one running virtual user. cancel signals it to stop after its
// in-flight iteration.
type vu struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// vuPool owns every VU goroutine of one scheduler run.
type vuPool struct {
	iterate IterationFunc
	arrival arrivalController
	logger  *zap.Logger
	maxVUs  int

	// stopCtx parents every VU's stop signal; iterCtx is what iterations
	// run on and is only cancelled by the hard stop.
	stopCtx context.Context
	iterCtx context.Context

	mu      sync.Mutex
	active  []*vu // not yet signalled, oldest first
	live    int   // goroutines still running, draining ones included
	nextID  uint64
	started int
	peak    int
	iters   int64

	wg sync.WaitGroup
}

func newVUPool(stopCtx, iterCtx context.Context, opt Options, arrival arrivalController) *vuPool {
	return &vuPool{
		iterate: opt.Iteration,
		arrival: arrival,
		logger:  opt.Logger,
		maxVUs:  opt.MaxVUs,
		stopCtx: stopCtx,
		iterCtx: iterCtx,
	}
}

// scale moves the active VU count towards desired and returns the new count.
func (p *vuPool) scale(desired int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.active) < desired && p.live < p.maxVUs {
		p.spawnLocked()
	}
	for len(p.active) > desired {
		last := p.active[len(p.active)-1]
		p.active = p.active[:len(p.active)-1]
		last.cancel()
	}
	return len(p.active)
}

func (p *vuPool) spawnLocked() {
	p.nextID++
	ctx, cancel := context.WithCancel(p.stopCtx)
	v := &vu{id: p.nextID, ctx: ctx, cancel: cancel}
	p.active = append(p.active, v)
	p.live++
	p.started++
	if p.live > p.peak {
		p.peak = p.live
	}
	p.wg.Add(1)
	go p.run(v)
}

func (p *vuPool) run(v *vu) {
	defer p.wg.Done()
	defer p.exited(v)

	var n int64
	for {
		if v.ctx.Err() != nil || p.iterCtx.Err() != nil {
			return
		}
		if p.arrival != nil {
			if err := p.arrival.Wait(v.ctx); err != nil {
				return
			}
		}
		if err := p.iterate(p.iterCtx, v.id, n); err != nil && p.iterCtx.Err() == nil {
			p.logger.Debug("iteration returned error", zap.Uint64("vu", v.id), zap.Int64("iteration", n), zap.Error(err))
		}
		n++
		p.mu.Lock()
		p.iters++
		p.mu.Unlock()
	}
}

func (p *vuPool) exited(v *vu) {
	v.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live--
	for i, a := range p.active {
		if a == v {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
}

// stopAll signals every VU.
func (p *vuPool) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.active {
		v.cancel()
	}
	p.active = nil
}

func (p *vuPool) wait() {
	p.wg.Wait()
}

func (p *vuPool) counts() (active, live int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active), p.live
}

func (p *vuPool) stats() (started, peak int, iterations int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started, p.peak, p.iters
}
