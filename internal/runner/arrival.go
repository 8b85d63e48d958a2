package runner

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/stagefire/internal/config"
)

// arrivalController gates iteration starts across every VU.
type arrivalController interface {
	Wait(ctx context.Context) error
}

// newArrivalController returns nil when iterations are unpaced.
func newArrivalController(opt Options) arrivalController {
	if opt.IterationRate <= 0 {
		return nil
	}
	switch opt.ArrivalModel {
	case config.ArrivalModelPoisson:
		sampler := opt.PoissonSampler
		if sampler == nil {
			sampler = rand.New(rand.NewPCG(uint64(opt.RandomSeed), 0)).ExpFloat64
		}
		return &poissonArrival{rate: opt.IterationRate, sample: sampler}
	default:
		return &uniformArrival{limiter: opt.LimiterFactory(opt.IterationRate)}
	}
}

func burstFor(rps float64) int {
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return burst
}

// uniformArrival delegates pacing to a rate.Limiter (uniform spacing).
type uniformArrival struct {
	limiter *rate.Limiter
}

func (u *uniformArrival) Wait(ctx context.Context) error {
	if u == nil || u.limiter == nil {
		return nil
	}
	return u.limiter.Wait(ctx)
}

// poissonArrival samples exponential inter-arrival times. Waits are
// serialized so concurrent VUs see one Poisson process, not one each. The
// sampler is only called under mu.
type poissonArrival struct {
	mu     sync.Mutex
	rate   float64
	sample func() float64
	next   time.Time
}

func (p *poissonArrival) Wait(ctx context.Context) error {
	delay := p.reserve(time.Now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve claims the next arrival slot and returns how long to wait for it.
func (p *poissonArrival) reserve(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	gap := p.nextDelayLocked()
	if p.next.Before(now) {
		p.next = now
	}
	p.next = p.next.Add(gap)
	return p.next.Sub(now)
}

func (p *poissonArrival) nextDelayLocked() time.Duration {
	if p.rate <= 0 || p.sample == nil {
		return 0
	}
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
