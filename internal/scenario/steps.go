package scenario

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/extractor"
	"github.com/torosent/stagefire/internal/metrics"
)

// RequestStep sends one templated request. URL, Body and header values may
// contain {{name}} placeholders resolved from the iteration variables.
type RequestStep struct {
	Name       string
	Method     string
	URL        string
	Body       string
	Headers    map[string]string
	Extractors []extractor.Extractor
}

func (s *RequestStep) Run(ctx context.Context, it *Iteration) error {
	method := s.Method
	if method == "" {
		method = http.MethodGet
	}
	req := Request{
		Name:    s.Name,
		Method:  method,
		URL:     it.Vars.Render(s.URL),
		Headers: it.Vars.RenderMap(s.Headers),
	}
	if s.Body != "" {
		req.Body = []byte(it.Vars.Render(s.Body))
	}

	start := it.exec.opt.Now()
	resp, err := it.exec.opt.Transport.Send(ctx, req)
	elapsed := it.exec.opt.Now().Sub(start)

	// A request cut short by the hard stop is not a service failure.
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	rec := it.Metrics()
	_ = rec.Add(metrics.HTTPReqs, 1)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			te = NewTransportError(method, req.URL, err)
			err = te
		}
		latency := elapsed
		if te.Duration > 0 {
			latency = te.Duration
		}
		_ = rec.AddRate(metrics.HTTPReqFailed, true)
		_ = rec.AddTrend(metrics.HTTPReqDuration, millis(latency))
		it.Logger().Debug("request failed",
			zap.String("request", s.Name),
			zap.String("url", req.URL),
			zap.Error(err))
		it.setResult(s.Name, nil, err)
		return nil
	}

	if resp.Duration <= 0 {
		resp.Duration = elapsed
	}
	_ = rec.AddTrend(metrics.HTTPReqDuration, millis(resp.Duration))
	_ = rec.AddRate(metrics.HTTPReqFailed, resp.Status >= 400)
	_ = rec.Add(metrics.DataReceived, float64(len(resp.Body)))

	if len(s.Extractors) > 0 && resp.Status < 400 {
		it.Vars.Merge(extractor.ExtractAll(resp.Body, s.Extractors, it.Logger()))
	}
	it.setResult(s.Name, &resp, nil)
	return nil
}

// CheckStep evaluates predicates against the latest response. Failures are
// recorded and never end the iteration.
type CheckStep struct {
	Name       string
	Predicates []Predicate
}

func (s *CheckStep) Run(_ context.Context, it *Iteration) error {
	resp, err := it.Last()
	failed := err != nil || resp == nil
	it.pending = false

	results := make([]check.Result, len(s.Predicates))
	for i, p := range s.Predicates {
		results[i] = check.Result{Name: p.Name()}
		if !failed {
			results[i].Passed = p.Eval(resp)
		}
	}
	// A check with no predicates still reports a transport failure.
	if len(results) == 0 && failed {
		results = append(results, check.Result{Name: orDefault(s.Name, it.lastName+" transport")})
	}
	it.Checks().Group(results)
	return nil
}

// WaitStep suspends the VU for a fixed or uniformly random duration in
// [Min, Max].
type WaitStep struct {
	Min time.Duration
	Max time.Duration
}

func (s *WaitStep) Run(ctx context.Context, it *Iteration) error {
	return it.exec.opt.Sleep(ctx, s.duration())
}

func (s *WaitStep) duration() time.Duration {
	if s.Max <= s.Min {
		return s.Min
	}
	return s.Min + time.Duration(rand.Int64N(int64(s.Max-s.Min)+1))
}
