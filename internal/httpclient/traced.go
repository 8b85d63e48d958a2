package httpclient

import (
	"context"

	"github.com/torosent/stagefire/internal/scenario"
	"github.com/torosent/stagefire/internal/tracing"
)

// Traced wraps a transport with one client span per request and, when the
// provider propagates, W3C trace headers on the outgoing request.
type Traced struct {
	inner    scenario.Transport
	provider *tracing.Provider
}

// NewTraced returns inner unchanged when the provider neither records spans
// nor propagates context.
func NewTraced(inner scenario.Transport, provider *tracing.Provider) scenario.Transport {
	if !provider.Enabled() && !provider.ShouldPropagate() {
		return inner
	}
	return &Traced{inner: inner, provider: provider}
}

func (t *Traced) Send(ctx context.Context, req scenario.Request) (scenario.Response, error) {
	ctx, span := t.provider.StartRequestSpan(ctx, req.Name, req.Method, req.URL)
	if t.provider.ShouldPropagate() {
		req.Headers = t.provider.Inject(ctx, req.Headers)
	}
	resp, err := t.inner.Send(ctx, req)
	tracing.EndRequestSpan(span, resp.Status, err)
	return resp, err
}
