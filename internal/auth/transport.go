package auth

import (
	"context"
	"maps"
	"strings"

	"github.com/torosent/stagefire/internal/scenario"
)

// WithAuth attaches "Authorization: Bearer <token>" to every request that does
// not already set the header. A request whose token cannot be obtained fails
// as a transport error without reaching the target. A nil provider returns t.
func WithAuth(t scenario.Transport, p Provider) scenario.Transport {
	if p == nil {
		return t
	}
	return scenario.TransportFunc(func(ctx context.Context, req scenario.Request) (scenario.Response, error) {
		if hasAuthorization(req.Headers) {
			return t.Send(ctx, req)
		}
		token, err := p.Token(ctx)
		if err != nil {
			return scenario.Response{}, scenario.NewTransportError("auth", req.URL, err)
		}
		headers := make(map[string]string, len(req.Headers)+1)
		maps.Copy(headers, req.Headers)
		headers["Authorization"] = "Bearer " + token
		req.Headers = headers
		return t.Send(ctx, req)
	})
}

func hasAuthorization(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, "Authorization") {
			return true
		}
	}
	return false
}
