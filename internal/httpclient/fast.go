package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/torosent/stagefire/internal/scenario"
)

const defaultFastTimeout = 30 * time.Second

// FastClient sends scenario requests through fasthttp. Request and response
// objects come from fasthttp's pools; bodies are copied before release.
type FastClient struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewFastClient(opt Options) *FastClient {
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = defaultFastTimeout
	}
	maxConns := opt.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 1000
	}
	client := &fasthttp.Client{
		MaxConnsPerHost:        maxConns,
		MaxIdleConnDuration:    90 * time.Second,
		ReadTimeout:            timeout,
		WriteTimeout:           timeout,
		DisablePathNormalizing: true,
	}
	if opt.Insecure {
		client.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed targets
	}
	return &FastClient{client: client, timeout: timeout}
}

func (c *FastClient) Send(ctx context.Context, req scenario.Request) (scenario.Response, error) {
	if err := ctx.Err(); err != nil {
		return scenario.Response{}, scenario.NewTransportError(req.Method, req.URL, err)
	}

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL)
	freq.Header.SetMethod(req.Method)
	h := http.Header{}
	if err := setHeaders(h, req.Headers); err != nil {
		return scenario.Response{}, &scenario.TransportError{Op: req.Method, URL: req.URL, Kind: scenario.KindOther, Err: err}
	}
	for k, vs := range h {
		for _, v := range vs {
			freq.Header.Set(k, v)
		}
	}
	if len(req.Body) > 0 {
		freq.SetBody(req.Body)
	}

	// fasthttp has no context support; the earlier of the client timeout
	// and the context deadline bounds the call.
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.client.DoDeadline(freq, fresp, deadline); err != nil {
		return scenario.Response{}, &scenario.TransportError{
			Op:       req.Method,
			URL:      req.URL,
			Kind:     classifyFast(err),
			Err:      err,
			Duration: time.Since(start),
		}
	}
	elapsed := time.Since(start)

	header := http.Header{}
	fresp.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return scenario.Response{
		Status:   fresp.StatusCode(),
		Header:   header,
		Body:     append([]byte(nil), fresp.Body()...),
		Duration: elapsed,
	}, nil
}

func classifyFast(err error) scenario.ErrorKind {
	switch {
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, fasthttp.ErrDialTimeout):
		return scenario.KindTimeout
	case errors.Is(err, fasthttp.ErrNoFreeConns), errors.Is(err, fasthttp.ErrConnectionClosed):
		return scenario.KindConnection
	default:
		return scenario.Classify(err)
	}
}
