package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/scenario"
)

// Options tune the connection pool shared by every VU.
type Options struct {
	Timeout  time.Duration
	Insecure bool
	// MaxConnsPerHost caps open connections per target host; 0 means the
	// client default.
	MaxConnsPerHost int
}

// New returns the transport named by kind.
func New(kind config.TransportKind, opt Options) (scenario.Transport, error) {
	switch kind {
	case "", config.TransportNetHTTP:
		return NewClient(opt), nil
	case config.TransportFastHTTP:
		return NewFastClient(opt), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// Client sends scenario requests through net/http.
type Client struct {
	http *http.Client
}

func NewClient(opt Options) *Client {
	return &Client{http: NewHTTPClient(opt)}
}

// NewHTTPClient builds an *http.Client tuned for load testing: large idle
// pools and keep-alives so VUs reuse connections.
func NewHTTPClient(opt Options) *http.Client {
	timeout := opt.Timeout
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       opt.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opt.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed targets
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func (c *Client) Send(ctx context.Context, req scenario.Request) (scenario.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return scenario.Response{}, &scenario.TransportError{Op: req.Method, URL: req.URL, Kind: scenario.KindOther, Err: err}
	}
	if err := setHeaders(httpReq.Header, req.Headers); err != nil {
		return scenario.Response{}, &scenario.TransportError{Op: req.Method, URL: req.URL, Kind: scenario.KindOther, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		te := scenario.NewTransportError(req.Method, req.URL, err)
		te.Duration = time.Since(start)
		return scenario.Response{}, te
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return scenario.Response{}, scenario.NewTransportError("read", req.URL, err)
	}
	return scenario.Response{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     data,
		Duration: time.Since(start),
	}, nil
}

// CloseIdleConnections releases pooled connections after a run.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func setHeaders(dst http.Header, headers map[string]string) error {
	for key, value := range headers {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" || strings.ContainsAny(trimmed, "\r\n") {
			return fmt.Errorf("invalid header key %q", key)
		}
		if strings.ContainsAny(value, "\r\n") {
			return fmt.Errorf("invalid header value for %s", trimmed)
		}
		dst.Set(trimmed, value)
	}
	return nil
}
