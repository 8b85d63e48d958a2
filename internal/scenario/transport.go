package scenario

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Request is one fully rendered HTTP exchange to perform.
type Request struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is what a Transport returns for a completed exchange. Any HTTP
// status counts as completed; only exchanges that produced no status are
// errors.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

// Transport performs requests. Implementations must be safe for concurrent
// use and must return a *TransportError whenever no response was produced.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

func (f TransportFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindDNS        ErrorKind = "dns"
	KindCanceled   ErrorKind = "canceled"
	KindOther      ErrorKind = "other"
)

// TransportError reports a request that produced no HTTP status.
type TransportError struct {
	Op   string
	URL  string
	Kind ErrorKind
	Err  error

	// Duration is the time spent in the failed attempt, 0 when unknown.
	Duration time.Duration
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err, classifying it unless it already is a
// *TransportError.
func NewTransportError(op, url string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Op: op, URL: url, Kind: Classify(err), Err: err}
}

// Classify maps an error returned by a network client to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	return KindOther
}
