// Package httpclient provides the HTTP transports VUs send scenario
// requests through.
//
// Two implementations satisfy [scenario.Transport]:
//   - [Client]: net/http with a connection pool sized for load testing
//   - [FastClient]: valyala/fasthttp for higher request rates
//
// Pick one by name with [New]:
//
//	tr, err := httpclient.New(config.TransportNetHTTP, httpclient.Options{
//		Timeout: 30 * time.Second,
//	})
//
// # Tracing
//
// [NewTraced] wraps either transport so every request becomes an
// OpenTelemetry client span, with W3C trace context injected into the
// request headers when propagation is on.
//
// Both transports report requests that produced no HTTP status as
// *scenario.TransportError, classified by kind (timeout, connection, dns,
// canceled, other). Any status, including 4xx and 5xx, is a response.
package httpclient
