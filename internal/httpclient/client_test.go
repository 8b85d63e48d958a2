package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/scenario"
	"github.com/torosent/stagefire/internal/tracing"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("X-Traceparent", r.Header.Get("Traceparent"))
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusInternalServerError)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func transports(t *testing.T) map[string]scenario.Transport {
	t.Helper()
	out := map[string]scenario.Transport{}
	for _, kind := range []config.TransportKind{config.TransportNetHTTP, config.TransportFastHTTP} {
		tr, err := New(kind, Options{Timeout: 50 * time.Millisecond})
		if err != nil {
			t.Fatalf("New(%s) error = %v", kind, err)
		}
		out[string(kind)] = tr
	}
	return out
}

func TestTransportsSendRequests(t *testing.T) {
	srv := echoServer(t)
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			resp, err := tr.Send(context.Background(), scenario.Request{
				Method:  http.MethodPost,
				URL:     srv.URL + "/api/evaluate",
				Headers: map[string]string{"content-type": "application/json"},
				Body:    []byte(`{"holeCards":["HA","HK"]}`),
			})
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if resp.Status != http.StatusOK {
				t.Errorf("status = %d", resp.Status)
			}
			if string(resp.Body) != `{"holeCards":["HA","HK"]}` {
				t.Errorf("body = %q", resp.Body)
			}
			if resp.Header.Get("X-Method") != "POST" || resp.Header.Get("X-Content-Type") != "application/json" {
				t.Errorf("headers = %v", resp.Header)
			}
			if resp.Duration <= 0 {
				t.Error("duration not measured")
			}
		})
	}
}

func TestServerErrorsAreResponses(t *testing.T) {
	srv := echoServer(t)
	for name, tr := range transports(t) {
		resp, err := tr.Send(context.Background(), scenario.Request{Method: "GET", URL: srv.URL + "/fail"})
		if err != nil {
			t.Fatalf("%s: Send() error = %v", name, err)
		}
		if resp.Status != http.StatusInternalServerError {
			t.Errorf("%s: status = %d", name, resp.Status)
		}
	}
}

func TestTransportErrorsAreClassified(t *testing.T) {
	srv := echoServer(t)
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			_, err := tr.Send(context.Background(), scenario.Request{Method: "GET", URL: closedURL})
			var te *scenario.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Send() error = %v, want TransportError", err)
			}
			if te.Kind != scenario.KindConnection {
				t.Errorf("refused kind = %s, want connection", te.Kind)
			}

			_, err = tr.Send(context.Background(), scenario.Request{Method: "GET", URL: srv.URL + "/slow"})
			if !errors.As(err, &te) || te.Kind != scenario.KindTimeout {
				t.Errorf("slow error = %v, want timeout", err)
			}
		})
	}
}

func TestClientHonoursCancellation(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, tr := range transports(t) {
		_, err := tr.Send(ctx, scenario.Request{Method: "GET", URL: srv.URL})
		if scenario.Classify(err) != scenario.KindCanceled {
			t.Errorf("%s: error = %v, want canceled", name, err)
		}
	}
}

func TestRejectsHeaderInjection(t *testing.T) {
	srv := echoServer(t)
	for name, tr := range transports(t) {
		_, err := tr.Send(context.Background(), scenario.Request{
			Method:  "GET",
			URL:     srv.URL,
			Headers: map[string]string{"X-Evil": "a\r\nInjected: yes"},
		})
		if err == nil {
			t.Errorf("%s: header with CRLF accepted", name)
		}
	}
}

func TestNewUnknownTransport(t *testing.T) {
	if _, err := New("carrier-pigeon", Options{}); err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("New() error = %v", err)
	}
}

func TestTracedTransportPropagates(t *testing.T) {
	srv := echoServer(t)
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := NewTraced(NewClient(Options{Timeout: time.Second}), tracing.NewProvider(tp, true))
	headers := map[string]string{"Accept": "application/json"}
	resp, err := tr.Send(context.Background(), scenario.Request{Name: "health", Method: "GET", URL: srv.URL, Headers: headers})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Header.Get("X-Traceparent"), "00-") {
		t.Errorf("traceparent not propagated: %q", resp.Header.Get("X-Traceparent"))
	}
	if len(headers) != 1 {
		t.Error("traced transport modified the step's headers")
	}
	if spans := exporter.GetSpans(); len(spans) != 1 || spans[0].Name != "GET health" {
		t.Errorf("spans = %v", spans)
	}
}

func TestNewTracedDisabledIsPassThrough(t *testing.T) {
	inner := NewClient(Options{})
	if got := NewTraced(inner, nil); got != scenario.Transport(inner) {
		t.Error("NewTraced(nil) should return the inner transport")
	}
}
