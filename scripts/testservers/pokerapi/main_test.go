package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoutes(t *testing.T) {
	srv := httptest.NewServer((&server{}).routes())
	defer srv.Close()

	tests := []struct {
		method, path, body string
		wantStatus         int
		wantBody           string
	}{
		{http.MethodGet, "/health", "", http.StatusOK, `"status":"ok"`},
		{http.MethodPost, "/api/evaluate", `{"holeCards":["HA","HK"]}`, http.StatusOK, `"handRank"`},
		{http.MethodPost, "/api/compare", `{}`, http.StatusOK, `"winner"`},
		{http.MethodPost, "/api/probability", `{"simulations":100}`, http.StatusOK, `"simulations":100`},
		{http.MethodPost, "/api/evaluate", `not json`, http.StatusBadRequest, `"success":false`},
		{http.MethodGet, "/api/evaluate", "", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.wantStatus || !strings.Contains(buf.String(), tt.wantBody) {
			t.Errorf("%s %s = %d %s", tt.method, tt.path, resp.StatusCode, buf.String())
		}
	}
}

func TestInjectedFailures(t *testing.T) {
	srv := httptest.NewServer((&server{errorRate: 1}).routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/evaluate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}
