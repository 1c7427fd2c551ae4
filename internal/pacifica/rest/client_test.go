package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGetSendsAPIKeyAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/positions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(APIKeyHeader) != "k1" {
			t.Errorf("expected api key header, got %q", r.Header.Get(APIKeyHeader))
		}
		if r.URL.Query().Get("account") != "acct" {
			t.Errorf("expected account query, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer server.Close()

	client := New(server.URL+"/api/v1/", "k1", time.Second, zap.NewNop())
	var out struct {
		Success bool `json:"success"`
	}
	if err := client.Get(context.Background(), "/positions", url.Values{"account": {"acct"}}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success")
	}
}

func TestPostReturnsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type")
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"Invalid signature"}`))
	}))
	defer server.Close()

	client := New(server.URL, "", time.Second, zap.NewNop())
	err := client.Post(context.Background(), "/account/leverage", map[string]any{"symbol": "BTC"}, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusBadRequest || httpErr.Body != `{"success":false,"error":"Invalid signature"}` {
		t.Fatalf("unexpected error: %+v", httpErr)
	}
}
