package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// markerHandler returns an http.Handler that writes a specific marker string.
// Used in routing tests to verify which handler received the request.
func markerHandler(marker string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", marker)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, marker)
	})
}

func newTestTransport(t *testing.T) *HTTPTransport {
	t.Helper()
	logger := slog.Default()
	handler := newTestHandler(&fakeGateway{tools: []string{"read_file"}})

	return NewHTTPTransport(handler,
		WithAddr(":0"),
		WithLogger(logger),
		WithExtraHandler(markerHandler("admin")),
	)
}

func TestRouting_AdminRoute(t *testing.T) {
	transport := newTestTransport(t)
	mux := http.NewServeMux()
	mux.Handle("/admin/api/", transport.extraHandler)
	mux.Handle("/health", healthHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/admin/api/v1/system/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Handler"); got != "admin" {
		t.Errorf("GET /admin/api/v1/system/info reached handler %q, want %q", got, "admin")
	}
}

func TestRouting_HealthRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler())
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRouting_ToolsListRoute(t *testing.T) {
	handler := newTestHandler(&fakeGateway{tools: []string{"read_file", "list_dir"}})
	mux := http.NewServeMux()
	handler.Routes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/tools/list?session_id=sess-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /tools/list status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestTransport_StartAndShutdown(t *testing.T) {
	logger := slog.Default()
	handler := newTestHandler(&fakeGateway{})

	transport := NewHTTPTransport(handler,
		WithAddr("127.0.0.1:0"),
		WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5 seconds after cancel")
	}
}
