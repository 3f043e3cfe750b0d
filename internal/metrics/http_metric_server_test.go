package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewServer_ValidAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr string
	}{
		{"port only", ":9090"},
		{"localhost with port", "localhost:9090"},
		{"IPv4 wildcard", "0.0.0.0:9090"},
		{"specific IP", "127.0.0.1:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := NewServer(tt.addr)

			if server == nil {
				t.Fatal("NewServer returned nil")
			}
			if server.addr != tt.addr {
				t.Errorf("server.addr = %q, want %q", server.addr, tt.addr)
			}
			if server.server.ReadHeaderTimeout != 5*time.Second {
				t.Errorf("ReadHeaderTimeout = %v, want 5s", server.server.ReadHeaderTimeout)
			}
			if server.server.IdleTimeout != 60*time.Second {
				t.Errorf("IdleTimeout = %v, want 60s", server.server.IdleTimeout)
			}
		})
	}
}

func TestServer_Endpoints(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "sample_gauge", Help: "sample"})
	reg.MustRegister(gauge)
	gauge.Set(3)

	server := NewServerWithGatherer("127.0.0.1:0", reg)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q, want 200 OK", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sample_gauge 3") {
		t.Fatalf("metrics body missing sample gauge:\n%s", body)
	}
}

func TestServer_StartRejectsInvalidAddress(t *testing.T) {
	t.Parallel()

	tests := []string{"", "no-port", "127.0.0.1:"}
	for _, addr := range tests {
		if err := NewServer(addr).Start(); err == nil {
			t.Errorf("Start(%q) expected error", addr)
		}
	}
}

func TestServer_ShutdownNilServer(t *testing.T) {
	t.Parallel()

	s := &Server{}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on empty server: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("Start on empty server should fail")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	t.Parallel()

	server := NewServer("127.0.0.1:0")
	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	// Give ListenAndServe a moment; Shutdown before or after Serve both end Start cleanly.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error after shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
