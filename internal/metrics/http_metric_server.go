package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"worldtime-display/internal/logger"
)

const baseUrlV1 = "/api/v1"

var log = logger.New("metrics")

// Server provides an HTTP server for exposing Prometheus metrics via the /api/v1/metrics endpoint.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a metrics HTTP server that will listen on addr
// ("host:port", e.g. "127.0.0.1:9464" or ":9464").
//
// The server exposes two endpoints:
//   - GET /api/v1/metrics - Prometheus metrics endpoint (uses DefaultGatherer)
//   - GET /api/v1/health - Simple health check
func NewServer(addr string) *Server {
	return NewServerWithGatherer(addr, prometheus.DefaultGatherer)
}

// NewServerWithGatherer is NewServer with an explicit gatherer, used when the
// metrics package has been pointed at a private registry.
func NewServerWithGatherer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()

	mux.Handle(baseUrlV1+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc(baseUrlV1+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("health handler write error")
		}
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start begins serving HTTP requests on the configured address.
// This method blocks until the server is shut down or encounters a fatal error.
// http.ErrServerClosed is not returned; it indicates a successful shutdown.
func (s *Server) Start() error {
	if s.server == nil {
		return errors.New("metrics server not initialized")
	}

	if err := validateAddress(s.addr); err != nil {
		return fmt.Errorf("metrics: invalid address %q: %w", s.addr, err)
	}

	log.Info().Str("addr", s.addr).Msg("starting HTTP server")

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: HTTP server error: %w", err)
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

// Shutdown gracefully stops the HTTP server, allowing active connections to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown error: %w", err)
	}

	log.Debug().Msg("HTTP server shutdown complete")
	return nil
}

// Handler exposes the configured mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// validateAddress checks if the given address is valid and can be resolved.
func validateAddress(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid host:port format: %w", err)
	}

	if port == "" {
		return errors.New("port is required")
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return nil
	}

	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("cannot resolve host %q: %w", host, err)
	}

	return nil
}
