// Package grpchealth serves the standard grpc.health.v1 service for the
// clock. A load balancer or orchestrator checking it sees NOT_SERVING while
// the published snapshot is empty or older than the staleness limit.
package grpchealth

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/logger"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "worldclock"

const (
	defaultStaleAfter    = 2 * time.Minute
	defaultCheckInterval = 5 * time.Second
)

var log = logger.New("grpchealth")

// Source supplies the snapshot whose age decides the status.
type Source interface {
	Snapshot() worldclock.Snapshot
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source used to age snapshots.
func WithClock(clockSource clock.Clock) Option {
	return func(s *Server) {
		s.clock = clock.OrReal(clockSource)
	}
}

// WithStaleAfter sets the snapshot age beyond which the service is
// NOT_SERVING. Non-positive values keep the default.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithCheckInterval sets how often the snapshot age is re-evaluated while
// serving. Non-positive values keep the default.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// Server wraps a grpc.Server carrying only the health service.
type Server struct {
	addr          string
	source        Source
	clock         clock.Clock
	staleAfter    time.Duration
	checkInterval time.Duration

	health     *health.Server
	grpcServer *grpc.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	serving bool
	known   bool
}

// NewServer builds the server and evaluates the current snapshot once.
func NewServer(addr string, source Source, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, errors.New("grpchealth: nil snapshot source")
	}

	s := &Server{
		addr:          addr,
		source:        source,
		clock:         clock.RealClock{},
		staleAfter:    defaultStaleAfter,
		checkInterval: defaultCheckInterval,
		health:        health.NewServer(),
		grpcServer:    grpc.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.Refresh()
	return s, nil
}

// Refresh recomputes the serving status from the snapshot age and returns
// it. Watchers are notified on every change.
func (s *Server) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	snapshot := s.source.Snapshot()
	age := s.clock.Now().Sub(snapshot.ComputedAt)
	serving := len(snapshot.Entries) > 0 && !snapshot.ComputedAt.IsZero() && age <= s.staleAfter

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.mu.Lock()
	changed := !s.known || s.serving != serving
	s.serving, s.known = serving, true
	s.mu.Unlock()

	if changed {
		log.Info().Str("status", status.String()).Dur("age", age).Msg("health status changed")
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	metrics.SetHealthServing(serving)
	return status
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	return s.Serve(lis)
}

// Serve serves on lis until Shutdown, re-evaluating the status every check
// interval. It returns nil after a shutdown.
func (s *Server) Serve(lis net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	go s.watch(ctx)

	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.checkInterval):
			s.Refresh()
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher and stops the server,
// forcing it closed when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.health.Shutdown()
	metrics.SetHealthServing(false)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}
