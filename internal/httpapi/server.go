// Package httpapi serves the current clock snapshot over a small JSON API so
// other processes (status bars, dashboards, home automation) can show the same
// times as the display.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/logger"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
)

const (
	defaultAddress          = "127.0.0.1:8081"
	defaultShutdownTimeout  = 5 * time.Second
	defaultIdleTimeout      = 30 * time.Second
	defaultReadWriteTimeout = 5 * time.Second
	defaultRateLimitRPS     = 10
	defaultRateLimitBurst   = 20
	defaultStaleAfter       = 2 * time.Minute
	baseUrlV1               = "/api/v1"
)

var log = logger.New("httpapi")

// Source provides the snapshot being shown. *worldclock.Model satisfies it.
type Source interface {
	Snapshot() worldclock.Snapshot
}

// Option applies an optional configuration to a Server during construction.
type Option func(*Server)

// WithClock injects the time source used by the rate limiter and readiness.
func WithClock(clockSource clock.Clock) Option {
	return func(s *Server) {
		s.clock = clockSource
	}
}

// WithAllowPublic permits binding to non-loopback addresses.
func WithAllowPublic(allow bool) Option {
	return func(s *Server) {
		s.allowPublic = allow
	}
}

// WithRateLimit sets the sustained request rate and burst for the clock
// endpoints. Non-positive values keep the defaults.
func WithRateLimit(rps, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.rateLimitRPS = rps
		}
		if burst > 0 {
			s.rateLimitBurst = burst
		}
	}
}

// WithStaleAfter sets how old the snapshot may be before /ready reports 503.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// Server exposes the snapshot over HTTP. The endpoints are:
//   - GET /api/v1/clocks -- the whole snapshot as JSON.
//   - GET /api/v1/clocks/{name} -- a single location, 404 if unknown.
//   - GET /api/v1/health -- location count and last computation, plain text.
//   - GET /api/v1/ready -- 200 while the snapshot is fresh, 503 otherwise.
//
// The clock endpoints are rate limited.
type Server struct {
	source          Source
	server          *http.Server
	clock           clock.Clock
	limiter         *rate.Limiter
	allowPublic     bool
	rateLimitRPS    int
	rateLimitBurst  int
	staleAfter      time.Duration
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// NewServer constructs a Server bound to addr, which defaults to
// 127.0.0.1:8081. Unless WithAllowPublic(true) is given, the address must be
// a loopback interface.
func NewServer(addr string, source Source, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, errors.New("httpapi: snapshot source is nil")
	}

	s := &Server{
		source:          source,
		clock:           clock.RealClock{},
		rateLimitRPS:    defaultRateLimitRPS,
		rateLimitBurst:  defaultRateLimitBurst,
		staleAfter:      defaultStaleAfter,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)

	canonicalAddr, err := enforceLoopbackAddr(addr, s.allowPublic)
	if err != nil {
		return nil, err
	}

	s.limiter = rate.NewLimiter(rate.Limit(s.rateLimitRPS), s.rateLimitBurst)
	log.Debug().Int("rps", s.rateLimitRPS).Int("burst", s.rateLimitBurst).Msg("rate limiter configured")

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+baseUrlV1+"/clocks", s.instrument(s.handleClocks))
	mux.HandleFunc("GET "+baseUrlV1+"/clocks/{name}", s.instrument(s.handleClock))
	mux.HandleFunc("GET "+baseUrlV1+"/health", s.handleHealth)
	mux.HandleFunc("GET "+baseUrlV1+"/ready", s.handleReady)

	s.server = &http.Server{
		Addr:         canonicalAddr,
		Handler:      mux,
		ReadTimeout:  defaultReadWriteTimeout,
		WriteTimeout: defaultReadWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	return s, nil
}

// Start begins listening for HTTP requests. It returns an error if the socket
// cannot be bound; serving continues in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("serve error")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("listening")
	return nil
}

// Addr reports the bound address once Start succeeded, otherwise the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Handler exposes the configured mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Shutdown gracefully stops the HTTP server. A nil context waits up to the
// default shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
	}

	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(response http.ResponseWriter, request *http.Request) {
		start := s.clock.Now()
		recorder := &statusRecorder{ResponseWriter: response, status: http.StatusOK}
		defer func() {
			metrics.RecordAPIRequest(recorder.status, s.clock.Now().Sub(start))
		}()

		if !s.allow(recorder) {
			return
		}
		next(recorder, request)
	}
}

// allow consumes one limiter token at the injected clock's now, or writes a
// 429 with Retry-After.
func (s *Server) allow(response http.ResponseWriter) bool {
	now := s.clock.Now()
	reservation := s.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		s.reject(response, time.Second)
		return false
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		s.reject(response, delay)
		return false
	}
	return true
}

func (s *Server) reject(response http.ResponseWriter, wait time.Duration) {
	metrics.RecordAPIRateLimited()
	setNoStoreHeaders(response)
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	response.Header().Set("Retry-After", strconv.Itoa(seconds))
	http.Error(response, "rate limit exceeded", http.StatusTooManyRequests)
}

func (s *Server) handleClocks(response http.ResponseWriter, _ *http.Request) {
	writeJSON(response, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleClock(response http.ResponseWriter, request *http.Request) {
	name := strings.TrimSpace(request.PathValue("name"))
	snapshot := s.source.Snapshot()
	for _, entry := range snapshot.Entries {
		if strings.EqualFold(entry.Name, name) {
			writeJSON(response, http.StatusOK, entry)
			return
		}
	}
	setNoStoreHeaders(response)
	http.Error(response, fmt.Sprintf("unknown location %q", name), http.StatusNotFound)
}

func (s *Server) handleHealth(response http.ResponseWriter, _ *http.Request) {
	snapshot := s.source.Snapshot()

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(response, "locations=%d\ncomputed_at=%s\n",
		len(snapshot.Entries), snapshot.ComputedAt.UTC().Format(time.RFC3339))
}

func (s *Server) handleReady(response http.ResponseWriter, _ *http.Request) {
	snapshot := s.source.Snapshot()
	age := s.clock.Now().Sub(snapshot.ComputedAt)

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.Header().Set("X-Snapshot-Age", strconv.Itoa(int(age.Seconds())))

	if len(snapshot.Entries) == 0 || snapshot.ComputedAt.IsZero() || age > s.staleAfter {
		response.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(response, "ready=false\n")
		return
	}

	response.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(response, "ready=true\n")
}

func writeJSON(response http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("encode response")
		http.Error(response, "encoding failed", http.StatusInternalServerError)
		return
	}
	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if _, err := response.Write(payload); err != nil {
		log.Warn().Err(err).Msg("write failed")
	}
}

// setNoStoreHeaders prevents caching of minute-precision responses.
func setNoStoreHeaders(response http.ResponseWriter) {
	response.Header().Set("Cache-Control", "no-store")
	response.Header().Set("Pragma", "no-cache")
}

// enforceLoopbackAddr validates that addr resolves to a loopback interface.
// When allowPublic is true, non-loopback addresses are permitted with a
// warning log. Returns the canonical host:port string or an error.
func enforceLoopbackAddr(addr string, allowPublic bool) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = defaultAddress
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("httpapi: invalid address %q: %w", addr, err)
	}
	if host == "" {
		return "", errors.New("httpapi: host must be specified")
	}
	if strings.EqualFold(host, "localhost") {
		return net.JoinHostPort("localhost", port), nil
	}

	ip := net.ParseIP(host)
	switch {
	case ip == nil && allowPublic:
		log.Warn().Str("addr", addr).Msg("API_ALLOW_PUBLIC=true, binding to non-loopback host")
		return addr, nil
	case ip == nil:
		return "", fmt.Errorf("httpapi: host %q is not loopback", host)
	case !ip.IsLoopback() && allowPublic:
		log.Warn().Str("addr", addr).Msg("API_ALLOW_PUBLIC=true, binding to non-loopback host")
		return net.JoinHostPort(ip.String(), port), nil
	case !ip.IsLoopback():
		return "", fmt.Errorf("httpapi: host %q must be loopback", host)
	}
	return net.JoinHostPort(ip.String(), port), nil
}
