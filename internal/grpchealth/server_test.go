package grpchealth

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
	"worldtime-display/testutil"
)

const bufSize = 1024 * 1024

var start = time.Date(2024, time.January, 10, 20, 0, 0, 0, time.UTC)

type stubSource struct {
	mu       sync.Mutex
	snapshot worldclock.Snapshot
}

func (s *stubSource) Snapshot() worldclock.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *stubSource) set(snapshot worldclock.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

func freshSnapshot(at time.Time) worldclock.Snapshot {
	return worldclock.Snapshot{ComputedAt: at, Entries: []worldclock.Entry{{Name: "Austin", DisplayTime: "14:00", Reference: true}}}
}

// serveBufconn starts s on an in-memory listener and returns a connected
// health client. Shutdown runs at cleanup unless the test already did it.
func serveBufconn(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		if err := testutil.WaitForError(t, serveErr, "Serve to return"); err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestNewServer_NilSource(t *testing.T) {
	if _, err := NewServer("127.0.0.1:0", nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestServer_ServingWhileFresh(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	fake := clock.NewFakeClockAt(start.Add(30 * time.Second))
	s, err := NewServer("", &stubSource{snapshot: freshSnapshot(start)}, WithClock(fake), WithStaleAfter(2*time.Minute))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	client := serveBufconn(t, s)

	for _, service := range []string{"", ServiceName} {
		if got := check(t, client, service); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q) = %v, want SERVING", service, got)
		}
	}
	if got := promtestutil.ToFloat64(metrics.HealthServing); got != 1 {
		t.Fatalf("grpc_health_serving = %v, want 1", got)
	}
}

func TestServer_UnknownService(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	s, err := NewServer("", &stubSource{snapshot: freshSnapshot(start)}, WithClock(clock.NewFakeClockAt(start)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	client := serveBufconn(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "entropy"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("Check(unknown) error = %v, want NotFound", err)
	}
}

func TestServer_NotServingWhenEmpty(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	s, err := NewServer("", &stubSource{}, WithClock(clock.NewFakeClockAt(start)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if got := s.Refresh(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Refresh() = %v, want NOT_SERVING", got)
	}
}

func TestServer_StaleSnapshotFlipsStatus(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	fake := clock.NewFakeClockAt(start)
	source := &stubSource{snapshot: freshSnapshot(start)}
	s, err := NewServer("", source, WithClock(fake), WithStaleAfter(2*time.Minute))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	client := serveBufconn(t, s)

	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("initial status %v, want SERVING", got)
	}

	// The watch loop re-evaluates on each fired check interval.
	fake.Advance(2*time.Minute + time.Second)
	waitForWaiter(t, fake)
	fake.Fire()
	waitForStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	if got := promtestutil.ToFloat64(metrics.HealthServing); got != 0 {
		t.Fatalf("grpc_health_serving = %v, want 0", got)
	}

	// A new snapshot brings it back.
	source.set(freshSnapshot(fake.Now()))
	waitForWaiter(t, fake)
	fake.Fire()
	waitForStatus(t, client, healthpb.HealthCheckResponse_SERVING)
}

func TestServer_ShutdownReportsNotServing(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	fake := clock.NewFakeClockAt(start)
	s, err := NewServer("", &stubSource{snapshot: freshSnapshot(start)}, WithClock(fake))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	_ = serveBufconn(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := promtestutil.ToFloat64(metrics.HealthServing); got != 0 {
		t.Fatalf("grpc_health_serving = %v, want 0 after shutdown", got)
	}

	// The health server ignores updates once shut down.
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check after shutdown: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after shutdown = %v", resp.GetStatus())
	}
}

func waitForWaiter(t *testing.T, fake *clock.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := testutil.WaitForCondition(ctx, func() (int, bool) {
		n := fake.Waiters()
		return n, n > 0
	}); err != nil {
		t.Fatalf("watch loop never waited on the clock: %v", err)
	}
}

func waitForStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := testutil.WaitForCondition(ctx, func() (healthpb.HealthCheckResponse_ServingStatus, bool) {
		got := check(t, client, ServiceName)
		return got, got == want
	}); err != nil {
		t.Fatalf("status never became %v: %v", want, err)
	}
}
