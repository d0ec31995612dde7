package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/internal/observability"
)

func dialHealth(t *testing.T, h *Health, collector *observability.ConsoleCollector) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServer(h, collector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, server, lis, nil) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, "req-1")
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthReportsSubsystems(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewConsoleCollector(reg)
	if err != nil {
		t.Fatalf("NewConsoleCollector: %v", err)
	}
	h := NewHealth()
	h.Set(SubsystemSpatial, true)
	h.Set(TileSubsystem("base"), true)
	h.Set(TileSubsystem("weather"), false)
	client := dialHealth(t, h, collector)

	if got := check(t, client, SubsystemSpatial); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("spatial = %v", got)
	}
	if got := check(t, client, "tiles.weather"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("tiles.weather = %v", got)
	}
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("overall = %v with a failing layer", got)
	}

	h.Set(TileSubsystem("weather"), true)
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall = %v after recovery", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "tiles.moon"})
	if grpcstatus.Code(err) != codes.NotFound {
		t.Fatalf("unknown subsystem err = %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 4 {
		t.Fatalf("recorded OK checks = %v, want 4", got)
	}
	if got := h.Subsystems(); len(got) != 3 || got[0] != SubsystemSpatial {
		t.Fatalf("subsystems = %v", got)
	}
}

func TestRequestIDInterceptorPropagatesIncomingID(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(logging.Noop())
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "abc-123"))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	var seen string
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "abc-123" {
		t.Fatalf("request id = %q", seen)
	}

	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if seen == "" || seen == "abc-123" {
		t.Fatalf("generated request id = %q", seen)
	}
}
