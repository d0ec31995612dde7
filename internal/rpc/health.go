// Package rpc hosts the console's gRPC surface: the standard health
// service reporting per-subsystem status, instrumented with otelgrpc and
// the console's metrics and request-id interceptors.
package rpc

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/internal/observability"
)

// SubsystemSpatial is the health service name of the spatial runtime.
const SubsystemSpatial = "spatial"

// TileSubsystem returns the health service name of an imagery layer.
func TileSubsystem(layer string) string { return "tiles." + layer }

// Health tracks subsystem status. The overall ("") status is SERVING only
// while every registered subsystem is.
type Health struct {
	srv *health.Server

	mu         sync.Mutex
	subsystems map[string]bool
}

// NewHealth returns a health registry with no subsystems.
func NewHealth() *Health {
	return &Health{srv: health.NewServer(), subsystems: make(map[string]bool)}
}

// Set records a subsystem's status.
func (h *Health) Set(subsystem string, serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.subsystems[subsystem]; ok && prev == serving {
		return
	}
	h.subsystems[subsystem] = serving
	h.srv.SetServingStatus(subsystem, status(serving))

	overall := true
	for _, ok := range h.subsystems {
		overall = overall && ok
	}
	h.srv.SetServingStatus("", status(overall))
}

// Serving reports a subsystem's last recorded status.
func (h *Health) Serving(subsystem string) (serving, known bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	serving, known = h.subsystems[subsystem]
	return serving, known
}

// Subsystems lists registered subsystems in name order.
func (h *Health) Subsystems() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subsystems))
	for name := range h.subsystems {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Shutdown flips every status to NOT_SERVING ahead of a stop.
func (h *Health) Shutdown() { h.srv.Shutdown() }

func status(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// NewServer builds a gRPC server exposing h. collector may be nil.
func NewServer(h *Health, collector *observability.ConsoleCollector, log logging.Logger) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	healthpb.RegisterHealthServer(server, h.srv)
	return server
}

// Serve runs server on lis until ctx is cancelled, then stops gracefully.
func Serve(ctx context.Context, server *grpc.Server, lis net.Listener, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	errc := make(chan error, 1)
	go func() { errc <- server.Serve(lis) }()
	log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		server.GracefulStop()
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
