package main

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/globe-console/internal/console"
	"github.com/signalsfoundry/globe-console/internal/feed"
	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/internal/rpc"
)

func writeReplay(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := feed.NewRecorder(f)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	err = rec.Record(feed.Envelope{
		Namespace: feed.NamespaceOrg,
		At:        time.Now(),
		Payload:   json.RawMessage(`{"assets": [{"id": "hq", "name": "HQ", "lat": 48.1, "lon": 11.6}]}`),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close recorder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close file: %v", err)
	}
	return path
}

func TestConsoleHeadlessStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := console.DefaultConfig()
	cfg.Layers = map[string]console.ProviderConfig{}
	cfg.MetricsAddr = ""
	cfg.Tracing.Enabled = false
	cfg.Feeds.ReplayPath = writeReplay(t)
	cfg.Feeds.ReplaySpeed = 0

	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, Options{Headless: true}, log, lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.SubsystemSpatial})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("spatial never reported SERVING: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestConsoleStopsAfterFrameBudget(t *testing.T) {
	cfg := console.DefaultConfig()
	cfg.Layers = map[string]console.ProviderConfig{}
	cfg.MetricsAddr = ""
	cfg.GRPCAddr = ""
	cfg.FrameRate = 200
	cfg.Tracing.Enabled = false

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), cfg, Options{Headless: true, Frames: 3}, logging.Noop(), nil)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run ignored the frame budget")
	}
}
