package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/globe-console/internal/console"
	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/internal/observability"
	"github.com/signalsfoundry/globe-console/internal/rpc"
	"github.com/signalsfoundry/globe-console/internal/tui"
	"github.com/signalsfoundry/globe-console/timectrl"
)

// Options are the process flags that are not part of the config file.
type Options struct {
	Headless bool
	// Frames stops the loop after that many frames; zero runs until
	// interrupted.
	Frames uint64
}

func main() {
	configPath := flag.String("config", "", "Path to a JSON console config; defaults apply when empty")
	headless := flag.Bool("headless", false, "Run without the terminal view")
	frames := flag.Uint64("frames", 0, "Exit after this many frames (0 runs until interrupted)")
	replay := flag.String("replay", "", "Play a recorded feed file instead of the live feeds")
	record := flag.String("record", "", "Record live feed payloads to this file")
	logFile := flag.String("log-file", "console.log", "Log destination while the terminal view is active")
	flag.Parse()

	log := logging.NewFromEnv()
	if !*headless && *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error(context.Background(), "failed to open log file", logging.String("path", *logFile), logging.Err(err))
			os.Exit(1)
		}
		defer f.Close()
		log = logging.New(logging.Config{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
			Output: f,
		})
	}

	cfg, err := console.LoadConfig(*configPath)
	if err != nil {
		log.Error(context.Background(), "invalid configuration", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	if *replay != "" {
		cfg.Feeds.ReplayPath = *replay
	}
	if *record != "" {
		cfg.Feeds.RecordPath = *record
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, Options{Headless: *headless, Frames: *frames}, log, nil); err != nil {
		log.Error(ctx, "console exited", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

// run serves metrics and health, builds the runtime and drives frames
// until ctx is cancelled, the frame budget is spent or the user quits.
// lis overrides cfg.GRPCAddr when non-nil.
func run(ctx context.Context, cfg console.Config, opts Options, log logging.Logger, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewConsoleCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	var view *tui.View
	if !opts.Headless {
		screen, err := tcell.NewScreen()
		if err != nil {
			return err
		}
		if err := screen.Init(); err != nil {
			return err
		}
		defer screen.Fini()
		view = tui.NewView(screen)
	}

	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	health := rpc.NewHealth()
	defer health.Shutdown()
	if lis == nil && cfg.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return err
		}
	}
	grpcDone := make(chan error, 1)
	if lis != nil {
		server := rpc.NewServer(health, collector, log)
		go func() { grpcDone <- rpc.Serve(ctx, server, lis, log) }()
	} else {
		grpcDone <- nil
	}

	rt, err := console.New(cfg, log, console.WithCollector(collector), console.WithHealth(health))
	if err != nil {
		cancel()
		<-grpcDone
		return err
	}
	recording, err := rt.StartFeeds()
	if err != nil {
		rt.Close()
		cancel()
		<-grpcDone
		return err
	}

	if view != nil {
		rt.SetViewport(view.Viewport())
		post := func(fn func(tui.Controller)) {
			_ = rt.Post(func(r *console.Runtime) { fn(r) })
		}
		go func() {
			if err := view.Run(ctx, post); err == nil {
				cancel()
			}
		}()
	}

	clock := timectrl.NewFrameClock(time.Second/time.Duration(max(cfg.FrameRate, 1)), timectrl.RealTime)
	clock.AddListener(func(t timectrl.Tick) {
		out := rt.Frame(ctx, t.Time)
		if view != nil {
			view.Draw(out.Overlay, status(rt, out))
		}
		if opts.Frames > 0 && t.Frame >= opts.Frames {
			cancel()
		}
	})
	log.Info(ctx, "console running",
		logging.String("session", rt.Session()),
		logging.Int("frame_rate", cfg.FrameRate),
		logging.Bool("headless", opts.Headless),
	)
	err = clock.Run(ctx)

	log.Info(context.Background(), "shutting down console")
	rt.Close()
	if cerr := recording.Close(); cerr != nil {
		log.Warn(context.Background(), "failed to flush recording", logging.Err(cerr))
	}
	cancel()
	grpcErr := <-grpcDone
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		done()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return grpcErr
}

func status(rt *console.Runtime, out console.FrameOutput) tui.Status {
	st := tui.Status{
		Tick:      out.Tick,
		Entities:  out.Render.Len(),
		FrameTime: out.Duration,
	}
	for _, layer := range rt.Layers() {
		res := out.Tiles[layer]
		st.Layers = append(st.Layers, tui.LayerStatus{Layer: layer, Zoom: res.Zoom, Resident: res.Resident, Desired: res.Desired})
	}
	if id := rt.Overlay().Selected(); id != 0 {
		if e, ok := rt.Index().Get(id); ok {
			st.Selected = strings.TrimSpace(e.Label)
			if st.Selected == "" {
				st.Selected = e.Key
			}
		}
	}
	return st
}

func serveMetrics(addr string, collector *observability.ConsoleCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
