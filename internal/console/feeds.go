package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/globe-console/internal/feed"
	"github.com/signalsfoundry/globe-console/internal/logging"
)

// StartFeeds launches the configured live feeds, or a replay when
// Feeds.ReplayPath is set. Feeds run until Close. The returned closer
// flushes the recording, if any, and must be called after Close.
func (r *Runtime) StartFeeds() (io.Closer, error) {
	fc := r.cfg.Feeds
	if fc.ReplayPath != "" {
		return nopCloser{}, r.startReplay(fc.ReplayPath, fc.ReplaySpeed)
	}

	var tap func(feed.Envelope)
	var closer io.Closer = nopCloser{}
	if fc.RecordPath != "" {
		rec, err := openRecording(fc.RecordPath)
		if err != nil {
			return nil, err
		}
		closer = rec
		tap = func(env feed.Envelope) {
			if err := rec.Record(env); err != nil {
				r.log.Debug(r.ctx, "feed payload not recorded", logging.String("namespace", env.Namespace), logging.Err(err))
			}
		}
	}

	sink := r.FeedSink()
	endpoints := []struct {
		ns string
		ep EndpointConfig
	}{
		{feed.NamespaceFlights, fc.Flights},
		{feed.NamespaceSatellites, fc.Satellites},
		{feed.NamespaceShips, fc.Ships},
	}
	for _, e := range endpoints {
		if e.ep.URL == "" {
			continue
		}
		opts := []feed.PollerOption{
			feed.WithPollerLogger(r.log),
			feed.WithMaxBackoff(time.Duration(fc.MaxBackoff)),
			feed.WithPollerTap(tap),
		}
		if e.ns != feed.NamespaceSatellites {
			opts = append(opts, feed.WithQuery(r.BBox))
		}
		if r.collector != nil {
			opts = append(opts, feed.WithPollerMetrics(r.collector))
		}
		p, err := feed.NewPoller(e.ns, e.ep.URL, time.Duration(e.ep.Interval), sink, opts...)
		if err != nil {
			closer.Close()
			return nil, err
		}
		r.Go("poll "+e.ns, p.Run)
	}

	if fc.OrgStreamURL != "" {
		opts := []feed.StreamOption{
			feed.WithStreamLogger(r.log),
			feed.WithStreamTap(tap),
		}
		if r.collector != nil {
			opts = append(opts, feed.WithStreamMetrics(r.collector))
		}
		sc, err := feed.NewStreamClient(fc.OrgStreamURL, sink, opts...)
		if err != nil {
			closer.Close()
			return nil, err
		}
		r.Go("org stream", sc.Run)
	}
	return closer, nil
}

func (r *Runtime) startReplay(path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	rp, err := feed.NewReplay(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("open replay: %w", err)
	}
	sink := r.FeedSink()
	r.log.Info(r.ctx, "replaying recorded feeds", logging.String("path", path), logging.Float("speed", speed))
	r.Go("replay", func(ctx context.Context) error {
		defer f.Close()
		defer rp.Close()
		err := rp.Play(ctx, speed, func(env feed.Envelope) error {
			batches, err := env.Batches()
			if errors.Is(err, feed.ErrMalformed) {
				r.log.Warn(ctx, "recorded payload skipped", logging.String("namespace", env.Namespace), logging.Err(err))
				return nil
			}
			for _, b := range batches {
				sink(b)
			}
			return nil
		})
		if err == nil {
			r.log.Info(ctx, "replay finished", logging.String("path", path))
		}
		return err
	})
	return nil
}

type recording struct {
	*feed.Recorder
	f *os.File
}

func openRecording(path string) (*recording, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	rec, err := feed.NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &recording{Recorder: rec, f: f}, nil
}

func (r *recording) Close() error {
	return errors.Join(r.Recorder.Close(), r.f.Close())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
