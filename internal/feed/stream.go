package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/globe-console/internal/logging"
)

const (
	streamReadLimit = 32 << 20
	streamPongWait  = 60 * time.Second
)

// StreamOption customises a StreamClient.
type StreamOption func(*StreamClient)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) StreamOption {
	return func(c *StreamClient) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader adds request headers to the handshake, e.g. credentials.
func WithHeader(h http.Header) StreamOption {
	return func(c *StreamClient) {
		c.header = h.Clone()
	}
}

// WithSubscribe sends msg after every successful connect.
func WithSubscribe(msg []byte) StreamOption {
	return func(c *StreamClient) {
		c.subscribe = msg
	}
}

// WithStreamLogger sets the logger.
func WithStreamLogger(l logging.Logger) StreamOption {
	return func(c *StreamClient) {
		if l != nil {
			c.log = l
		}
	}
}

// WithStreamMetrics attaches an optional metrics recorder.
func WithStreamMetrics(m MetricsRecorder) StreamOption {
	return func(c *StreamClient) {
		c.metrics = m
	}
}

// WithStreamTap hands every raw snapshot message to tap before decoding.
func WithStreamTap(tap func(Envelope)) StreamOption {
	return func(c *StreamClient) {
		c.tap = tap
	}
}

// WithReconnectBackoff bounds the delay between reconnect attempts.
func WithReconnectBackoff(initial, max time.Duration) StreamOption {
	return func(c *StreamClient) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// StreamClient receives org snapshots over a websocket. Each text message
// is one full {assets, units, missions, incidents} snapshot; every
// namespace batch is handed to the sink. The connection is re-dialled with
// exponential backoff whenever it drops.
type StreamClient struct {
	url       string
	sink      Sink
	dialer    *websocket.Dialer
	header    http.Header
	subscribe []byte

	initialBackoff time.Duration
	maxBackoff     time.Duration

	log     logging.Logger
	metrics MetricsRecorder
	tap     func(Envelope)

	mu        sync.Mutex
	snapshots int
	connects  int
}

// NewStreamClient constructs a client for a ws:// or wss:// endpoint.
func NewStreamClient(url string, sink Sink, opts ...StreamOption) (*StreamClient, error) {
	if url == "" {
		return nil, errors.New("feed: stream url is empty")
	}
	if sink == nil {
		return nil, errors.New("feed: stream sink is nil")
	}
	c := &StreamClient{
		url:            url,
		sink:           sink,
		dialer:         websocket.DefaultDialer,
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
		log:            logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.With(logging.String("feed", "org-stream"))
	return c, nil
}

// StreamStats reports connection counters.
type StreamStats struct {
	Connects  int
	Snapshots int
}

// Stats returns connection counters.
func (c *StreamClient) Stats() StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StreamStats{Connects: c.connects, Snapshots: c.snapshots}
}

// Run connects and reads snapshots until ctx is cancelled.
func (c *StreamClient) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = c.maxBackoff
	bo.Reset()

	for {
		err := c.session(ctx, bo)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		c.log.Warn(ctx, "org stream disconnected",
			logging.Err(err),
			logging.Duration("retry_in", wait),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection until it fails.
func (c *StreamClient) session(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	if len(c.subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, c.subscribe); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
	c.log.Info(ctx, "org stream connected", logging.String("url", c.url))

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.handle(ctx, msg)
		bo.Reset()
	}
}

func (c *StreamClient) handle(ctx context.Context, msg []byte) {
	if c.tap != nil {
		c.tap(Envelope{Namespace: NamespaceOrg, At: time.Now(), Payload: msg})
	}
	batches, err := DecodeOrgSnapshot(msg)
	if errors.Is(err, ErrMalformed) {
		c.log.Warn(ctx, "org snapshot dropped", logging.Err(err))
		return
	}
	if err != nil {
		c.log.Warn(ctx, "org records rejected or missing positions",
			logging.Int("rejected", Rejected(err)),
			logging.Int("retained", Retained(err)),
			logging.Err(err),
		)
	}
	c.mu.Lock()
	c.snapshots++
	c.mu.Unlock()
	for _, b := range batches {
		if c.metrics != nil {
			c.metrics.AddFeedRecords(b.Namespace, b.Len(), 0)
		}
		c.sink(b)
	}
}
