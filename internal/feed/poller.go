package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/globe-console/internal/logging"
)

const tracerName = "github.com/signalsfoundry/globe-console/internal/feed"

// ErrPollStatus is returned for non-2xx polling responses.
var ErrPollStatus = errors.New("feed poll status")

const maxPollBytes = 64 << 20

// Sink receives decoded batches. It is called on the poller's goroutine.
type Sink func(Batch)

// MetricsRecorder receives feed metrics.
type MetricsRecorder interface {
	ObserveFeedPoll(namespace string, ok bool, d time.Duration)
	AddFeedRecords(namespace string, accepted, rejected int)
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.client = c
		}
	}
}

// WithQuery scopes each request with the box returned by fn. fn is called
// on the poller goroutine; returning false polls unscoped.
func WithQuery(fn func() (BBoxQuery, bool)) PollerOption {
	return func(p *Poller) {
		p.query = fn
	}
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l logging.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPollerMetrics attaches an optional metrics recorder.
func WithPollerMetrics(m MetricsRecorder) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithMaxBackoff caps the retry delay after failures.
func WithMaxBackoff(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.maxBackoff = d
		}
	}
}

// WithClock overrides the time source used for satellite propagation.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithPollerTap hands every successful raw response to tap before
// decoding, e.g. for recording.
func WithPollerTap(tap func(Envelope)) PollerOption {
	return func(p *Poller) {
		p.tap = tap
	}
}

// Poller fetches one namespace's endpoint on an interval. Failures back
// off exponentially up to the configured cap and reset on the next
// success.
type Poller struct {
	namespace  string
	endpoint   string
	interval   time.Duration
	maxBackoff time.Duration
	sink       Sink

	client  *http.Client
	query   func() (BBoxQuery, bool)
	log     logging.Logger
	metrics MetricsRecorder
	tap     func(Envelope)
	now     func() time.Time
}

// NewPoller constructs a poller for a flights, satellites or ships endpoint.
func NewPoller(namespace, endpoint string, interval time.Duration, sink Sink, opts ...PollerOption) (*Poller, error) {
	switch namespace {
	case NamespaceFlights, NamespaceSatellites, NamespaceShips:
	default:
		return nil, fmt.Errorf("feed: no poller for namespace %q", namespace)
	}
	if endpoint == "" {
		return nil, fmt.Errorf("feed: %s endpoint is empty", namespace)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("feed: %s interval must be positive", namespace)
	}
	if sink == nil {
		return nil, fmt.Errorf("feed: %s sink is nil", namespace)
	}
	p := &Poller{
		namespace:  namespace,
		endpoint:   endpoint,
		interval:   interval,
		maxBackoff: 2 * time.Minute,
		sink:       sink,
		client:     &http.Client{Timeout: 20 * time.Second},
		log:        logging.Noop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.log = p.log.With(logging.String("feed", namespace))
	return p, nil
}

// Namespace returns the polled namespace.
func (p *Poller) Namespace() string { return p.namespace }

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.interval
	bo.MaxInterval = p.maxBackoff
	bo.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait := p.interval
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = bo.NextBackOff()
			p.log.Warn(ctx, "feed poll failed",
				logging.Err(err),
				logging.Duration("retry_in", wait),
			)
		} else {
			bo.Reset()
		}
		timer.Reset(wait)
	}
}

// Poll performs one request and hands the decoded batch to the sink.
// Records rejected by decoding are logged and counted; the rest are still
// delivered. The error is non-nil only when nothing could be delivered.
func (p *Poller) Poll(ctx context.Context) (Batch, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "feed.poll",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("feed.namespace", p.namespace)),
	)
	defer span.End()

	start := time.Now()
	batch, err := p.poll(ctx)
	if p.metrics != nil {
		p.metrics.ObserveFeedPoll(p.namespace, err == nil, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Batch{}, err
	}
	span.SetAttributes(attribute.Int("feed.records", batch.Len()))
	p.sink(batch)
	return batch, nil
}

func (p *Poller) poll(ctx context.Context) (Batch, error) {
	target := p.endpoint
	if p.query != nil {
		if q, ok := p.query(); ok {
			var err error
			if target, err = q.Apply(p.endpoint); err != nil {
				return Batch{}, fmt.Errorf("feed: %s endpoint: %w", p.namespace, err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Batch{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return Batch{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Batch{}, fmt.Errorf("%w: %s returned %d", ErrPollStatus, p.namespace, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBytes))
	if err != nil {
		return Batch{}, err
	}

	now := p.now()
	if p.tap != nil {
		p.tap(Envelope{Namespace: p.namespace, At: now, Payload: body})
	}
	batch, err := Decode(p.namespace, body, now)
	if errors.Is(err, ErrMalformed) {
		return Batch{}, err
	}
	rejected := Rejected(err)
	if err != nil {
		p.log.Warn(ctx, "feed records rejected or missing positions",
			logging.Int("rejected", rejected),
			logging.Int("retained", Retained(err)),
			logging.Int("accepted", batch.Len()),
			logging.Err(err),
		)
	}
	if p.metrics != nil {
		p.metrics.AddFeedRecords(p.namespace, batch.Len(), rejected)
	}
	return batch, nil
}

// Rejected counts the ParseErrors joined into err that dropped a record.
func Rejected(err error) int {
	return countParseErrors(err, false)
}

// Retained counts the ParseErrors joined into err whose record was kept
// without a position.
func Retained(err error) int {
	return countParseErrors(err, true)
}

func countParseErrors(err error, retained bool) int {
	if err == nil {
		return 0
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range j.Unwrap() {
			n += countParseErrors(e, retained)
		}
		return n
	}
	var pe *ParseError
	if errors.As(err, &pe) && pe.Retained == retained {
		return 1
	}
	return 0
}
