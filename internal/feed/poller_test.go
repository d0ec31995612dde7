package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

type stubFeedMetrics struct {
	mu       sync.Mutex
	polls    map[bool]int
	accepted int
	rejected int
}

func (s *stubFeedMetrics) ObserveFeedPoll(_ string, ok bool, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polls == nil {
		s.polls = map[bool]int{}
	}
	s.polls[ok]++
}

func (s *stubFeedMetrics) AddFeedRecords(_ string, accepted, rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted += accepted
	s.rejected += rejected
}

func TestBBoxQuery(t *testing.T) {
	q := BBoxFromBound(orb.Bound{Min: orb.Point{-10, 30}, Max: orb.Point{15.5, 95}}, 200)
	v := q.Values()
	want := map[string]string{"lamin": "30.0000", "lamax": "90.0000", "lomin": "-10.0000", "lomax": "15.5000", "limit": "200"}
	for k, w := range want {
		if got := v.Get(k); got != w {
			t.Fatalf("%s = %q, want %q", k, got, w)
		}
	}

	wrapped := BBoxFromBound(orb.Bound{Min: orb.Point{170, 0}, Max: orb.Point{190, 10}}, 0)
	if wrapped.MinLon != -180 || wrapped.MaxLon != 180 {
		t.Fatalf("antimeridian box not widened: %+v", wrapped)
	}
	if _, ok := wrapped.Values()["limit"]; ok {
		t.Fatalf("zero limit encoded")
	}

	u, err := q.Apply("http://feed.test/flights?key=abc")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if u != "http://feed.test/flights?key=abc&lamax=90.0000&lamin=30.0000&limit=200&lomax=15.5000&lomin=-10.0000" {
		t.Fatalf("url = %s", u)
	}
}

func TestPollerRetriesThenDelivers(t *testing.T) {
	var calls atomic.Int32
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.Query().Get("lamin"))
		if calls.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"flights": [{"id": "f1", "lat": 1, "lon": 2}, {"lat": 3}]}`))
	}))
	defer srv.Close()

	got := make(chan Batch, 4)
	metrics := &stubFeedMetrics{}
	p, err := NewPoller(NamespaceFlights, srv.URL, 10*time.Millisecond,
		func(b Batch) { got <- b },
		WithMaxBackoff(20*time.Millisecond),
		WithPollerMetrics(metrics),
		WithQuery(func() (BBoxQuery, bool) {
			return BBoxQuery{MinLat: -5, MaxLat: 5, MinLon: -5, MaxLon: 5}, true
		}),
	)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case b := <-got:
		if b.Namespace != NamespaceFlights || b.Len() != 1 {
			t.Fatalf("batch = %+v", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no batch delivered after %d calls", calls.Load())
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want retries before success", calls.Load())
	}
	if q, _ := lastQuery.Load().(string); q != "-5.0000" {
		t.Fatalf("lamin = %q", q)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.polls[false] < 2 || metrics.polls[true] < 1 || metrics.rejected < 1 {
		t.Fatalf("metrics = %+v", metrics)
	}
}

func TestPollStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p, err := NewPoller(NamespaceShips, srv.URL, time.Second, func(Batch) {
		t.Fatalf("sink called on failure")
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if _, err := p.Poll(context.Background()); !errors.Is(err, ErrPollStatus) {
		t.Fatalf("err = %v, want ErrPollStatus", err)
	}
}

func TestNewPollerValidation(t *testing.T) {
	sink := func(Batch) {}
	tests := []struct {
		name     string
		ns, url  string
		interval time.Duration
		sink     Sink
	}{
		{"org namespace", NamespaceAssets, "http://x", time.Second, sink},
		{"empty url", NamespaceFlights, "", time.Second, sink},
		{"zero interval", NamespaceFlights, "http://x", 0, sink},
		{"nil sink", NamespaceFlights, "http://x", time.Second, nil},
	}
	for _, tc := range tests {
		if _, err := NewPoller(tc.ns, tc.url, tc.interval, tc.sink); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestPollerTapRecordsRawPayload(t *testing.T) {
	body := `{"ships": [{"mmsi": "244123456", "name": "Nordlys", "lat": 52.1, "lon": 4.3}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var tapped []Envelope
	p, err := NewPoller(NamespaceShips, srv.URL, time.Second, func(Batch) {},
		WithPollerTap(func(env Envelope) { tapped = append(tapped, env) }),
		WithClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(tapped) != 1 {
		t.Fatalf("tapped %d envelopes", len(tapped))
	}
	env := tapped[0]
	if env.Namespace != NamespaceShips || !env.At.Equal(at) || string(env.Payload) != body {
		t.Fatalf("envelope = %+v", env)
	}
	batches, err := env.Batches()
	if err != nil || len(batches) != 1 || batches[0].Len() != 1 {
		t.Fatalf("replayed batches = %+v, %v", batches, err)
	}
}
