package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamClientReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	var subscribed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)
		if _, msg, err := c.ReadMessage(); err == nil && string(msg) == `{"subscribe":"org"}` {
			subscribed.Add(1)
		}
		snapshot := `{"assets": [{"id": "a` + string(rune('0'+n)) + `", "lat": 1, "lon": 2}]}`
		_ = c.WriteMessage(websocket.TextMessage, []byte(snapshot))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`not json`))
		// Drop the connection to force a reconnect.
	}))
	defer srv.Close()

	got := make(chan Batch, 32)
	sc, err := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"),
		func(b Batch) {
			select {
			case got <- b:
			default:
			}
		},
		WithSubscribe([]byte(`{"subscribe":"org"}`)),
		WithReconnectBackoff(5*time.Millisecond, 20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewStreamClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()

	keys := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(keys) < 2 {
		select {
		case b := <-got:
			if b.Namespace == NamespaceAssets {
				for _, r := range b.Records {
					keys[r.Key()] = true
				}
			}
		case <-deadline:
			t.Fatalf("saw %v after %d connections", keys, conns.Load())
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	if !keys["asset:a1"] || !keys["asset:a2"] {
		t.Fatalf("keys = %v", keys)
	}
	if subscribed.Load() < 2 {
		t.Fatalf("subscribe sent %d times", subscribed.Load())
	}
	if st := sc.Stats(); st.Connects < 2 || st.Snapshots < 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStreamClientDialFailureRetriesUntilCancelled(t *testing.T) {
	sc, err := NewStreamClient("ws://127.0.0.1:1/none", func(Batch) {},
		WithReconnectBackoff(time.Millisecond, 5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewStreamClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if sc.Stats().Connects != 0 {
		t.Fatalf("connected to a closed port")
	}
}
