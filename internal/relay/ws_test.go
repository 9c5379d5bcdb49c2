package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// TestWSRelayReconnects drops the first connection right after the hello
// and verifies the client redials, re-announces the same instance, and
// keeps receiving deliveries on the restored connection.
func TestWSRelayReconnects(t *testing.T) {
	var (
		mu        sync.Mutex
		instances []string
	)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		var hello Packet
		if err := json.Unmarshal(data, &hello); err != nil || hello.Opcode != OpHello {
			t.Errorf("first packet = %s, want hello", data)
			conn.Close()
			return
		}

		mu.Lock()
		instances = append(instances, hello.Instance)
		n := len(instances)
		mu.Unlock()

		if n == 1 {
			// Simulate a relay-side drop before anything was delivered.
			conn.Close()
			return
		}

		env := Envelope{
			ID: "env-1", Type: TypeOffer, From: "peer", To: "me",
			Desc: &SessionDescription{Kind: "offer", SDP: "v=0 test"},
		}
		out, _ := json.Marshal(Packet{Opcode: OpDeliver, Lobby: "lobby", Envelopes: []Envelope{env}})
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			conn.Close()
			return
		}

		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	r, err := DialWS(context.Background(), wsURL, "lobby", "me")
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer r.Close()
	r.SetRedialWait(10 * time.Millisecond)

	got := make(chan []Envelope, 1)
	cancel, err := r.Subscribe(context.Background(), "lobby", "me", func(batch []Envelope) {
		select {
		case got <- batch:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	select {
	case batch := <-got:
		if len(batch) != 1 || batch[0].ID != "env-1" {
			t.Errorf("delivered batch = %+v, want the single env-1 envelope", batch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery after the connection drop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(instances) < 2 {
		t.Fatalf("hello count = %d, want at least 2 (redial)", len(instances))
	}
	if instances[0] != instances[1] {
		t.Errorf("redial changed the instance id: %q then %q", instances[0], instances[1])
	}
}

// TestWSRelayCloseStopsRedial verifies Close while disconnected ends the
// pump instead of redialing forever.
func TestWSRelayCloseStopsRedial(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		conn.Close()
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	r, err := DialWS(context.Background(), wsURL, "lobby", "me")
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	r.SetRedialWait(10 * time.Millisecond)

	srv.Close()
	if err := r.Close(); err != nil {
		t.Logf("close: %v", err)
	}

	// Give the pump a moment; writes must fail cleanly rather than land
	// on a revived connection.
	time.Sleep(50 * time.Millisecond)
	if err := r.Send(context.Background(), "lobby", Envelope{Type: TypeOffer, To: "peer"}); err == nil {
		t.Error("send on a closed relay succeeded")
	}
}
