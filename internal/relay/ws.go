package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lobbymesh/lobbymesh/internal/util"
)

// Compile-time interface check.
var _ Relay = (*WSRelay)(nil)

// Opcodes of the relay WebSocket protocol. The client sends hello once,
// then send/ack; the server pushes deliver batches.
const (
	OpHello   = "hello"
	OpSend    = "send"
	OpDeliver = "deliver"
	OpAck     = "ack"
	OpRoster  = "roster"
	OpError   = "error"
)

// Member is one lobby member as reported by roster pushes.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Packet is the JSON message exchanged with the relay backend.
type Packet struct {
	Opcode    string     `json:"opcode"`
	Lobby     string     `json:"lobby,omitempty"`
	User      string     `json:"user,omitempty"`
	Instance  string     `json:"instance,omitempty"`
	Envelope  *Envelope  `json:"envelope,omitempty"`
	Envelopes []Envelope `json:"envelopes,omitempty"`
	IDs       []string   `json:"ids,omitempty"`
	Members   []Member   `json:"members,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// WSRelay speaks the relay mailbox protocol over a WebSocket connection.
// One WSRelay serves one lobby subscription; the instance id lets the
// backend tell reconnects of the same user apart. A lost connection is
// redialed with backoff until Close, re-announcing the same instance so the
// backend resumes the existing mailbox.
type WSRelay struct {
	url      string
	lobbyID  string
	userID   string
	instance string

	// writeMu guards the conn pointer and all writes through it; redials
	// swap the pointer under the same lock.
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu         sync.Mutex
	onBatch    func([]Envelope)
	onRoster   func([]Member)
	pending    []Envelope // last deliver batch seen before Subscribe
	lastRoster []Member   // last roster push seen before OnRoster
	rosterSeen bool
	redialWait time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS connects to the relay backend, identifies the local user, and
// starts reading server pushes. Roster pushes can arrive before Subscribe;
// register OnRoster right after dialing.
func DialWS(ctx context.Context, url, lobbyID, userID string) (*WSRelay, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	r := &WSRelay{
		url:        url,
		lobbyID:    lobbyID,
		userID:     userID,
		instance:   uuid.NewString(),
		conn:       conn,
		redialWait: time.Second,
		closed:     make(chan struct{}),
	}
	if err := r.write(Packet{Opcode: OpHello, Lobby: lobbyID, User: userID, Instance: r.instance}); err != nil {
		conn.Close()
		return nil, err
	}

	go r.readPump()
	return r, nil
}

// SetRedialWait overrides the initial delay before redialing a lost
// connection. Tests shorten it.
func (r *WSRelay) SetRedialWait(d time.Duration) {
	r.mu.Lock()
	r.redialWait = d
	r.mu.Unlock()
}

func (r *WSRelay) Send(_ context.Context, lobbyID string, env Envelope) error {
	return r.write(Packet{Opcode: OpSend, Lobby: lobbyID, Envelope: &env})
}

func (r *WSRelay) Subscribe(_ context.Context, lobbyID, userID string, onBatch func([]Envelope)) (func(), error) {
	r.mu.Lock()
	r.onBatch = onBatch
	buffered := r.pending
	r.pending = nil
	r.mu.Unlock()

	// A batch delivered before the subscription (say, a reconnect with a
	// non-empty mailbox) is replayed now. Each deliver carries the full
	// pending mailbox, so only the latest batch matters.
	if len(buffered) > 0 {
		onBatch(buffered)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			r.onBatch = nil
			r.mu.Unlock()
		})
	}
	return cancel, nil
}

// OnRoster registers the callback for lobby membership pushes. Roster
// tracking rides the same connection but is not part of the Relay
// contract, so it has its own hook. A push that raced ahead of the
// registration is replayed immediately.
func (r *WSRelay) OnRoster(fn func([]Member)) {
	r.mu.Lock()
	r.onRoster = fn
	replay := r.rosterSeen
	last := r.lastRoster
	r.mu.Unlock()

	if replay {
		fn(last)
	}
}

func (r *WSRelay) Ack(_ context.Context, lobbyID string, ids []string) error {
	return r.write(Packet{Opcode: OpAck, Lobby: lobbyID, IDs: ids})
}

// Close tears down the WebSocket connection and stops any redial attempt.
func (r *WSRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		r.writeMu.Lock()
		err = r.conn.Close()
		r.writeMu.Unlock()
	})
	return err
}

// write marshals and sends one packet, guarded by a mutex because pion and
// session goroutines both send through the relay.
func (r *WSRelay) write(p Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal %s packet: %w", p.Opcode, err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

// readPump delivers server pushes until Close. A dropped connection is a
// transient relay error: the pump redials and keeps going, and the backend
// re-pushes the pending mailbox after the renewed hello.
func (r *WSRelay) readPump() {
	for {
		r.writeMu.Lock()
		conn := r.conn
		r.writeMu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.closed:
				return
			default:
			}
			util.LogWarning("relay connection lost: %v", err)
			if !r.redial() {
				return
			}
			continue
		}

		var p Packet
		if err := json.Unmarshal(data, &p); err != nil {
			util.LogWarning("malformed relay packet: %v", err)
			continue
		}

		switch p.Opcode {
		case OpDeliver:
			if len(p.Envelopes) == 0 {
				continue
			}
			r.mu.Lock()
			onBatch := r.onBatch
			if onBatch == nil {
				r.pending = p.Envelopes
			}
			r.mu.Unlock()
			if onBatch != nil {
				onBatch(p.Envelopes)
			}
		case OpRoster:
			r.mu.Lock()
			onRoster := r.onRoster
			r.lastRoster = p.Members
			r.rosterSeen = true
			r.mu.Unlock()
			if onRoster != nil {
				onRoster(p.Members)
			}
		case OpError:
			util.LogWarning("relay error: %s", p.Error)
		default:
			util.LogDebug("ignoring relay opcode %q", p.Opcode)
		}
	}
}

// redial re-establishes the relay connection and re-announces the local
// user under the same instance id. It backs off between attempts and gives
// up only when the relay has been closed locally.
func (r *WSRelay) redial() bool {
	r.mu.Lock()
	wait := r.redialWait
	r.mu.Unlock()

	for {
		select {
		case <-r.closed:
			return false
		case <-time.After(wait):
		}

		conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
		if err != nil {
			util.LogWarning("relay redial %s: %v", r.url, err)
			if wait < 30*time.Second {
				wait *= 2
			}
			continue
		}

		select {
		case <-r.closed:
			conn.Close()
			return false
		default:
		}

		r.writeMu.Lock()
		r.conn = conn
		r.writeMu.Unlock()

		hello := Packet{Opcode: OpHello, Lobby: r.lobbyID, User: r.userID, Instance: r.instance}
		if err := r.write(hello); err != nil {
			util.LogWarning("relay redial hello: %v", err)
			conn.Close()
			continue
		}

		util.LogInfo("relay connection restored")
		return true
	}
}
