// Relaydev — single-binary development relay.
//
// It implements the signaling mailbox contract (send / subscribe / ack)
// plus lobby roster pushes over WebSocket, entirely in memory. It exists
// so the lobbymesh CLI can run against localhost without the real service
// backend; it is not a production relay.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/lobbymesh/lobbymesh/internal/relay"
	"github.com/lobbymesh/lobbymesh/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// member is one connected lobby member.
type member struct {
	name    string
	conn    *websocket.Conn
	writeMu sync.Mutex
	mailbox []relay.Envelope
}

// hub holds every lobby. One mutex is plenty for a dev tool.
type hub struct {
	mu      sync.Mutex
	lobbies map[string]map[string]*member // lobby -> user id -> member
	entropy *rand.Rand
}

func newHub() *hub {
	return &hub{
		lobbies: make(map[string]map[string]*member),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:4400", "listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	h := newHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	util.LogInfo("relaydev listening on ws://%s/ws", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		util.LogError("serve: %v", err)
	}
}

func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var lobby, user string
	defer func() {
		conn.Close()
		if lobby != "" && user != "" {
			h.leave(lobby, user)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var p relay.Packet
		if err := json.Unmarshal(data, &p); err != nil {
			util.LogWarning("malformed packet: %v", err)
			continue
		}

		switch p.Opcode {
		case relay.OpHello:
			lobby, user = p.Lobby, p.User
			h.join(lobby, user, p.Instance, conn)

		case relay.OpSend:
			if p.Envelope == nil {
				h.sendError(conn, "send packet without envelope")
				continue
			}
			env := *p.Envelope
			env.From = user
			h.deposit(p.Lobby, env)

		case relay.OpAck:
			h.ack(p.Lobby, user, p.IDs)

		default:
			h.sendError(conn, fmt.Sprintf("unknown opcode %q", p.Opcode))
		}
	}
}

// join registers a member and broadcasts the new roster to the lobby.
func (h *hub) join(lobby, user, instance string, conn *websocket.Conn) {
	h.mu.Lock()
	members := h.lobbies[lobby]
	if members == nil {
		members = make(map[string]*member)
		h.lobbies[lobby] = members
	}
	if prior := members[user]; prior != nil {
		// Reconnect: keep the mailbox, swap the connection.
		prior.conn = conn
	} else {
		members[user] = &member{name: user, conn: conn}
	}
	h.mu.Unlock()

	util.LogInfo("user %q joined lobby %q (instance %s)", user, lobby, instance)
	h.broadcastRoster(lobby)
	h.push(lobby, user)
}

// leave drops a member and broadcasts the shrunken roster.
func (h *hub) leave(lobby, user string) {
	h.mu.Lock()
	if members := h.lobbies[lobby]; members != nil {
		delete(members, user)
		if len(members) == 0 {
			delete(h.lobbies, lobby)
		}
	}
	h.mu.Unlock()

	util.LogInfo("user %q left lobby %q", user, lobby)
	h.broadcastRoster(lobby)
}

// deposit stores an envelope in the recipient's mailbox and pushes the
// pending batch. Unknown recipients are dropped with a warning, matching
// the membership error taxonomy of the real backend.
func (h *hub) deposit(lobby string, env relay.Envelope) {
	h.mu.Lock()
	members := h.lobbies[lobby]
	rcpt := members[env.To]
	if rcpt == nil {
		h.mu.Unlock()
		util.LogWarning("dropping %s envelope for unknown user %q in lobby %q", env.Type, env.To, lobby)
		return
	}
	env.ID = ulid.MustNew(ulid.Timestamp(time.Now()), h.entropy).String()
	rcpt.mailbox = append(rcpt.mailbox, env)
	h.mu.Unlock()

	h.push(lobby, env.To)
}

// ack discards acknowledged envelopes from a user's mailbox.
func (h *hub) ack(lobby, user string, ids []string) {
	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.lobbies[lobby]
	if members == nil || members[user] == nil {
		return
	}
	m := members[user]
	kept := m.mailbox[:0]
	for _, env := range m.mailbox {
		if _, ok := acked[env.ID]; !ok {
			kept = append(kept, env)
		}
	}
	m.mailbox = kept
}

// push delivers a user's full pending mailbox as one batch.
func (h *hub) push(lobby, user string) {
	h.mu.Lock()
	members := h.lobbies[lobby]
	if members == nil || members[user] == nil {
		h.mu.Unlock()
		return
	}
	m := members[user]
	batch := append([]relay.Envelope(nil), m.mailbox...)
	h.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	h.write(m, relay.Packet{Opcode: relay.OpDeliver, Lobby: lobby, Envelopes: batch})
}

// broadcastRoster sends the current member list to everyone in the lobby.
func (h *hub) broadcastRoster(lobby string) {
	h.mu.Lock()
	members := h.lobbies[lobby]
	roster := make([]relay.Member, 0, len(members))
	targets := make([]*member, 0, len(members))
	for id, m := range members {
		roster = append(roster, relay.Member{ID: id, Name: m.name})
		targets = append(targets, m)
	}
	h.mu.Unlock()

	p := relay.Packet{Opcode: relay.OpRoster, Lobby: lobby, Members: roster}
	for _, m := range targets {
		h.write(m, p)
	}
}

func (h *hub) write(m *member, p relay.Packet) {
	data, err := json.Marshal(p)
	if err != nil {
		util.LogError("marshal %s packet: %v", p.Opcode, err)
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		util.LogDebug("write to %q: %v", m.name, err)
	}
}

func (h *hub) sendError(conn *websocket.Conn, msg string) {
	data, _ := json.Marshal(relay.Packet{Opcode: relay.OpError, Error: msg})
	conn.WriteMessage(websocket.TextMessage, data)
}
