package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lobbymesh/lobbymesh/internal/config"
	"github.com/lobbymesh/lobbymesh/internal/queue"
	"github.com/lobbymesh/lobbymesh/internal/relay"
	"github.com/lobbymesh/lobbymesh/internal/transport"
	"github.com/lobbymesh/lobbymesh/internal/util"
	"github.com/lobbymesh/lobbymesh/internal/wire"
)

// Session is the externally visible P2P surface: establish a mesh for a
// lobby, send or broadcast application messages, query readiness, and
// disconnect. One Session holds at most one live lobby connection at a
// time; establishing a new lobby implicitly tears down the previous one.
//
// Negotiation state is mutated only by the session's loop goroutine (see
// events.go); the mutex exists so Send/PeerStatuses callers on other
// goroutines get consistent reads.
type Session struct {
	cfg     config.Config
	relay   relay.Relay
	self    Peer
	sink    Sink
	factory transport.Factory

	mu      sync.RWMutex
	live    bool
	lobbyID string
	peers   map[string]*peerLink
	state   State
	queues  *queue.Set

	// Loop plumbing, nil until the first Establish. Guarded by mu so
	// facade calls on a never-established session are harmless no-ops.
	inbox    chan event
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// Loop-owned fields, valid between Establish and teardown.
	disconnecting bool
	client        *relay.Client
}

// New creates a Session for the given local user. The relay is the
// signaling mailbox backend; per-peer links default to pion WebRTC.
func New(cfg config.Config, r relay.Relay, self Peer) *Session {
	return &Session{
		cfg:   cfg,
		relay: r,
		self:  self,
		state: StateDisconnected,
	}
}

// SetSink registers the fire-and-forget inbound delivery hook. Must be
// called before Establish.
func (s *Session) SetSink(sink Sink) { s.sink = sink }

// SetLinkFactory overrides how per-peer links are created. Tests inject
// transport.MockLink through this.
func (s *Session) SetLinkFactory(f transport.Factory) { s.factory = f }

// Establish connects the session to a lobby mesh. members is the full
// current roster including the local user; establishment toward each
// remote member starts immediately, with the lexicographically lower user
// id acting as offerer per pair. A previously live connection is torn
// down first.
//
// When the roster leaves the local user alone the session comes up already
// disconnected rather than holding a degenerate zero-peer mesh.
func (s *Session) Establish(ctx context.Context, lobbyID string, members []Peer) error {
	// Disconnect waits for the previous loop goroutine to exit, so the
	// field resets below can never race a still-draining loop.
	s.Disconnect()

	sCtx, sCancel := context.WithCancel(ctx)
	s.disconnecting = false

	s.mu.Lock()
	s.ctx = sCtx
	s.cancel = sCancel
	s.inbox = make(chan event, 1024)
	s.loopDone = make(chan struct{})
	s.live = true
	s.lobbyID = lobbyID
	s.state = StateConnecting
	s.peers = make(map[string]*peerLink)
	s.queues = queue.NewSet(s.cfg.Channels, s.cfg.SlotCount, s.cfg.SlotSize)
	s.mu.Unlock()

	s.client = relay.NewClient(s.relay, lobbyID, s.self.ID, s.cfg.DedupLimit,
		s.knownPeer,
		func(env relay.Envelope) { s.post(envelopeEvent{env: env}) },
	)

	// Seed the roster before subscribing: offers go out first and the
	// peer set is populated, so envelopes arriving on the very first
	// delivery are never rejected as coming from unknown peers.
	s.applyRoster(members)

	if s.disconnecting {
		// Roster left us alone; the session is already torn down.
		return nil
	}

	if err := s.client.Start(sCtx); err != nil {
		s.teardownAll()
		close(s.loopDone)
		return fmt.Errorf("establish lobby %q: %w", lobbyID, err)
	}

	go s.loop()
	go s.pump(sCtx, s.queues)

	util.LogInfo("session establishing in lobby %q with %d member(s)", lobbyID, len(members))
	return nil
}

// UpdateRoster feeds a full membership roster into the session. The diff
// against the known peer set is computed internally.
func (s *Session) UpdateRoster(members []Peer) {
	s.post(rosterEvent{members: members})
}

// Send transmits payload to one peer on the given logical channel. It
// returns false — with the message dropped, never queued unboundedly —
// when the peer is unknown, the requested channel kind is not ready, or
// the transport send buffer is full.
func (s *Session) Send(to string, channel uint32, reliable bool, payload []byte) bool {
	if channel >= s.cfg.Channels {
		util.LogWarning("send on out-of-range channel %d (have %d)", channel, s.cfg.Channels)
		return false
	}
	data := wire.Encode(&wire.Frame{Sender: s.self.ID, Channel: channel, Payload: payload})
	kind := kindFor(reliable)

	s.mu.RLock()
	defer s.mu.RUnlock()
	pl := s.peers[to]
	if pl == nil {
		util.LogWarning("send to unknown peer %q", to)
		return false
	}
	if !channelReady(pl, kind) {
		return false
	}
	if !pl.link.Send(kind, data) {
		util.Stats.DropFrame()
		return false
	}
	return true
}

// Broadcast transmits payload to every peer on the given logical channel.
// It returns true only when every peer whose link is up accepted the
// frame and at least one peer received it.
func (s *Session) Broadcast(channel uint32, reliable bool, payload []byte) bool {
	if channel >= s.cfg.Channels {
		util.LogWarning("broadcast on out-of-range channel %d (have %d)", channel, s.cfg.Channels)
		return false
	}
	data := wire.Encode(&wire.Frame{Sender: s.self.ID, Channel: channel, Payload: payload})
	kind := kindFor(reliable)

	s.mu.RLock()
	defer s.mu.RUnlock()
	any, all := false, true
	for _, pl := range s.peers {
		if !channelReady(pl, kind) {
			all = false
			continue
		}
		any = true
		if !pl.link.Send(kind, data) {
			util.Stats.DropFrame()
			all = false
		}
	}
	return any && all
}

// PeerStatuses reports per-channel readiness for every known peer.
func (s *Session) PeerStatuses() map[Peer]ChannelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Peer]ChannelStatus, len(s.peers))
	for _, pl := range s.peers {
		out[pl.peer] = ChannelStatus{
			ReliableReady:   pl.reliableReady,
			UnreliableReady: pl.unreliableReady,
		}
	}
	return out
}

// State returns the aggregate connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LobbyID returns the lobby of the current connection, or "" when none.
func (s *Session) LobbyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.live {
		return ""
	}
	return s.lobbyID
}

// Queues exposes the per-channel ring regions for an engine-side consumer
// to map. Valid until the next Establish.
func (s *Session) Queues() *queue.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues
}

// Disconnect tears down every peer link, cancels the signaling
// subscription, and leaves the session disconnected. It returns only
// once the loop goroutine has fully exited, so a follow-on Establish
// never races the old loop. Safe to call when nothing is live (including
// before the first Establish), and safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.RLock()
	live := s.live
	inbox := s.inbox
	loopDone := s.loopDone
	s.mu.RUnlock()
	if !live || inbox == nil {
		return
	}

	done := make(chan struct{})
	select {
	case inbox <- disconnectEvent{done: done}:
	case <-loopDone:
		return
	}
	select {
	case <-done:
	case <-loopDone:
	}
	<-loopDone
}

// post delivers an event into the loop inbox, giving up when the session
// was never established, is already torn down, or its context is
// cancelled.
func (s *Session) post(ev event) {
	s.mu.RLock()
	live := s.live
	inbox := s.inbox
	ctx := s.ctx
	s.mu.RUnlock()
	if !live || inbox == nil {
		return
	}

	select {
	case inbox <- ev:
	case <-ctx.Done():
	}
}

// knownPeer reports whether a user id is a current roster member. Used by
// the relay client to reject envelopes from (and sends to) strangers.
func (s *Session) knownPeer(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[id]
	return ok
}

// newLink creates the transport link for one peer.
func (s *Session) newLink() (transport.Link, error) {
	if s.factory != nil {
		return s.factory()
	}
	return transport.NewPeerLink(s.ctx, s.cfg)
}

// pump drains the outbound rings and broadcasts each frame on its
// channel's configured reliability. This is the network half of the
// engine interop region: an engine thread enqueues raw payloads, the pump
// wraps them in frames and fans them out.
func (s *Session) pump(ctx context.Context, q *queue.Set) {
	ticker := time.NewTicker(s.cfg.PumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for ch := 0; ch < q.Channels(); ch++ {
				out := q.Outbound(uint32(ch))
				for {
					payload, ok := out.Dequeue()
					if !ok {
						break
					}
					reliable := !s.cfg.UnreliableChannels[uint32(ch)]
					s.Broadcast(uint32(ch), reliable, payload)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound runs on the transport message callback — potentially a
// different OS thread than the loop. It only touches the rings (designed
// for exactly this concurrency) and takes the read lock for the roster
// check.
func (s *Session) handleInbound(peerID string, data []byte) {
	util.Stats.AddRecv(len(data))

	f, err := wire.Decode(data)
	if err != nil {
		util.LogWarning("dropping malformed frame from %08x: %v", util.PeerTag(peerID), err)
		util.Stats.DropFrame()
		return
	}

	s.mu.RLock()
	_, known := s.peers[f.Sender]
	q := s.queues
	sink := s.sink
	s.mu.RUnlock()

	if !known {
		util.LogWarning("dropping frame from unknown sender %q", f.Sender)
		util.Stats.DropFrame()
		return
	}

	in := q.Inbound(f.Channel)
	if in == nil {
		util.LogWarning("dropping frame on out-of-range channel %d from %q", f.Channel, f.Sender)
		util.Stats.DropFrame()
		return
	}
	if !in.Enqueue(data) {
		if len(data) > in.SlotSize() {
			util.LogWarning("frame of %d bytes exceeds %d-byte slot budget on channel %d", len(data), in.SlotSize(), f.Channel)
		} else {
			util.LogWarning("inbound ring full on channel %d, dropping frame from %q", f.Channel, f.Sender)
		}
		util.Stats.DropFrame()
		return
	}

	if sink != nil {
		sink(f.Sender, f.Channel, f.Payload)
	}
}

func kindFor(reliable bool) transport.Kind {
	if reliable {
		return transport.Reliable
	}
	return transport.Unreliable
}

func channelReady(pl *peerLink, kind transport.Kind) bool {
	if pl.link == nil {
		return false
	}
	if kind == transport.Reliable {
		return pl.reliableReady
	}
	return pl.unreliableReady
}
