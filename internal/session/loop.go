package session

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/lobbymesh/lobbymesh/internal/relay"
	"github.com/lobbymesh/lobbymesh/internal/transport"
	"github.com/lobbymesh/lobbymesh/internal/util"
)

// loop is the single-threaded negotiation scheduler: every transport and
// relay event is processed here, one at a time, so exactly one state
// machine step per peer is ever in flight.
func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case ev := <-s.inbox:
			s.handle(ev)
			if s.disconnecting {
				return
			}
		case <-s.ctx.Done():
			s.teardownAll()
			return
		}
	}
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case rosterEvent:
		s.applyRoster(e.members)
	case envelopeEvent:
		s.handleEnvelope(e.env)
	case candidateEvent:
		s.handleLocalCandidate(e)
	case channelOpenEvent:
		s.handleChannelOpen(e)
	case channelCloseEvent:
		s.handleChannelClose(e)
	case linkFailedEvent:
		if pl := s.peers[e.peerID]; pl != nil {
			s.failLink(pl, errors.New(e.reason))
		}
	case disconnectEvent:
		s.teardownAll()
		close(e.done)
	}
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

// applyRoster reconciles a full lobby roster against the live peer set:
// newcomers get a link and enter establishment, absentees are torn down
// immediately. A roster that leaves the local user alone tears down the
// whole session.
func (s *Session) applyRoster(members []Peer) {
	if s.disconnecting {
		return
	}

	if rosterAlone(s.self.ID, members) {
		util.LogInfo("roster leaves local user alone, tearing down session")
		s.teardownAll()
		return
	}

	adds, removes := diffRoster(s.self.ID, s.peers, members)
	for _, id := range removes {
		s.removePeer(id)
	}
	for _, p := range adds {
		s.addPeer(p)
	}
	s.updateState()
}

// addPeer creates the link for a new roster member and, when the local id
// wins the tie-break, initiates the offer. Channels are created before the
// offer so the SDP carries the data media section; the answerer side never
// creates channels and receives them through the transport instead.
func (s *Session) addPeer(p Peer) {
	util.Stats.AddPeer()

	pl := &peerLink{
		peer:    p,
		state:   linkConnecting,
		offerer: offers(s.self.ID, p.ID),
	}

	link, err := s.newLink()
	if err != nil {
		util.LogError("creating link for peer %q: %v", p.ID, err)
		pl.state = linkFailed
		s.mu.Lock()
		s.peers[p.ID] = pl
		s.mu.Unlock()
		return
	}
	pl.link = link

	id := p.ID
	link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.post(candidateEvent{peerID: id, candidate: c.ToJSON()})
	})
	link.OnChannelOpen(func(k transport.Kind) { s.post(channelOpenEvent{peerID: id, kind: k}) })
	link.OnChannelClose(func(k transport.Kind) { s.post(channelCloseEvent{peerID: id, kind: k}) })
	link.OnMessage(func(_ transport.Kind, data []byte) { s.handleInbound(id, data) })
	link.OnStateChange(func(st webrtc.PeerConnectionState) {
		if st == webrtc.PeerConnectionStateFailed {
			s.post(linkFailedEvent{peerID: id, reason: "peer connection failed"})
		}
	})

	s.mu.Lock()
	s.peers[p.ID] = pl
	s.mu.Unlock()

	util.LogDebug("peer %q added (offerer=%v)", p.ID, pl.offerer)

	if pl.offerer {
		if err := s.sendOffer(pl); err != nil {
			s.failLink(pl, err)
		}
	}
}

// removePeer tears down one peer link and evicts it from the roster.
func (s *Session) removePeer(id string) {
	pl := s.peers[id]
	if pl == nil {
		return
	}
	s.mu.Lock()
	delete(s.peers, id)
	pl.state = linkDisconnected
	pl.reliableReady = false
	pl.unreliableReady = false
	s.mu.Unlock()

	if pl.link != nil {
		if err := pl.link.Close(); err != nil {
			util.LogDebug("closing link for %q: %v", id, err)
		}
	}
	util.Stats.RemovePeer()
	util.LogInfo("peer %q removed", id)
}

// teardownAll disconnects every peer and cancels the signaling
// subscription. The disconnecting flag makes it idempotent: error
// callbacks of operations being torn down may land here again without
// recursing.
func (s *Session) teardownAll() {
	if s.disconnecting {
		return
	}
	s.disconnecting = true

	if s.client != nil {
		s.client.Close()
	}

	s.mu.Lock()
	for id, pl := range s.peers {
		if pl.link != nil {
			pl.link.Close()
		}
		pl.state = linkDisconnected
		delete(s.peers, id)
		util.Stats.RemovePeer()
	}
	s.state = StateDisconnected
	s.live = false
	s.mu.Unlock()

	s.cancel()
	util.LogInfo("session disconnected")
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// sendOffer runs the offerer half of establishment: channels, offer,
// local description, offer envelope. Relay unavailability is a transient
// step failure (the next roster update retries), not a link failure.
func (s *Session) sendOffer(pl *peerLink) error {
	if err := pl.link.CreateChannels(); err != nil {
		return err
	}
	offer, err := pl.link.CreateOffer()
	if err != nil {
		return err
	}
	if err := pl.link.SetLocalDescription(offer); err != nil {
		return err
	}

	env := relay.Envelope{
		Type: relay.TypeOffer,
		To:   pl.peer.ID,
		Desc: &relay.SessionDescription{Kind: "offer", SDP: offer.SDP},
	}
	if err := s.client.Send(s.ctx, env); err != nil {
		util.LogWarning("offer to %q not relayed: %v", pl.peer.ID, err)
	}
	return nil
}

// handleEnvelope applies one deduplicated signaling envelope to the peer's
// state machine. Envelope order is not guaranteed by the relay; each type
// is applied independently.
func (s *Session) handleEnvelope(env relay.Envelope) {
	pl := s.peers[env.From]
	if pl == nil || pl.link == nil {
		util.LogWarning("ignoring %s envelope from unknown or linkless peer %q", env.Type, env.From)
		return
	}

	switch env.Type {
	case relay.TypeOffer:
		if env.Desc == nil {
			s.failLink(pl, errors.New("offer envelope without description"))
			return
		}
		if err := pl.link.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer, SDP: env.Desc.SDP,
		}); err != nil {
			s.failLink(pl, err)
			return
		}
		s.remoteDescriptionSet(pl)

		answer, err := pl.link.CreateAnswer()
		if err != nil {
			s.failLink(pl, err)
			return
		}
		if err := pl.link.SetLocalDescription(answer); err != nil {
			s.failLink(pl, err)
			return
		}
		reply := relay.Envelope{
			Type: relay.TypeAnswer,
			To:   pl.peer.ID,
			Desc: &relay.SessionDescription{Kind: "answer", SDP: answer.SDP},
		}
		if err := s.client.Send(s.ctx, reply); err != nil {
			util.LogWarning("answer to %q not relayed: %v", pl.peer.ID, err)
		}

	case relay.TypeAnswer:
		if env.Desc == nil {
			s.failLink(pl, errors.New("answer envelope without description"))
			return
		}
		if err := pl.link.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer, SDP: env.Desc.SDP,
		}); err != nil {
			s.failLink(pl, err)
			return
		}
		s.remoteDescriptionSet(pl)

	case relay.TypeCandidate:
		if env.Candidate == nil {
			s.failLink(pl, errors.New("candidate envelope without candidate"))
			return
		}
		mid := env.Candidate.SDPMid
		idx := env.Candidate.SDPMLineIndex
		init := webrtc.ICECandidateInit{
			Candidate:     env.Candidate.Candidate,
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		}
		if !pl.remoteSet {
			// Candidate raced ahead of the description — hold it.
			pl.pendingCandidates = append(pl.pendingCandidates, init)
			return
		}
		if err := pl.link.AddICECandidate(init); err != nil {
			s.failLink(pl, err)
		}

	default:
		util.LogWarning("ignoring envelope of unknown type %q from %q", env.Type, env.From)
	}
}

// remoteDescriptionSet flushes candidates buffered while the description
// was still in flight.
func (s *Session) remoteDescriptionSet(pl *peerLink) {
	pl.remoteSet = true
	for _, init := range pl.pendingCandidates {
		if err := pl.link.AddICECandidate(init); err != nil {
			s.failLink(pl, err)
			return
		}
	}
	pl.pendingCandidates = nil
}

// handleLocalCandidate trickles one locally gathered candidate to the
// remote peer as soon as it appears.
func (s *Session) handleLocalCandidate(ev candidateEvent) {
	pl := s.peers[ev.peerID]
	if pl == nil {
		return
	}

	cand := relay.Candidate{Candidate: ev.candidate.Candidate}
	if ev.candidate.SDPMid != nil {
		cand.SDPMid = *ev.candidate.SDPMid
	}
	if ev.candidate.SDPMLineIndex != nil {
		cand.SDPMLineIndex = *ev.candidate.SDPMLineIndex
	}

	env := relay.Envelope{Type: relay.TypeCandidate, To: ev.peerID, Candidate: &cand}
	if err := s.client.Send(s.ctx, env); err != nil {
		util.LogWarning("candidate to %q not relayed: %v", ev.peerID, err)
	}
}

// ---------------------------------------------------------------------------
// Channel lifecycle
// ---------------------------------------------------------------------------

// handleChannelOpen marks a channel ready and promotes the link (and
// possibly the session) once every configured channel is open.
func (s *Session) handleChannelOpen(ev channelOpenEvent) {
	pl := s.peers[ev.peerID]
	if pl == nil {
		return
	}

	s.mu.Lock()
	switch ev.kind {
	case transport.Reliable:
		pl.reliableReady = true
	case transport.Unreliable:
		pl.unreliableReady = true
	}
	relOK := !s.cfg.Reliable || pl.reliableReady
	unrelOK := !s.cfg.Unreliable || pl.unreliableReady
	if relOK && unrelOK && pl.state == linkConnecting {
		pl.state = linkConnected
		util.LogInfo("peer %q connected", ev.peerID)
	}
	s.mu.Unlock()

	s.updateState()
}

// handleChannelClose treats a mid-session channel close as a link failure;
// during teardown the events are expected and ignored (removePeer already
// evicted the entry, so lookups miss).
func (s *Session) handleChannelClose(ev channelCloseEvent) {
	pl := s.peers[ev.peerID]
	if pl == nil {
		return
	}
	s.mu.Lock()
	switch ev.kind {
	case transport.Reliable:
		pl.reliableReady = false
	case transport.Unreliable:
		pl.unreliableReady = false
	}
	s.mu.Unlock()
	s.failLink(pl, errors.New(string(ev.kind)+" channel closed"))
}

// failLink transitions one peer to failed without touching the others.
// The worst case for any single peer failure is that peer's link being
// unusable while the rest of the session keeps operating.
func (s *Session) failLink(pl *peerLink, err error) {
	if pl.state == linkFailed || pl.state == linkDisconnected {
		return
	}
	util.LogWarning("peer %q link failed: %v", pl.peer.ID, err)

	s.mu.Lock()
	pl.state = linkFailed
	pl.reliableReady = false
	pl.unreliableReady = false
	s.mu.Unlock()

	if pl.link != nil {
		if cerr := pl.link.Close(); cerr != nil {
			util.LogDebug("closing failed link for %q: %v", pl.peer.ID, cerr)
		}
	}
	s.updateState()
}

// updateState recomputes the aggregate state by mirroring the ready-peer
// count against the peer count.
func (s *Session) updateState() {
	if s.disconnecting {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total, ready, failed := len(s.peers), 0, 0
	for _, pl := range s.peers {
		switch pl.state {
		case linkConnected:
			ready++
		case linkFailed:
			failed++
		}
	}

	next := StateConnecting
	switch {
	case total == 0:
		next = StateDisconnected
	case failed == total:
		next = StateFailed
	case ready == total:
		next = StateConnected
	}

	if next != s.state {
		util.LogInfo("session state: %s -> %s (%d/%d peers ready)", s.state, next, ready, total)
		s.state = next
	}
}
