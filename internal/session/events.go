package session

import (
	"github.com/lobbymesh/lobbymesh/internal/relay"
	"github.com/lobbymesh/lobbymesh/internal/transport"
	"github.com/pion/webrtc/v4"
)

// Every transport and relay callback is converted into one of these events
// and delivered into the session's inbox, where a single loop goroutine
// processes them one at a time. The state machine's transition logic never
// runs concurrently with itself, so peerLink and roster mutation needs no
// internal locking beyond the reader mutex on the facade.

type event interface{ isEvent() }

// rosterEvent carries a full lobby roster (not a diff) from a membership
// update.
type rosterEvent struct {
	members []Peer
}

// envelopeEvent carries one deduplicated signaling envelope.
type envelopeEvent struct {
	env relay.Envelope
}

// candidateEvent carries a locally gathered ICE candidate destined for a
// specific remote peer.
type candidateEvent struct {
	peerID    string
	candidate webrtc.ICECandidateInit
}

// channelOpenEvent / channelCloseEvent report transport channel lifecycle.
type channelOpenEvent struct {
	peerID string
	kind   transport.Kind
}

type channelCloseEvent struct {
	peerID string
	kind   transport.Kind
}

// linkFailedEvent reports a PeerConnection reaching a failed state.
type linkFailedEvent struct {
	peerID string
	reason string
}

// disconnectEvent requests full session teardown; done is closed once the
// teardown completes (or immediately when one is already in progress).
type disconnectEvent struct {
	done chan struct{}
}

func (rosterEvent) isEvent()       {}
func (envelopeEvent) isEvent()     {}
func (candidateEvent) isEvent()    {}
func (channelOpenEvent) isEvent()  {}
func (channelCloseEvent) isEvent() {}
func (linkFailedEvent) isEvent()   {}
func (disconnectEvent) isEvent()   {}
