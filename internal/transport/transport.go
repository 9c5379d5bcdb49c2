// Package transport provides the per-peer transport abstraction: one
// PeerConnection carrying up to two DataChannels (reliable and unreliable).
//
// The Link interface mirrors the capabilities the negotiation layer needs
// from the platform: description exchange, candidate handling, channel
// creation, and channel events. The pion-backed PeerLink is the production
// implementation; MockLink serves tests.
package transport

import (
	"github.com/pion/webrtc/v4"
)

// Kind distinguishes the two transport channels multiplexed over one
// PeerConnection. The kind doubles as the DataChannel label so the
// answerer can identify inbound channels.
type Kind string

const (
	// Reliable is ordered and retransmitting: messages preserve send
	// order within one link.
	Reliable Kind = "reliable"
	// Unreliable is unordered with no retransmission: messages may be
	// silently dropped by the transport.
	Unreliable Kind = "unreliable"
)

// Link is one peer's transport handle. Event callbacks must be registered
// before negotiation begins; they fire on pion's internal goroutines.
type Link interface {
	// CreateChannels creates the configured DataChannels locally. Only the
	// offerer side calls this; the answerer receives channels through the
	// transport's channel-received event.
	CreateChannels() error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// OnICECandidate fires for each locally gathered candidate. A nil
	// candidate marks the end of gathering.
	OnICECandidate(fn func(*webrtc.ICECandidate))
	// OnChannelOpen fires once per channel kind when it becomes usable.
	OnChannelOpen(fn func(Kind))
	// OnChannelClose fires when a channel shuts down.
	OnChannelClose(fn func(Kind))
	// OnMessage fires for every inbound DataChannel message.
	OnMessage(fn func(Kind, []byte))
	// OnStateChange reports PeerConnection state transitions.
	OnStateChange(fn func(webrtc.PeerConnectionState))

	// Send enqueues data on the given channel. It returns false when the
	// channel is not open yet or the send buffer is full (the message is
	// dropped, not queued unboundedly).
	Send(kind Kind, data []byte) bool

	Close() error
}

// Factory creates a Link for one remote peer. Sessions hold a Factory so
// tests can substitute MockLink.
type Factory func() (Link, error)
