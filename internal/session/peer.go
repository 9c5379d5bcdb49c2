// Package session implements the P2P mesh session: per-peer connection
// establishment with a deterministic tie-break rule, membership
// reconciliation against lobby rosters, and the send/receive facade the
// rest of the SDK consumes.
package session

import (
	"github.com/lobbymesh/lobbymesh/internal/transport"
	"github.com/pion/webrtc/v4"
)

// Peer identifies one remote session participant. Immutable once recorded
// for a session.
type Peer struct {
	ID   string // stable user identifier, total-ordered for the tie-break
	Name string // display name
}

// State is the aggregate connection state of the whole session.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// linkState is the per-peer establishment state.
type linkState int

const (
	linkIdle linkState = iota
	linkConnecting
	linkConnected
	linkFailed
	linkDisconnected
)

// peerLink is the per-peer transport state: the link handle, negotiation
// progress, and per-channel readiness. Owned and mutated only by the
// session loop goroutine; the session mutex guards reads from API callers.
type peerLink struct {
	peer    Peer
	link    transport.Link
	state   linkState
	offerer bool // local id sorts lower: this side creates the channels

	reliableReady   bool
	unreliableReady bool

	// remoteSet gates candidate application: ICE candidates arriving
	// before the remote description are buffered here and flushed once
	// the description lands. The relay guarantees no envelope ordering.
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
}

// ChannelStatus reports per-channel readiness for one peer.
type ChannelStatus struct {
	ReliableReady   bool
	UnreliableReady bool
}

// Sink is the optional fire-and-forget delivery hook invoked for every
// inbound frame, in addition to the inbound ring. It runs on the transport
// callback goroutine and must not block.
type Sink func(sender string, channel uint32, payload []byte)

// offers reports whether the local side initiates toward the remote peer.
// Comparing the two user ids under their total (lexicographic) order makes
// exactly one side the offerer without a coordination round-trip, so both
// sides can never offer simultaneously.
func offers(localID, remoteID string) bool {
	return localID < remoteID
}
