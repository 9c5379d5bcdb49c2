// Package relay exchanges signaling envelopes through an external mailbox:
// SDP offers/answers and ICE candidates flow through it until the direct
// DataChannels are usable.
//
// The package guarantees that no envelope is dispatched to the negotiation
// layer twice, while tolerating relay redelivery (at-least-once mailbox,
// approximated at-most-once processing via a bounded dedup set).
package relay

// Type identifies the kind of signaling envelope.
type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "ice-candidate"
)

// SessionDescription carries the SDP half of an offer or answer envelope.
type SessionDescription struct {
	Kind string `json:"kind"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Envelope is one relayed signaling message. The relay assigns ID when the
// envelope is stored; senders leave it empty. Exactly one of Desc and
// Candidate is set, matching Type — never an open-ended payload map.
type Envelope struct {
	ID        string              `json:"id,omitempty"`
	Type      Type                `json:"type"`
	From      string              `json:"from"`
	To        string              `json:"to,omitempty"`
	Desc      *SessionDescription `json:"desc,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
}
