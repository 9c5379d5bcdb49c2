// Package wire defines the binary frame format for application messages
// exchanged over DataChannels.
//
// A binary layout is used instead of JSON because frames are per-message,
// per-tick traffic (e.g. positional updates) on the hot path.
package wire

// SenderSize is the fixed width of the sender-id field. Shorter ids are
// zero-padded, longer ids are truncated.
const SenderSize = 32

// HeaderSize is the fixed header size: Sender(32) + Channel(4) + PayloadLen(4).
const HeaderSize = SenderSize + 4 + 4

// Frame represents one application message carried over a DataChannel.
type Frame struct {
	Sender  string // user id of the sending peer, at most SenderSize bytes
	Channel uint32 // logical channel number (application multiplexing key)
	Payload []byte // opaque application bytes
}
