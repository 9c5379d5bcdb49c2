// Package config holds the session configuration types.
package config

import "time"

// Config stores all tunables for a mesh session.
type Config struct {
	// ICEServers are the STUN/TURN URLs used for candidate gathering.
	ICEServers []string

	// Reliable / Unreliable enable the ordered retransmitting channel and
	// the unordered best-effort channel. At least one must be enabled.
	Reliable   bool
	Unreliable bool

	// Channels is the number of pre-allocated logical channels. Frames
	// referencing a channel outside [0, Channels) are dropped.
	Channels uint32

	// SlotCount and SlotSize dimension each ring: SlotCount slots of
	// SlotSize bytes. A frame larger than SlotSize is rejected, never
	// fragmented.
	SlotCount uint32
	SlotSize  uint32

	// UnreliableChannels marks logical channels whose outbound-ring frames
	// are broadcast on the unreliable transport channel. Channels absent
	// from the map default to reliable.
	UnreliableChannels map[uint32]bool

	// PumpInterval is how often the outbound rings are drained.
	PumpInterval time.Duration

	// DedupLimit caps the processed-envelope-id set when acknowledgments
	// keep failing. Oldest entries are trimmed (and logged) past the cap.
	DedupLimit int
}

// DefaultConfig returns sensible defaults: both transport channels, four
// logical channels of 64 x 1400-byte slots, and Google STUN.
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		Reliable:     true,
		Unreliable:   true,
		Channels:     4,
		SlotCount:    64,
		SlotSize:     1400,
		PumpInterval: 5 * time.Millisecond,
		DedupLimit:   4096,
	}
}
