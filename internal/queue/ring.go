// Package queue implements the fixed-capacity message rings that hand
// frames between the network side and an engine consumer.
//
// Each logical channel owns one contiguous memory region holding an inbound
// and an outbound ring. The region layout is part of the engine interop
// surface: a consumer on another thread or runtime may map the region
// directly and drive the same atomic-index protocol.
//
// Region layout (all words little-endian host order, 4 bytes each):
//
//	inbound header:  write index | read index | count | format version
//	outbound header: write index | read index | count | format version
//	inbound data:    slotCount slots, each [length u32][payload slotSize bytes]
//	outbound data:   same shape as inbound data
//
// The producer and consumer of one ring may run on different OS threads.
// Every index/count access is a single atomic operation; the data slot is
// written before count is incremented and read before count is decremented,
// which is the only ordering the protocol relies on.
package queue

import (
	"sync/atomic"
	"unsafe"
)

// FormatVersion is written into each ring header so an external consumer
// can reject a layout it does not understand.
const FormatVersion = 1

const (
	headerWords = 4
	headerBytes = headerWords * 4
	lenPrefix   = 4
)

// Ring is one direction (inbound or outbound) of a channel region.
// All four header words live inside the shared region.
type Ring struct {
	write   *atomic.Uint32
	read    *atomic.Uint32
	count   *atomic.Uint32
	version *atomic.Uint32

	data      []byte
	slotCount uint32
	slotSize  uint32
}

// stride is the byte distance between consecutive slots.
func (r *Ring) stride() uint32 { return lenPrefix + r.slotSize }

// Enqueue writes one frame into the ring. It returns false and leaves the
// ring untouched when the frame exceeds the slot payload budget or the ring
// is full. Capacity policy is drop-newest: overwriting the oldest slot could
// corrupt a frame the consumer is mid-read on.
func (r *Ring) Enqueue(frame []byte) bool {
	if uint32(len(frame)) > r.slotSize {
		return false
	}
	if r.count.Load() == r.slotCount {
		return false
	}

	w := r.write.Load()
	off := w * r.stride()
	putWord(r.data[off:], uint32(len(frame)))
	copy(r.data[off+lenPrefix:], frame)

	r.write.Store((w + 1) % r.slotCount)
	r.count.Add(1)
	return true
}

// Dequeue removes and returns a copy of the oldest frame. It returns
// (nil, false) without mutating any index when the ring is empty — this is
// a poll, not a wait. The copy is required because the transport that
// ultimately consumes the bytes may not accept a reference into the shared
// region.
func (r *Ring) Dequeue() ([]byte, bool) {
	if r.count.Load() == 0 {
		return nil, false
	}

	i := r.read.Load()
	off := i * r.stride()
	n := word(r.data[off:])
	out := make([]byte, n)
	copy(out, r.data[off+lenPrefix:off+lenPrefix+n])

	r.read.Store((i + 1) % r.slotCount)
	r.count.Add(^uint32(0)) // atomic decrement
	return out, true
}

// Len returns the current message count.
func (r *Ring) Len() int { return int(r.count.Load()) }

// Cap returns the slot count.
func (r *Ring) Cap() int { return int(r.slotCount) }

// SlotSize returns the per-slot payload budget in bytes.
func (r *Ring) SlotSize() int { return int(r.slotSize) }

// putWord / word are plain (non-atomic) u32 accessors for slot length
// prefixes. Ordering against the consumer is provided by the atomic count
// update that follows/precedes them.
func putWord(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func word(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// wordAt interprets 4 bytes of the region at off as an atomic word.
// Region buffers are allocated 8-byte aligned and all header offsets are
// multiples of 4, so the cast is always aligned.
func wordAt(buf []byte, off int) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&buf[off]))
}
