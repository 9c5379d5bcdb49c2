package queue

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
)

// TestEnqueueDequeueFIFO verifies basic ordering through wraparound.
func TestEnqueueDequeueFIFO(t *testing.T) {
	r := &NewRegion(4, 16).Inbound

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			msg := []byte{byte(round), byte(i)}
			if !r.Enqueue(msg) {
				t.Fatalf("round %d: enqueue %d failed on non-full ring", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			got, ok := r.Dequeue()
			if !ok {
				t.Fatalf("round %d: dequeue %d returned no data", round, i)
			}
			if want := []byte{byte(round), byte(i)}; !bytes.Equal(got, want) {
				t.Fatalf("round %d: dequeue %d = %v, want %v", round, i, got, want)
			}
		}
	}
}

// TestEnqueueDropNewestWhenFull verifies that capacity+k enqueues leave
// count == capacity with exactly k messages dropped, and that the survivors
// are the oldest ones.
func TestEnqueueDropNewestWhenFull(t *testing.T) {
	const capacity, extra = 8, 5
	r := &NewRegion(capacity, 16).Inbound

	dropped := 0
	for i := 0; i < capacity+extra; i++ {
		if !r.Enqueue([]byte{byte(i)}) {
			dropped++
		}
	}

	if dropped != extra {
		t.Errorf("dropped = %d, want %d", dropped, extra)
	}
	if r.Len() != capacity {
		t.Errorf("count = %d, want %d", r.Len(), capacity)
	}

	// Drop-newest: the first `capacity` messages survive.
	for i := 0; i < capacity; i++ {
		got, ok := r.Dequeue()
		if !ok || got[0] != byte(i) {
			t.Fatalf("slot %d = %v (ok=%v), want [%d]", i, got, ok, i)
		}
	}
}

// TestDequeueEmptyIsNoOp verifies the empty-ring poll leaves indices
// untouched.
func TestDequeueEmptyIsNoOp(t *testing.T) {
	r := &NewRegion(4, 16).Inbound

	for i := 0; i < 3; i++ {
		if data, ok := r.Dequeue(); ok || data != nil {
			t.Fatalf("dequeue on empty ring returned (%v, %v)", data, ok)
		}
	}

	// A subsequent enqueue/dequeue pair still works at index 0.
	r.Enqueue([]byte("x"))
	got, ok := r.Dequeue()
	if !ok || string(got) != "x" {
		t.Fatalf("after empty polls: got (%q, %v)", got, ok)
	}
}

// TestEnqueueOversizeRejected verifies a frame over the slot budget is
// rejected without touching the ring.
func TestEnqueueOversizeRejected(t *testing.T) {
	r := &NewRegion(4, 16).Inbound

	if r.Enqueue(make([]byte, 17)) {
		t.Error("oversize enqueue succeeded")
	}
	if r.Len() != 0 {
		t.Errorf("count = %d after rejected enqueue, want 0", r.Len())
	}
	if !r.Enqueue(make([]byte, 16)) {
		t.Error("exact-budget enqueue failed")
	}
}

// TestRegionLayout pins the interop byte layout: header placement, format
// version words, and total size.
func TestRegionLayout(t *testing.T) {
	const slotCount, slotSize = 4, 32
	reg := NewRegion(slotCount, slotSize)
	buf := reg.Bytes()

	stride := 4 + slotSize
	want := 2*16 + 2*slotCount*stride
	if len(buf) != want {
		t.Fatalf("region size = %d, want %d", len(buf), want)
	}

	// Version word sits at offset 12 of each header.
	if v := binary.LittleEndian.Uint32(buf[12:16]); v != FormatVersion {
		t.Errorf("inbound version word = %d, want %d", v, FormatVersion)
	}
	if v := binary.LittleEndian.Uint32(buf[28:32]); v != FormatVersion {
		t.Errorf("outbound version word = %d, want %d", v, FormatVersion)
	}

	// An enqueue is visible through the raw region: count word and slot
	// length prefix of the inbound half.
	reg.Inbound.Enqueue([]byte{0xAA, 0xBB})
	if c := binary.LittleEndian.Uint32(buf[8:12]); c != 1 {
		t.Errorf("inbound count word = %d, want 1", c)
	}
	dataStart := 2 * 16
	if l := binary.LittleEndian.Uint32(buf[dataStart : dataStart+4]); l != 2 {
		t.Errorf("slot length prefix = %d, want 2", l)
	}
	if buf[dataStart+4] != 0xAA || buf[dataStart+5] != 0xBB {
		t.Errorf("slot bytes = % x, want aa bb", buf[dataStart+4:dataStart+6])
	}
}

// TestConcurrentProducerConsumer runs one producer and one consumer on
// separate goroutines and verifies every message arrives intact and in
// order.
func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 20000
	r := &NewRegion(64, 8).Inbound

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, 4)
		for i := uint32(0); i < total; {
			binary.LittleEndian.PutUint32(buf, i)
			if r.Enqueue(buf) {
				i++
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := uint32(0); i < total; {
			data, ok := r.Dequeue()
			if !ok {
				continue
			}
			if len(data) != 4 {
				t.Errorf("message %d: %d bytes, want 4", i, len(data))
				return
			}
			if got := binary.LittleEndian.Uint32(data); got != i {
				t.Errorf("message %d arrived as %d", i, got)
				return
			}
			i++
		}
	}()

	wg.Wait()
}

// TestSetChannelBounds verifies out-of-range channels return nil rings.
func TestSetChannelBounds(t *testing.T) {
	s := NewSet(2, 4, 16)

	if s.Inbound(0) == nil || s.Outbound(1) == nil {
		t.Error("in-range channel returned nil ring")
	}
	if s.Inbound(2) != nil || s.Outbound(99) != nil {
		t.Error("out-of-range channel returned a ring")
	}
	if s.Channels() != 2 {
		t.Errorf("Channels() = %d, want 2", s.Channels())
	}
}
