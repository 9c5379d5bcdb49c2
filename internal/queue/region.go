package queue

import "unsafe"

// Region is the shared memory block for one logical channel: two ring
// headers followed by two slot arrays. Bytes() exposes the raw block for
// an engine-side consumer to map.
type Region struct {
	buf      []byte
	Inbound  Ring
	Outbound Ring
}

// NewRegion allocates a zeroed channel region and initialises both ring
// headers. slotCount and slotSize must be non-zero.
func NewRegion(slotCount, slotSize uint32) *Region {
	stride := lenPrefix + slotSize
	dataBytes := slotCount * stride
	total := 2*headerBytes + 2*dataBytes

	// Backed by a []uint64 so the header words are guaranteed aligned for
	// the atomic casts in wordAt.
	words := make([]uint64, (total+7)/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), total)

	r := &Region{buf: buf}
	inData := 2 * headerBytes
	outData := inData + int(dataBytes)

	r.Inbound = Ring{
		write:     wordAt(buf, 0),
		read:      wordAt(buf, 4),
		count:     wordAt(buf, 8),
		version:   wordAt(buf, 12),
		data:      buf[inData:outData],
		slotCount: slotCount,
		slotSize:  slotSize,
	}
	r.Outbound = Ring{
		write:     wordAt(buf, headerBytes),
		read:      wordAt(buf, headerBytes+4),
		count:     wordAt(buf, headerBytes+8),
		version:   wordAt(buf, headerBytes+12),
		data:      buf[outData:],
		slotCount: slotCount,
		slotSize:  slotSize,
	}

	r.Inbound.version.Store(FormatVersion)
	r.Outbound.version.Store(FormatVersion)
	return r
}

// Bytes returns the raw region for direct mapping by an external consumer.
func (r *Region) Bytes() []byte { return r.buf }

// Set holds the pre-allocated regions for a bounded range of logical
// channels. Channel numbers are dense small integers starting at 0.
type Set struct {
	regions []*Region
}

// NewSet pre-allocates channels regions of slotCount x slotSize each.
func NewSet(channels, slotCount, slotSize uint32) *Set {
	s := &Set{regions: make([]*Region, channels)}
	for i := range s.regions {
		s.regions[i] = NewRegion(slotCount, slotSize)
	}
	return s
}

// Channels returns the number of pre-allocated logical channels.
func (s *Set) Channels() int { return len(s.regions) }

// Region returns the region for a logical channel, or nil when the channel
// number is outside the configured range.
func (s *Set) Region(channel uint32) *Region {
	if int(channel) >= len(s.regions) {
		return nil
	}
	return s.regions[channel]
}

// Inbound returns the inbound ring for a channel, or nil if out of range.
func (s *Set) Inbound(channel uint32) *Ring {
	if r := s.Region(channel); r != nil {
		return &r.Inbound
	}
	return nil
}

// Outbound returns the outbound ring for a channel, or nil if out of range.
func (s *Set) Outbound(channel uint32) *Ring {
	if r := s.Region(channel); r != nil {
		return &r.Outbound
	}
	return nil
}
