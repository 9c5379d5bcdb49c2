package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serializes a Frame into a byte slice for DataChannel transmission.
// The sender id is padded or truncated to exactly SenderSize bytes.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	copy(buf[:SenderSize], f.Sender)
	binary.LittleEndian.PutUint32(buf[SenderSize:SenderSize+4], f.Channel)
	binary.LittleEndian.PutUint32(buf[SenderSize+4:HeaderSize], uint32(len(f.Payload)))
	if len(f.Payload) > 0 {
		copy(buf[HeaderSize:], f.Payload)
	}
	return buf
}

// Decode deserializes a byte slice into a Frame. Trailing zero bytes of the
// sender field are stripped when reconstructing the id string. The payload
// is copied out of data, so the caller may reuse the buffer.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	payloadLen := binary.LittleEndian.Uint32(data[SenderSize+4 : HeaderSize])
	// Compare in uint64: int(payloadLen) would go negative on 32-bit
	// builds for lengths past MaxInt32 and skip the guard.
	if uint64(payloadLen) > uint64(len(data)-HeaderSize) {
		return nil, fmt.Errorf("declared payload length %d exceeds remaining %d bytes",
			payloadLen, len(data)-HeaderSize)
	}
	f := &Frame{
		Sender:  string(bytes.TrimRight(data[:SenderSize], "\x00")),
		Channel: binary.LittleEndian.Uint32(data[SenderSize : SenderSize+4]),
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, data[HeaderSize:HeaderSize+payloadLen])
	}
	return f, nil
}
