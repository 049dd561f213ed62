// Package control implements the control channel: spec.md §4.6 —
// an enet-shaped reliable framing layer carrying AES-GCM encrypted
// input events from the client and feedback (rumble, HDR, ping) back.
package control

import (
	"encoding/binary"
	"fmt"
)

// frameHeaderSize is the enet-style outer frame header: 2-byte
// message type, 2-byte payload length, both little-endian.
const frameHeaderSize = 4

// Frame is one enet-style reliable-channel datagram.
type Frame struct {
	Type    uint16
	Payload []byte
}

// EncodeFrame serializes f as spec.md §4.6's outer framing:
// [2B type LE][2B len LE][payload].
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, frameHeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], f.Type)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	copy(buf[frameHeaderSize:], f.Payload)
	return buf
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, fmt.Errorf("control: frame shorter than header (%d bytes)", len(data))
	}
	msgType := binary.LittleEndian.Uint16(data[0:2])
	length := binary.LittleEndian.Uint16(data[2:4])
	if int(length) != len(data)-frameHeaderSize {
		return Frame{}, fmt.Errorf("control: frame length mismatch (header says %d, have %d)", length, len(data)-frameHeaderSize)
	}
	payload := make([]byte, length)
	copy(payload, data[frameHeaderSize:])
	return Frame{Type: msgType, Payload: payload}, nil
}
