// Package wire implements the RTP/NV wire framing used by the video,
// audio, and feedback paths: explicit-endian header serialization with
// no native-endian assumption anywhere, per spec §4.1.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Sizes of the two headers every video (and audio) packet carries, in
// that order on the wire: RTP header first, then the NV extension.
const (
	RTPHeaderSize = 12
	NVHeaderSize  = 16
)

// RTP packet types, as carried in the payload-type byte of RTPHeader.
const (
	PacketTypeAudio                 uint8 = 97
	PacketTypeAudioFEC              uint8 = 127
)

// RTPHeader is the 12-byte big-endian header spec §3/§4.1 defines:
// 1-byte flags, 1-byte packet type, 2-byte sequence number, 4-byte
// timestamp (90kHz clock for video), 4-byte SSRC — the standard RTP
// fixed header size, which §4.1's "appends exactly 12 + 16 + len(payload)"
// contract and the MTU math in §4.4 both depend on.
type RTPHeader struct {
	Flags      uint8
	PacketType uint8
	Sequence   uint16
	Timestamp  uint32
	SSRC       uint32
}

// Marshal appends the 12-byte big-endian encoding of h to out.
func (h RTPHeader) Marshal(out []byte) []byte {
	var buf [RTPHeaderSize]byte
	buf[0] = h.Flags
	buf[1] = h.PacketType
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return append(out, buf[:]...)
}

// ParseRTPHeader reads a 12-byte big-endian RTPHeader from the front of
// data, returning the remaining bytes.
func ParseRTPHeader(data []byte) (RTPHeader, []byte, error) {
	if len(data) < RTPHeaderSize {
		return RTPHeader{}, nil, fmt.Errorf("wire: short RTP header (%d bytes)", len(data))
	}
	h := RTPHeader{
		Flags:      data[0],
		PacketType: data[1],
		Sequence:   binary.BigEndian.Uint16(data[2:4]),
		Timestamp:  binary.BigEndian.Uint32(data[4:8]),
		SSRC:       binary.BigEndian.Uint32(data[8:12]),
	}
	return h, data[RTPHeaderSize:], nil
}

// RTPFlag bits, per spec §3.
const (
	FlagContainsPicData uint8 = 1 << 0
	FlagEndOfFrame      uint8 = 1 << 1
	FlagStartOfFrame    uint8 = 1 << 2
)

// NVHeader is the proprietary 16-byte little-endian header placed
// immediately after the RTP header on video packets, per spec §3.
//
// fec_info's bit layout is not documented anywhere in the source this
// spec was distilled from (see DESIGN.md "Open Question resolution").
// nestream defines its own internally-consistent packing:
//
//	bits  0- 7: shard index within the frame
//	bits  8-15: data shard count for the frame
//	bits 16-23: FEC shard count for the frame
//	bits 24-31: zero-padding length of the final data shard, in bytes
type NVHeader struct {
	StreamPacketIndex uint32
	FrameIndex        uint32
	Flags             uint8
	Reserved          uint8
	MultiFECFlags     uint8
	MultiFECBlocks    uint8
	FECInfo           uint32
}

// PackFECInfo builds the FECInfo field from its four sub-fields.
func PackFECInfo(shardIndex, dataShards, fecShards, padding uint8) uint32 {
	return uint32(shardIndex) | uint32(dataShards)<<8 | uint32(fecShards)<<16 | uint32(padding)<<24
}

// UnpackFECInfo splits a FECInfo field back into its four sub-fields.
func UnpackFECInfo(info uint32) (shardIndex, dataShards, fecShards, padding uint8) {
	return uint8(info), uint8(info >> 8), uint8(info >> 16), uint8(info >> 24)
}

// Marshal appends the 16-byte little-endian encoding of h to out.
func (h NVHeader) Marshal(out []byte) []byte {
	var buf [NVHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.StreamPacketIndex)
	binary.LittleEndian.PutUint32(buf[4:8], h.FrameIndex)
	buf[8] = h.Flags
	buf[9] = h.Reserved
	buf[10] = h.MultiFECFlags
	buf[11] = h.MultiFECBlocks
	binary.LittleEndian.PutUint32(buf[12:16], h.FECInfo)
	return append(out, buf[:]...)
}

// ParseNVHeader reads a 16-byte little-endian NVHeader from the front of
// data, returning the remaining bytes (the shard payload).
func ParseNVHeader(data []byte) (NVHeader, []byte, error) {
	if len(data) < NVHeaderSize {
		return NVHeader{}, nil, fmt.Errorf("wire: short NV header (%d bytes)", len(data))
	}
	h := NVHeader{
		StreamPacketIndex: binary.LittleEndian.Uint32(data[0:4]),
		FrameIndex:        binary.LittleEndian.Uint32(data[4:8]),
		Flags:             data[8],
		Reserved:          data[9],
		MultiFECFlags:     data[10],
		MultiFECBlocks:    data[11],
		FECInfo:           binary.LittleEndian.Uint32(data[12:16]),
	}
	return h, data[NVHeaderSize:], nil
}

// VideoPacket is a fully framed wire packet: RTP header, NV header, and
// shard payload.
type VideoPacket struct {
	RTP     RTPHeader
	NV      NVHeader
	Payload []byte
}

// SerializeRTPVideo appends exactly 12 + 16 + len(p.Payload) bytes to out,
// matching the §4.1 contract.
func SerializeRTPVideo(p VideoPacket, out []byte) []byte {
	out = p.RTP.Marshal(out)
	out = p.NV.Marshal(out)
	out = append(out, p.Payload...)
	return out
}

// ParseRTPVideo is the exact inverse of SerializeRTPVideo.
func ParseRTPVideo(data []byte) (VideoPacket, error) {
	rtpHdr, rest, err := ParseRTPHeader(data)
	if err != nil {
		return VideoPacket{}, err
	}
	nvHdr, payload, err := ParseNVHeader(rest)
	if err != nil {
		return VideoPacket{}, err
	}
	return VideoPacket{RTP: rtpHdr, NV: nvHdr, Payload: payload}, nil
}

// ClockRateVideo is the RTP timestamp clock for the video stream (90kHz,
// the RTP convention for video regardless of source frame rate).
const ClockRateVideo = 90000

// ToVideoClock converts a PTS (in the given source clock rate, e.g. a
// codec time base) to the 90kHz RTP video clock.
func ToVideoClock(pts uint64, sourceClockRate uint64) uint32 {
	if sourceClockRate == 0 {
		return uint32(pts)
	}
	return uint32((pts * ClockRateVideo) / sourceClockRate)
}
