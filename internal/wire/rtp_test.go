package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTPHeaderRoundTrip(t *testing.T) {
	h := RTPHeader{Flags: 0x05, PacketType: 0x61, Sequence: 4242, Timestamp: 90000, SSRC: 0xdeadbeef}
	out := h.Marshal(nil)
	require.Len(t, out, RTPHeaderSize)

	got, rest, err := ParseRTPHeader(out)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, h, got)
}

func TestNVHeaderRoundTrip(t *testing.T) {
	h := NVHeader{
		StreamPacketIndex: 17,
		FrameIndex:        7,
		Flags:             FlagStartOfFrame | FlagContainsPicData,
		MultiFECFlags:     0,
		MultiFECBlocks:    1,
		FECInfo:           PackFECInfo(0, 22, 5, 12),
	}
	out := h.Marshal(nil)
	require.Len(t, out, NVHeaderSize)

	got, rest, err := ParseNVHeader(out)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, h, got)

	shard, data, fecShards, padding := UnpackFECInfo(got.FECInfo)
	assert.Equal(t, uint8(0), shard)
	assert.Equal(t, uint8(22), data)
	assert.Equal(t, uint8(5), fecShards)
	assert.Equal(t, uint8(12), padding)
}

// TestSerializeRTPVideoSize covers the §4.1 contract: exactly 12 + 16 +
// len(payload) bytes emitted.
func TestSerializeRTPVideoSize(t *testing.T) {
	payload := make([]byte, 1337)
	pkt := VideoPacket{
		RTP:     RTPHeader{Sequence: 1},
		NV:      NVHeader{FrameIndex: 1},
		Payload: payload,
	}
	out := SerializeRTPVideo(pkt, nil)
	assert.Len(t, out, RTPHeaderSize+NVHeaderSize+len(payload))

	parsed, err := ParseRTPVideo(out)
	require.NoError(t, err)
	assert.Equal(t, pkt.RTP, parsed.RTP)
	assert.Equal(t, pkt.NV, parsed.NV)
	assert.Equal(t, payload, parsed.Payload)
}

// TestS3RumbleWireFormat is spec.md's literal scenario S3.
func TestS3RumbleWireFormat(t *testing.T) {
	r := RumbleCommand{GamepadID: 1, LowFreq: 0xAABB, HighFreq: 0xCCDD}
	got := r.AsPacket()
	want := []byte{0x0B, 0x01, 0x0A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0xBB, 0xAA, 0xDD, 0xCC}
	assert.Equal(t, want, got)

	parsed, err := ParseRumbleCommand(got)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestToVideoClock(t *testing.T) {
	assert.Equal(t, uint32(90000), ToVideoClock(1, 1))
	assert.Equal(t, uint32(90000), ToVideoClock(1000, 1000))
	assert.Equal(t, uint32(45000), ToVideoClock(500, 1000))
}
