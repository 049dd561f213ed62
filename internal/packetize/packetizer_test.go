package packetize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestream/nestream/internal/wire"
)

// TestS1BoundaryScenario is spec.md's literal scenario S1: frame of
// 30000 bytes, MTU 1392, fec 20 -> exactly 22 data shards and 5 FEC
// shards, sequence 0..26.
func TestS1BoundaryScenario(t *testing.T) {
	p := New(1392, 20, 0xA, nil)
	frame := make([]byte, 30000)
	rand.New(rand.NewSource(1)).Read(frame)

	packets, err := p.Packetize(frame, 0, 1)
	require.NoError(t, err)

	dataShards, fecShards := p.shardCounts(30000)
	assert.Equal(t, 22, dataShards)
	assert.Equal(t, 5, fecShards)
	require.Len(t, packets, 27)

	for i, pkt := range packets {
		assert.Equal(t, uint16(i), pkt.RTP.Sequence)
	}
}

// TestInvariantExactlyOneStartOneEnd is spec.md invariant 3.
func TestInvariantExactlyOneStartOneEnd(t *testing.T) {
	p := New(1392, 20, 1, nil)
	frame := make([]byte, 5000)
	packets, err := p.Packetize(frame, 0, 1)
	require.NoError(t, err)

	starts, ends := 0, 0
	for _, pkt := range packets {
		if pkt.NV.Flags&wire.FlagStartOfFrame != 0 {
			starts++
		}
		if pkt.NV.Flags&wire.FlagEndOfFrame != 0 {
			ends++
		}
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)
}

// TestInvariantRoundTripPayload is spec.md invariant 1: reassembled
// data shard payloads (padding removed) equal the original frame bytes.
func TestInvariantRoundTripPayload(t *testing.T) {
	p := New(1392, 20, 1, nil)
	frame := make([]byte, 30000)
	rand.New(rand.NewSource(2)).Read(frame)

	packets, err := p.Packetize(frame, 0, 1)
	require.NoError(t, err)

	dataShards, fecShards := p.shardCounts(len(frame))
	var data [][]byte
	var padding int
	for _, pkt := range packets[:dataShards] {
		data = append(data, pkt.Payload)
	}
	_, _, _, lastPadding := wire.UnpackFECInfo(packets[dataShards-1].NV.FECInfo)
	padding = int(lastPadding)
	_ = fecShards

	got := ReassembleFrame(data, padding)
	assert.Equal(t, frame, got)
}

func TestSequenceWrapsAcrossFrames(t *testing.T) {
	p := New(1392, 0, 1, nil)
	p.sequence = 0xFFFE

	_, err := p.Packetize(make([]byte, 10), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), p.sequence)

	_, err = p.Packetize(make([]byte, 10), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0000), p.sequence)
}

// TestS2FrameBoundaryFlags is spec.md's literal scenario S2: for frame
// index 7, the first shard carries flags 0x05 (START|PIC_DATA) and the
// last data shard carries 0x03 (END|PIC_DATA); FEC shards carry
// redundancy, not picture data, so they must never carry PIC_DATA.
func TestS2FrameBoundaryFlags(t *testing.T) {
	p := New(1392, 20, 0xA, nil)
	p.frameIndex = 7
	frame := make([]byte, 5000)
	rand.New(rand.NewSource(7)).Read(frame)

	packets, err := p.Packetize(frame, 0, 1)
	require.NoError(t, err)

	dataShards, fecShards := p.shardCounts(len(frame))
	require.Len(t, packets, dataShards+fecShards)

	first := packets[0]
	assert.Equal(t, uint32(7), first.NV.FrameIndex)
	assert.Equal(t, uint8(0x05), first.NV.Flags)

	last := packets[dataShards-1]
	assert.Equal(t, uint32(7), last.NV.FrameIndex)
	assert.Equal(t, uint8(0x03), last.NV.Flags)

	for _, pkt := range packets[dataShards:] {
		assert.Zero(t, pkt.NV.Flags&wire.FlagContainsPicData, "FEC shard must not carry CONTAINS_PIC_DATA")
	}
}

func TestSmallFrameStillEmitsFECShard(t *testing.T) {
	p := New(1392, 20, 1, nil)
	packets, err := p.Packetize(make([]byte, 10), 0, 1)
	require.NoError(t, err)

	dataShards, fecShards := p.shardCounts(10)
	assert.Equal(t, 1, dataShards)
	assert.GreaterOrEqual(t, fecShards, 1)
	assert.Len(t, packets, dataShards+fecShards)
}
