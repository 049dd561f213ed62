// Package packetize implements the video packetizer: §4.4 — fragment a
// compressed frame into MTU-sized RTP packets, add FEC shards, stamp
// sequence and frame indices.
package packetize

import (
	"fmt"

	"github.com/nestream/nestream/internal/fec"
	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/wire"
)

// Packetizer turns compressed frames into wire-ready video packets. It
// owns the per-stream sequence counter and frame index, so a Packetizer
// must not be shared across streams that need independent numbering.
type Packetizer struct {
	mtu           int
	fecPercentage int
	ssrc          uint32
	logger        *nestlog.Logger

	sequence   uint16
	frameIndex uint32
	streamPkt  uint32
}

// New builds a Packetizer. mtu is the configured UDP MTU (the caller's
// outer budget, e.g. 1392); fecPercentage is 0..=255 per spec.md §3.
func New(mtu, fecPercentage int, ssrc uint32, logger *nestlog.Logger) *Packetizer {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &Packetizer{mtu: mtu, fecPercentage: fecPercentage, ssrc: ssrc, logger: logger}
}

// payloadMTU is the usable shard payload size after subtracting the RTP
// and NV headers, per spec.md §4.4 step 1.
func (p *Packetizer) payloadMTU() int {
	return p.mtu - wire.RTPHeaderSize - wire.NVHeaderSize
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// shardCounts computes the data/FEC shard split for a frame of length L,
// per spec.md §4.4 steps 2-3.
func (p *Packetizer) shardCounts(frameLen int) (dataShards, fecShards int) {
	mtu := p.payloadMTU()
	dataShards = ceilDiv(frameLen, mtu)
	if dataShards == 0 {
		dataShards = 1
	}
	if p.fecPercentage <= 0 {
		return dataShards, 0
	}
	fecShards = ceilDiv(dataShards*p.fecPercentage, 100)
	maxFEC := fec.MaxShards - dataShards
	if maxFEC < 1 {
		maxFEC = 1
	}
	if fecShards < 1 {
		fecShards = 1
	}
	if fecShards > maxFEC {
		fecShards = maxFEC
	}
	return dataShards, fecShards
}

// Packetize fragments frame (with presentation timestamp pts, in the
// given source clock rate) into wire.VideoPacket values ready for
// transmission. Packets are returned in send order.
func (p *Packetizer) Packetize(frame []byte, pts uint64, sourceClockRate uint64) ([]wire.VideoPacket, error) {
	dataShards, fecShards := p.shardCounts(len(frame))
	shardSize := p.payloadMTU()

	shards := make([][]byte, dataShards+fecShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = make([]byte, shardSize)
	}

	var padding int
	offset := 0
	for i := 0; i < dataShards; i++ {
		n := copy(shards[i], frame[offset:])
		offset += n
		if i == dataShards-1 {
			padding = shardSize - n
		}
	}

	if fecShards > 0 {
		for i := dataShards; i < dataShards+fecShards; i++ {
			shards[i] = make([]byte, shardSize)
		}
		codec, err := fec.New(dataShards, fecShards)
		if err != nil {
			return nil, fmt.Errorf("packetize: %w", err)
		}
		if err := codec.Encode(shards); err != nil {
			return nil, fmt.Errorf("packetize: %w", err)
		}
	}

	timestamp := wire.ToVideoClock(pts, sourceClockRate)
	frameIndex := p.frameIndex
	p.frameIndex++

	packets := make([]wire.VideoPacket, len(shards))
	for i, shard := range shards {
		var flags uint8
		if i < dataShards {
			flags |= wire.FlagContainsPicData
		}
		if i == 0 {
			flags |= wire.FlagStartOfFrame
		}
		if i == dataShards-1 {
			flags |= wire.FlagEndOfFrame
		}

		shardPadding := 0
		if i == dataShards-1 {
			shardPadding = padding
		}

		nv := wire.NVHeader{
			StreamPacketIndex: p.streamPkt,
			FrameIndex:        frameIndex,
			Flags:             flags,
			MultiFECBlocks:    uint8(dataShards),
			FECInfo:           wire.PackFECInfo(uint8(i), uint8(dataShards), uint8(fecShards), uint8(shardPadding)),
		}
		p.streamPkt++

		rtpHdr := wire.RTPHeader{
			Flags:      0,
			PacketType: 0,
			Sequence:   p.sequence,
			Timestamp:  timestamp,
			SSRC:       p.ssrc,
		}
		p.sequence++

		packets[i] = wire.VideoPacket{RTP: rtpHdr, NV: nv, Payload: shard}
		p.logger.DebugRTP("packetized shard", "frame_index", frameIndex, "shard", i,
			"data_shards", dataShards, "fec_shards", fecShards, "flags", flags)
	}

	return packets, nil
}

// ReassembleFrame removes a shard's padding and concatenates the data
// shards of a frame back into the original bytes, the exact inverse of
// Packetize's fragmentation — used by tests and by any future receive
// path validating invariant 1.
func ReassembleFrame(dataShards [][]byte, finalShardPadding int) []byte {
	out := make([]byte, 0, len(dataShards)*len(dataShards[0]))
	for i, shard := range dataShards {
		if i == len(dataShards)-1 && finalShardPadding > 0 && finalShardPadding <= len(shard) {
			shard = shard[:len(shard)-finalShardPadding]
		}
		out = append(out, shard...)
	}
	return out
}
