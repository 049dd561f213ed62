package udpstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/wire"
)

const (
	// catchupSpeedMultiplier is how much faster the pacer drains once
	// its queue backs up, so a transient stall doesn't snowball into
	// ever-growing latency.
	catchupSpeedMultiplier = 1.1
	catchupThreshold       = 5
	maxPacketDelay         = 200 * time.Millisecond

	audioClockRate = 48000
)

// PacedSend is one outbound unit the Pacer schedules: a fully framed
// wire packet plus the RTP timestamp driving its cadence.
type PacedSend struct {
	Data      []byte
	Timestamp uint32
	Keyframe  bool
}

// Pacer smooths bursty packetizer/encoder output back to the stream's
// nominal clock before handing packets to a Stream's send queue, the
// same leaky-bucket shape the teacher uses to smooth WebRTC sends,
// adapted to drive a raw UDP Stream instead.
type Pacer struct {
	logger    *nestlog.Logger
	clockRate uint32
	limiter   *rate.Limiter

	queue chan PacedSend
	send  func([]byte)

	mu          sync.Mutex
	lastTS      uint32
	lastSentAt  time.Time
	haveFirst   bool
	catchups    uint64
	sent        uint64
	totalDelay  time.Duration
}

// maxBurstPacketsPerSecond bounds worst-case send rate (e.g. during
// catch-up mode) so a stalled receiver can never be flooded faster
// than the link is plausibly able to drain.
const maxBurstPacketsPerSecond = 2000

// NewPacer builds a Pacer for a stream clocked at clockRate Hz (90000
// for video, 48000 for audio), delivering paced packets to send.
func NewPacer(clockRate uint32, logger *nestlog.Logger, send func([]byte)) *Pacer {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &Pacer{
		logger:    logger,
		clockRate: clockRate,
		limiter:   rate.NewLimiter(rate.Limit(maxBurstPacketsPerSecond), maxBurstPacketsPerSecond/10),
		queue:     make(chan PacedSend, 16),
		send:      send,
	}
}

// Enqueue submits a packet for paced delivery, blocking only if the
// internal micro-burst buffer (16 packets) is also full.
func (p *Pacer) Enqueue(ctx context.Context, s PacedSend) {
	select {
	case p.queue <- s:
	case <-ctx.Done():
	}
}

// Run drains the pacer's queue until ctx is canceled.
func (p *Pacer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.queue:
			p.paceOne(ctx, s)
		}
	}
}

func (p *Pacer) paceOne(ctx context.Context, s PacedSend) {
	p.mu.Lock()
	if !p.haveFirst {
		p.haveFirst = true
		p.lastTS = s.Timestamp
		p.lastSentAt = time.Now()
		p.mu.Unlock()
		p.send(s.Data)
		p.sent++
		return
	}

	delay := p.delayFor(s.Timestamp)
	queueDepth := len(p.queue)
	if queueDepth >= catchupThreshold {
		delay = time.Duration(float64(delay) / catchupSpeedMultiplier)
		p.catchups++
	}
	if delay > maxPacketDelay {
		delay = maxPacketDelay
	}
	if delay < 0 {
		delay = 0
	}
	p.totalDelay += delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	p.send(s.Data)

	p.mu.Lock()
	p.lastTS = s.Timestamp
	p.lastSentAt = time.Now()
	p.sent++
	p.mu.Unlock()

	p.logger.DebugRTP("paced send", "timestamp", s.Timestamp, "delay_ms", delay.Milliseconds(), "keyframe", s.Keyframe)
}

// delayFor computes the wall-clock delay before sending a packet with
// RTP timestamp currentTS, handling uint32 wraparound of the clock.
func (p *Pacer) delayFor(currentTS uint32) time.Duration {
	var delta uint32
	if currentTS >= p.lastTS {
		delta = currentTS - p.lastTS
	} else {
		delta = (0xFFFFFFFF - p.lastTS) + currentTS + 1
	}
	nominal := time.Duration(delta) * time.Second / time.Duration(p.clockRate)
	elapsed := time.Since(p.lastSentAt)
	return nominal - elapsed
}

// PacerStats reports cumulative pacer counters.
type PacerStats struct {
	Sent       uint64
	Catchups   uint64
	AvgDelayMs float64
}

// Stats returns a snapshot of the pacer's counters.
func (p *Pacer) Stats() PacerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var avg float64
	if p.sent > 0 {
		avg = float64(p.totalDelay.Milliseconds()) / float64(p.sent)
	}
	return PacerStats{Sent: p.sent, Catchups: p.catchups, AvgDelayMs: avg}
}

// VideoClockRate and AudioClockRate are the nominal RTP clocks per
// spec.md §6.
const (
	VideoClockRate = wire.ClockRateVideo
	AudioClockRate = audioClockRate
)
