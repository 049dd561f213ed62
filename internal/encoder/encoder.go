// Package encoder defines the hardware video encoder seam of
// spec.md §4.3: a submit/drain codec interface over the shared surface
// pool, plus a software fallback that produces synthetic bitstreams.
package encoder

import (
	"sync"

	"github.com/nestream/nestream/internal/capture"
	"github.com/nestream/nestream/internal/nesterr"
)

// Codec names the compressed video format, per spec.md §3's
// {H264, HEVC} tag.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
)

// Packet is a compressed video packet: opaque bytes, a presentation
// timestamp in the encoder's time base, and a keyframe flag.
type Packet struct {
	Data      []byte
	PTS       uint64
	Keyframe  bool
}

// Options configures Open, per spec.md §4.3.
type Options struct {
	Codec      Codec
	Width      int
	Height     int
	Framerate  int
	BitrateKbps int
	GOPSize    int // frames per keyframe interval
}

// Encoder is the hardware codec seam: submit surfaces, drain
// compressed packets. submit/drain are never called concurrently —
// a single task owns the submit/drain loop.
type Encoder interface {
	// Submit hands a captured frame to the codec at the given
	// presentation timestamp. Returns a KindCodec error if the codec
	// has failed fatally.
	Submit(frame *capture.Frame, pts uint64) error
	// Drain returns the next packet produced by the codec. Returns
	// nesterr.ErrAgain once no more packets are ready — the caller's
	// drain loop terminates on that sentinel, not an error condition.
	Drain() (Packet, error)
	// ForceKeyframe marks the next submitted frame as a keyframe and
	// resets the GOP counter.
	ForceKeyframe()
	// Close releases the codec context.
	Close() error
}

// SoftwareEncoder is a software fallback standing in for the hardware
// H.264/HEVC codec: it does not compress frames, it wraps each
// incoming surface as an opaque packet so the rest of the pipeline
// (packetizer, FEC, UDP transmit) is exercisable without GPU encoder
// access.
type SoftwareEncoder struct {
	opts Options

	mu           sync.Mutex
	frameCounter int
	forceKey     bool
	queue        []Packet
}

// NewSoftwareEncoder builds a SoftwareEncoder per opts.
func NewSoftwareEncoder(opts Options) *SoftwareEncoder {
	if opts.GOPSize <= 0 {
		opts.GOPSize = opts.Framerate // one second of frames; callers pass framerate * gop_seconds
	}
	return &SoftwareEncoder{opts: opts}
}

func (e *SoftwareEncoder) Submit(frame *capture.Frame, pts uint64) error {
	if frame == nil {
		return nesterr.New(nesterr.KindCodec, "encoder.Submit", errNilFrame{})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	keyframe := e.forceKey || e.frameCounter%e.opts.GOPSize == 0
	if e.forceKey {
		e.forceKey = false
		e.frameCounter = 0
	}
	e.frameCounter++

	payload := make([]byte, len(frame.Data))
	copy(payload, frame.Data)
	e.queue = append(e.queue, Packet{Data: payload, PTS: pts, Keyframe: keyframe})
	return nil
}

func (e *SoftwareEncoder) Drain() (Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Packet{}, nesterr.ErrAgain
	}
	p := e.queue[0]
	e.queue = e.queue[1:]
	return p, nil
}

// DrainAll pulls every packet currently queued, stopping at
// nesterr.ErrAgain. Convenience wrapper over Drain for callers that
// want a batch instead of running their own loop.
func (e *SoftwareEncoder) DrainAll() ([]Packet, error) {
	var out []Packet
	for {
		p, err := e.Drain()
		if err == nesterr.ErrAgain {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

func (e *SoftwareEncoder) ForceKeyframe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceKey = true
}

func (e *SoftwareEncoder) Close() error { return nil }

type errNilFrame struct{}

func (errNilFrame) Error() string { return "encoder: nil frame submitted" }
