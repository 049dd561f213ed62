// Package audio defines the system-audio loopback capturer and Opus
// encoder seam described in spec.md's audio budget line: pull
// fixed-duration PCM frames from the loopback device and encode them
// to Opus for the RTP audio stream.
package audio

import (
	"sync"
	"time"

	hopus "gopkg.in/hraban/opus.v2"

	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/nesterr"
)

// SampleRate and FrameDuration match Moonlight's fixed Opus framing:
// 48kHz stereo, 5ms frames (240 samples/channel per frame).
const (
	SampleRate      = 48000
	Channels        = 2
	FrameDurationMS = 5
	samplesPerFrame = SampleRate * FrameDurationMS / 1000

	// DefaultBitrateKbps is the Opus target bitrate used when a session
	// doesn't negotiate one explicitly: high enough for transparent
	// stereo music/game audio at low-latency frame sizes.
	DefaultBitrateKbps = 128
)

// PCMFrame is one fixed-duration block of interleaved signed 16-bit
// PCM samples pulled from the loopback device.
type PCMFrame struct {
	Samples []int16 // len == samplesPerFrame * Channels
}

// Capturer pulls PCM audio from the system loopback device.
type Capturer interface {
	// Start opens the loopback device. Returns a KindCapture error if
	// no loopback device is available.
	Start() error
	// Run captures into frames until Stop is called or a fatal device
	// error occurs.
	Run(frames chan<- PCMFrame) error
	// Stop releases the device.
	Stop() error
}

// Encoder compresses PCM frames to Opus packets.
type Encoder interface {
	// Encode compresses one PCMFrame into an Opus packet.
	Encode(frame PCMFrame) ([]byte, error)
	// Close releases encoder resources.
	Close() error
}

// OpusEncoder wraps the hraban/opus CGo bindings for hardware-grade
// encoding quality, matching the bitrate spec.md's audio line calls for.
type OpusEncoder struct {
	mu  sync.Mutex
	enc *hopus.Encoder
	buf []byte
}

// NewOpusEncoder opens an Opus encoder at the fixed audio-channel
// sample rate/channel count, tuned for low-latency interactive audio.
func NewOpusEncoder(bitrateKbps int) (*OpusEncoder, error) {
	enc, err := hopus.NewEncoder(SampleRate, Channels, hopus.AppAudio)
	if err != nil {
		return nil, nesterr.New(nesterr.KindCodec, "audio.NewOpusEncoder", err)
	}
	if bitrateKbps > 0 {
		if err := enc.SetBitrate(bitrateKbps * 1000); err != nil {
			return nil, nesterr.New(nesterr.KindCodec, "audio.NewOpusEncoder", err)
		}
	}
	return &OpusEncoder{enc: enc, buf: make([]byte, 4000)}, nil
}

func (e *OpusEncoder) Encode(frame PCMFrame) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.enc.Encode(frame.Samples, e.buf)
	if err != nil {
		return nil, nesterr.New(nesterr.KindCodec, "audio.Encode", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

func (e *OpusEncoder) Close() error { return nil }

// NullEncoder is a software fallback that wraps PCM frames as opaque
// "packets" without real Opus compression, for exercising the pipeline
// without cgo/libopus available.
type NullEncoder struct{}

// NewNullEncoder builds a NullEncoder.
func NewNullEncoder() *NullEncoder { return &NullEncoder{} }

func (e *NullEncoder) Encode(frame PCMFrame) ([]byte, error) {
	out := make([]byte, len(frame.Samples)*2)
	for i, s := range frame.Samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out, nil
}

func (e *NullEncoder) Close() error { return nil }

// NullCapturer synthesizes silent PCM frames at the fixed frame cadence,
// standing in for a real loopback device the way capture.NullCapturer
// stands in for the video capture SDK.
type NullCapturer struct {
	logger *nestlog.Logger
	stopCh chan struct{}
}

// NewNullCapturer builds a NullCapturer.
func NewNullCapturer(logger *nestlog.Logger) *NullCapturer {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &NullCapturer{logger: logger, stopCh: make(chan struct{})}
}

func (c *NullCapturer) Start() error { return nil }

func (c *NullCapturer) Run(frames chan<- PCMFrame) error {
	ticker := time.NewTicker(FrameDurationMS * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticker.C:
			frame := PCMFrame{Samples: make([]int16, samplesPerFrame*Channels)}
			select {
			case frames <- frame:
			case <-c.stopCh:
				return nil
			}
		}
	}
}

func (c *NullCapturer) Stop() error {
	close(c.stopCh)
	return nil
}
