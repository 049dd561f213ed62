// Package capture defines the frame capturer seam of spec.md §4.2: the
// opaque hardware-surface producer that feeds the video encoder
// through a shared, double-buffered surface slot.
package capture

import (
	"sync"
	"time"

	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/nesterr"
)

// PixelFormat names the surface's pixel layout, mirroring the vendor
// SDK vocabulary (NV12 is the common hardware-encoder native format).
type PixelFormat string

const (
	PixelFormatNV12 PixelFormat = "nv12"
	PixelFormatBGRA PixelFormat = "bgra"
)

// Frame is one captured hardware surface. Data is opaque to this
// package — a real backend would carry a GPU handle instead of bytes;
// the software implementation here carries raw pixel bytes so the
// pipeline is exercisable without a GPU.
type Frame struct {
	Width, Height int
	Format        PixelFormat
	Data          []byte
	SequenceNum   uint64
}

// Slot is the zero-copy handoff point between capturer and encoder,
// per spec.md §3: a pair of frames guarded by a mutex, with a condition
// variable used to wake a waiting encoder. At most one unread frame is
// held — a second capture overwrites rather than queues.
type Slot struct {
	mu   sync.Mutex
	cond *sync.Cond

	captureSide *Frame
	encoderSide *Frame
	hasUnread   bool
}

// NewSlot builds an empty Slot.
func NewSlot() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish is called by the capturer with a newly captured frame. The
// mutex is held only for the swap, never across the vendor capture
// call — callers must capture into a local Frame value first.
func (s *Slot) Publish(f *Frame) {
	s.mu.Lock()
	s.captureSide = f
	s.hasUnread = true
	s.mu.Unlock()
	s.cond.Signal()
}

// Take blocks until a frame is available, then returns it, clearing
// the unread flag. If the encoder hasn't consumed the previous frame
// before the next capture lands, Take only ever sees the newest one —
// the dropped intermediate frame is never queued.
func (s *Slot) Take() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.hasUnread {
		s.cond.Wait()
	}
	s.encoderSide = s.captureSide
	s.hasUnread = false
	return s.encoderSide
}

// Capturer produces a stream of frames at a target framerate.
type Capturer interface {
	// Start begins streaming frames at the requested rate and pixel
	// format. Returns a KindCapture error if no compatible device exists.
	Start(framerate int, format PixelFormat) error
	// Run captures into slot until Stop is called or a fatal capture
	// error occurs, in which case it returns a KindCapture error.
	Run(slot *Slot) error
	// Stop releases the capture device.
	Stop() error
}

// ErrNoDevice is returned by Start when no compatible capture device
// is available, matching spec.md §4.2's CaptureUnavailable.
var ErrNoDevice = nesterr.New(nesterr.KindCapture, "capture.Start", errNoDevice{})

type errNoDevice struct{}

func (errNoDevice) Error() string { return "no compatible capture device" }

// NullCapturer is a software fallback that synthesizes solid-color
// frames at the requested rate — useful for running the pipeline
// without GPU/OS capture access, e.g. in tests or headless CI.
type NullCapturer struct {
	logger    *nestlog.Logger
	width     int
	height    int
	framerate int
	format    PixelFormat
	stopCh    chan struct{}
	seq       uint64
}

// NewNullCapturer builds a NullCapturer producing width x height frames.
func NewNullCapturer(width, height int, logger *nestlog.Logger) *NullCapturer {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &NullCapturer{logger: logger, width: width, height: height, stopCh: make(chan struct{})}
}

func (c *NullCapturer) Start(framerate int, format PixelFormat) error {
	c.framerate = framerate
	c.format = format
	return nil
}

func (c *NullCapturer) Run(slot *Slot) error {
	frameSize := c.width * c.height * 3 / 2 // NV12 is 1.5 bytes/pixel
	interval := time.Second / time.Duration(max(c.framerate, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticker.C:
			c.seq++
			slot.Publish(&Frame{Width: c.width, Height: c.height, Format: c.format, Data: make([]byte, frameSize), SequenceNum: c.seq})
		}
	}
}

func (c *NullCapturer) Stop() error {
	close(c.stopCh)
	return nil
}
