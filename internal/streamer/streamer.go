// Package streamer wires together the capture, encoder, audio,
// packetizer, FEC, pacing, and control-channel packages into the
// running media pipeline a streaming session drives, and exposes that
// lifecycle as an rtsp.SessionHandler.
package streamer

import (
	"context"
	"sync"

	"github.com/nestream/nestream/internal/audio"
	"github.com/nestream/nestream/internal/capture"
	"github.com/nestream/nestream/internal/control"
	"github.com/nestream/nestream/internal/encoder"
	"github.com/nestream/nestream/internal/nestconfig"
	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/nesterr"
	"github.com/nestream/nestream/internal/packetize"
	"github.com/nestream/nestream/internal/rtsp"
	"github.com/nestream/nestream/internal/session"
	"github.com/nestream/nestream/internal/udpstream"
	"github.com/nestream/nestream/internal/wire"
)

// Server owns the media pipeline for the server's single concurrent
// session, per spec.md §4.7/§4.9. It implements rtsp.SessionHandler:
// RTSP SETUP/PLAY/TEARDOWN drive starting and stopping the pipeline.
type Server struct {
	cfg     *nestconfig.Config
	session *session.Manager
	logger  *nestlog.Logger

	videoStream *udpstream.Stream
	audioStream *udpstream.Stream
	ctrlStream  *udpstream.Stream

	// ctrlTransport is wired in once, at New, as ctrlStream's receive
	// callback: the UDP socket outlives any one session, so the
	// Transport it feeds must too. Only the per-session Cipher and
	// Channel are rebuilt on each Play.
	ctrlTransport *control.StreamTransport

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	setupSet map[string]bool
}

// New builds a Server bound to the three UDP media ports in cfg.
func New(cfg *nestconfig.Config, sessionMgr *session.Manager, logger *nestlog.Logger) (*Server, error) {
	if logger == nil {
		logger = nestlog.Default()
	}
	s := &Server{cfg: cfg, session: sessionMgr, logger: logger, setupSet: make(map[string]bool)}

	var err error
	s.videoStream, err = udpstream.New("video", cfg.VideoPort, logger, nil)
	if err != nil {
		return nil, nesterr.New(nesterr.KindNetwork, "streamer.New", err)
	}
	s.audioStream, err = udpstream.New("audio", cfg.AudioPort, logger, nil)
	if err != nil {
		return nil, nesterr.New(nesterr.KindNetwork, "streamer.New", err)
	}

	// ctrlStream is built without an onReceive callback; the
	// StreamTransport is then built on it and wired in as the callback.
	s.ctrlStream, err = udpstream.New("control", cfg.ControlPort, logger, nil)
	if err != nil {
		return nil, nesterr.New(nesterr.KindNetwork, "streamer.New", err)
	}
	s.ctrlTransport = control.NewStreamTransport(s.ctrlStream)
	s.ctrlStream.SetOnReceive(s.ctrlTransport.OnReceive)
	return s, nil
}

// Run starts the three UDP stream send/receive loops and blocks until
// ctx is canceled. Call this once, in its own goroutine, for the
// lifetime of the process — independent of any particular session.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.videoStream.Run(ctx) }()
	go func() { defer wg.Done(); s.audioStream.Run(ctx) }()
	go func() { defer wg.Done(); s.ctrlStream.Run(ctx) }()
	wg.Wait()
}

// Close releases the three UDP sockets.
func (s *Server) Close() error {
	s.videoStream.Close()
	s.audioStream.Close()
	s.ctrlStream.Close()
	return nil
}

// Describe implements rtsp.SessionHandler.
func (s *Server) Describe() (rtsp.MediaDescription, error) {
	ctx := s.session.Current()
	if ctx == nil {
		return rtsp.MediaDescription{}, nesterr.New(nesterr.KindProtocol, "streamer.Describe",
			errNoActiveSession{})
	}
	return rtsp.MediaDescription{
		Width: ctx.Width, Height: ctx.Height, FPS: ctx.FPS,
		BitrateKbps: ctx.BitrateKbps, FECPercent: ctx.FECPercent,
		AudioSampleRate: audio.SampleRate, AudioChannels: audio.Channels,
		VideoPort: s.videoStream.LocalPort(), AudioPort: s.audioStream.LocalPort(),
		ControlPort: s.ctrlStream.LocalPort(),
	}, nil
}

// Setup implements rtsp.SessionHandler: tracks which media lines have
// been negotiated. Play refuses to start until all three have.
func (s *Server) Setup(mediaType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupSet[mediaType] = true
	return nil
}

// Play implements rtsp.SessionHandler: starts the capture/encode/
// packetize/pace pipeline and the control channel, then moves the
// session manager Launching -> Streaming.
func (s *Server) Play() error {
	s.mu.Lock()
	ready := s.setupSet["video"] && s.setupSet["audio"] && s.setupSet["control"]
	s.mu.Unlock()
	if !ready {
		return nesterr.New(nesterr.KindProtocol, "streamer.Play", errIncompleteSetup{})
	}

	ctx := s.session.Current()
	if ctx == nil {
		return nesterr.New(nesterr.KindProtocol, "streamer.Play", errNoActiveSession{})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runVideo(runCtx, ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAudio(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runControl(runCtx, ctx)
	}()

	return s.session.StartStreaming()
}

// Teardown implements rtsp.SessionHandler: stops the pipeline and
// terminates the session.
func (s *Server) Teardown() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.setupSet = make(map[string]bool)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	s.session.Terminate()
	return nil
}

func (s *Server) runVideo(ctx context.Context, sessCtx *session.Context) {
	cap := capture.NewNullCapturer(sessCtx.Width, sessCtx.Height, s.logger)
	if err := cap.Start(sessCtx.FPS, capture.PixelFormatNV12); err != nil {
		s.logger.Error("capture start failed", "error", err)
		return
	}
	defer cap.Stop()

	gopSize := sessCtx.FPS * s.cfg.GOPSeconds
	enc := encoder.NewSoftwareEncoder(encoder.Options{
		Codec: encoder.CodecH264, Width: sessCtx.Width, Height: sessCtx.Height,
		Framerate: sessCtx.FPS, BitrateKbps: sessCtx.BitrateKbps, GOPSize: gopSize,
	})
	defer enc.Close()

	pktz := packetize.New(s.cfg.MTU, sessCtx.FECPercent, 0x1234, s.logger)
	pacer := udpstream.NewPacer(udpstream.VideoClockRate, s.logger, s.videoStream.Enqueue)

	s.wg.Add(1)
	go func() { defer s.wg.Done(); pacer.Run(ctx) }()

	slot := capture.NewSlot()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := cap.Run(slot); err != nil {
			s.logger.Error("capture run failed", "error", err)
		}
	}()

	// Slot.Take has no cancellation of its own, so this relay goroutine
	// can park in it past Teardown until the next Publish; harmless
	// since at most one relay exists per session and the capturer's
	// ticker keeps publishing until Stop takes effect.
	frames := make(chan *capture.Frame, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(frames)
				return
			default:
				frames <- slot.Take()
			}
		}
	}()

	// pts is counted in frame units; Packetize converts it to the
	// 90kHz RTP video clock using sourceClockRate below, so FPS itself
	// is the source clock rate for a one-tick-per-frame counter.
	var pts uint64
	sourceClockRate := uint64(sessCtx.FPS)
	if sourceClockRate == 0 {
		sourceClockRate = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := enc.Submit(frame, pts); err != nil {
				s.logger.Error("encoder submit failed", "error", err)
				continue
			}
			pts++

			for {
				pkt, err := enc.Drain()
				if err == nesterr.ErrAgain {
					break
				}
				if err != nil {
					s.logger.Error("encoder drain failed", "error", err)
					break
				}
				packets, err := pktz.Packetize(pkt.Data, pkt.PTS, sourceClockRate)
				if err != nil {
					s.logger.Error("packetize failed", "error", err)
					continue
				}
				for _, p := range packets {
					data := wire.SerializeRTPVideo(p, nil)
					pacer.Enqueue(ctx, udpstream.PacedSend{Data: data, Timestamp: p.RTP.Timestamp, Keyframe: pkt.Keyframe})
				}
			}
		}
	}
}

func (s *Server) runAudio(ctx context.Context) {
	cap := audio.NewNullCapturer(s.logger)
	if err := cap.Start(); err != nil {
		s.logger.Error("audio capture start failed", "error", err)
		return
	}
	defer cap.Stop()

	var enc audio.Encoder
	opusEnc, err := audio.NewOpusEncoder(audio.DefaultBitrateKbps)
	if err != nil {
		s.logger.Error("opus encoder unavailable, falling back to uncompressed audio", "error", err)
		enc = audio.NewNullEncoder()
	} else {
		enc = opusEnc
	}
	defer enc.Close()
	pacer := udpstream.NewPacer(udpstream.AudioClockRate, s.logger, s.audioStream.Enqueue)

	s.wg.Add(1)
	go func() { defer s.wg.Done(); pacer.Run(ctx) }()

	frames := make(chan audio.PCMFrame, 4)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := cap.Run(frames); err != nil {
			s.logger.Error("audio capture run failed", "error", err)
		}
	}()

	var seq uint16
	var ts uint32
	const samplesPerFrame = audio.SampleRate * audio.FrameDurationMS / 1000

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			payload, err := enc.Encode(frame)
			if err != nil {
				s.logger.Error("audio encode failed", "error", err)
				continue
			}
			hdr := wire.RTPHeader{PacketType: wire.PacketTypeAudio, Sequence: seq, Timestamp: ts, SSRC: 0x5678}
			seq++
			ts += samplesPerFrame
			data := hdr.Marshal(nil)
			data = append(data, payload...)
			pacer.Enqueue(ctx, udpstream.PacedSend{Data: data, Timestamp: hdr.Timestamp})
		}
	}
}

// runControl builds a fresh Cipher and Channel for this session over
// the Server's long-lived ctrlTransport (the UDP socket itself is
// serviced for the whole process lifetime by Server.Run, not per
// session).
func (s *Server) runControl(ctx context.Context, sessCtx *session.Context) {
	cipher, err := control.NewCipher(sessCtx.RemoteKey, sessCtx.RemoteKeyID)
	if err != nil {
		s.logger.Error("control cipher init failed", "error", err)
		return
	}

	injector := NewLogInjector(s.logger, func() { s.session.Terminate() })
	channel := control.New(s.ctrlTransport, cipher, injector, s.logger)
	if err := channel.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("control channel terminated", "error", err)
	}
}

type errNoActiveSession struct{}

func (errNoActiveSession) Error() string { return "streamer: no active session" }

type errIncompleteSetup struct{}

func (errIncompleteSetup) Error() string { return "streamer: SETUP not completed for all media" }
