// Package udpstream implements the three UDP streams (video, audio,
// control) per spec.md §4.5: PING-based peer discovery, a bounded
// single-producer send channel, and a combined send/receive loop.
package udpstream

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nestream/nestream/internal/nestlog"
)

// SendQueueCapacity is the bounded channel capacity spec.md §4.5 specifies.
const SendQueueCapacity = 1024

// pingMagic is the plaintext 4-byte ASCII datagram clients send to
// announce their UDP source address, per spec.md §6.
var pingMagic = [4]byte{'P', 'I', 'N', 'G'}

// Stream owns one UDP socket and the bounded send queue feeding it.
type Stream struct {
	name   string
	conn   *net.UDPConn
	logger *nestlog.Logger

	sendCh chan []byte

	peerMu sync.RWMutex
	peer   *net.UDPAddr

	droppedPackets atomic.Uint64
	sentPackets    atomic.Uint64
	recvPackets    atomic.Uint64

	onReceive func(data []byte, from *net.UDPAddr)
}

// New binds a UDP socket on the given local port and returns a Stream
// ready to Run. name is used only for logging ("video", "audio",
// "control").
func New(name string, port int, logger *nestlog.Logger, onReceive func([]byte, *net.UDPAddr)) (*Stream, error) {
	if logger == nil {
		logger = nestlog.Default()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &Stream{
		name:      name,
		conn:      conn,
		logger:    logger.With("stream", name),
		sendCh:    make(chan []byte, SendQueueCapacity),
		onReceive: onReceive,
	}, nil
}

// LocalPort returns the bound UDP port (useful when port 0 was requested).
func (s *Stream) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetOnReceive sets the non-PING datagram callback. Must be called
// before Run starts servicing the socket — it is not safe to change
// the callback concurrently with a running receive loop.
func (s *Stream) SetOnReceive(onReceive func([]byte, *net.UDPAddr)) {
	s.onReceive = onReceive
}

// Enqueue submits a packet for transmission. If the send queue is full
// the newest packet is dropped and a counter is incremented, per
// spec.md §4.5 — senders never block.
func (s *Stream) Enqueue(packet []byte) {
	select {
	case s.sendCh <- packet:
	default:
		s.droppedPackets.Add(1)
		s.logger.DebugRTP("send queue full, dropping packet", "queue_depth", len(s.sendCh))
	}
}

// HasPeer reports whether a PING has established a destination address yet.
func (s *Stream) HasPeer() bool {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return s.peer != nil
}

// Peer returns the current destination address, or nil if no PING has
// been received yet.
func (s *Stream) Peer() *net.UDPAddr {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return s.peer
}

// Run services the socket until ctx is canceled: it receives incoming
// datagrams (handling PING discovery and dispatching everything else to
// onReceive) and drains the send queue to the current peer. Spec.md
// §4.5: "the socket awaits either an incoming datagram or a packet to
// send, whichever comes first" — modeled here as two goroutines sharing
// one *net.UDPConn, which is safe for concurrent use in Go.
func (s *Stream) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.receiveLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.sendLoop(ctx)
	}()
	wg.Wait()
}

// Close releases the underlying socket.
func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) receiveLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("udp receive error", "error", err)
				continue
			}
		}

		s.recvPackets.Add(1)

		if n == 4 && [4]byte{buf[0], buf[1], buf[2], buf[3]} == pingMagic {
			s.setPeer(from)
			continue
		}

		if s.onReceive != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.onReceive(data, from)
		}
	}
}

// setPeer implements last-writer-wins peer discovery: any PING, from
// any address, replaces the current destination — spec.md S5.
func (s *Stream) setPeer(addr *net.UDPAddr) {
	s.peerMu.Lock()
	prev := s.peer
	s.peer = addr
	s.peerMu.Unlock()

	if prev == nil || prev.String() != addr.String() {
		s.logger.Info("peer discovered via PING", "addr", addr.String())
	}
}

func (s *Stream) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-s.sendCh:
			peer := s.Peer()
			if peer == nil {
				// No PING yet: outgoing packets are dropped, per §4.5.
				continue
			}
			if _, err := s.conn.WriteToUDP(packet, peer); err != nil {
				s.logger.Warn("udp send error", "error", err)
				continue
			}
			s.sentPackets.Add(1)
		}
	}
}

// Stats is a snapshot of a Stream's counters.
type Stats struct {
	Sent, Received, Dropped uint64
}

// Stats returns a snapshot of the stream's packet counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Sent:     s.sentPackets.Load(),
		Received: s.recvPackets.Load(),
		Dropped:  s.droppedPackets.Load(),
	}
}
