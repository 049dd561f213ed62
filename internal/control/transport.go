package control

import (
	"context"
	"net"

	"github.com/nestream/nestream/internal/udpstream"
)

// StreamTransport adapts a udpstream.Stream's push-based receive
// callback into the pull-based Transport interface Channel expects.
// UDP framing is simple here: one enet frame per datagram, which is
// enough fidelity for the reliable channel's message sizes.
type StreamTransport struct {
	stream *udpstream.Stream
	frames chan []byte
}

// NewStreamTransport wraps stream. Call its returned OnReceive as the
// udpstream.Stream's receive callback.
func NewStreamTransport(stream *udpstream.Stream) *StreamTransport {
	return &StreamTransport{stream: stream, frames: make(chan []byte, 64)}
}

// OnReceive is passed to udpstream.New as its receive callback.
func (t *StreamTransport) OnReceive(data []byte, _ *net.UDPAddr) {
	select {
	case t.frames <- data:
	default:
	}
}

func (t *StreamTransport) Send(frame []byte) error {
	t.stream.Enqueue(frame)
	return nil
}

func (t *StreamTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
