package control

import (
	"context"
	"time"

	"github.com/nestream/nestream/internal/nesterr"
	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/wire"
)

// pingInterval is how often the server emits a keepalive ping on the
// control channel, whether or not other traffic is flowing.
const pingInterval = 3 * time.Second

// Transport is the reliable-ordered byte-stream the Channel frames its
// messages over — an enet reliable channel in the real protocol,
// satisfied here by anything that can move whole frames in order
// (e.g. a TCP-like conn, or udpstream.Stream once it carries reliable
// framing on top).
type Transport interface {
	Send(frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// Channel is one session's bidirectional control connection: enet-style
// framing, AES-GCM encryption, sequence enforcement, and dispatch to an
// Injector, per spec.md §4.6.
type Channel struct {
	transport Transport
	cipher    *Cipher
	injector  Injector
	logger    *nestlog.Logger
}

// New builds a Channel. cipher must be rekeyed per session (it owns
// the per-direction sequence counters) — never share one Cipher
// across sessions.
func New(transport Transport, cipher *Cipher, injector Injector, logger *nestlog.Logger) *Channel {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &Channel{transport: transport, cipher: cipher, injector: injector, logger: logger}
}

// Run services the channel until ctx is canceled: it decrypts and
// dispatches inbound frames, and emits a ping every pingInterval.
// Decrypt or dispatch failures are logged, except that any
// nesterr.KindProtocol error from decryption (a non-monotonic sequence
// or an envelope too short to hold one) propagates as fatal, ending
// the session.
func (c *Channel) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	errCh := make(chan error, 1)
	frames := make(chan []byte, 32)
	go c.recvLoop(ctx, frames, errCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case raw := <-frames:
			if err := c.handleFrame(raw); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.SendPing(); err != nil {
				c.logger.DebugControl("ping send failed", "error", err)
			}
		}
	}
}

func (c *Channel) recvLoop(ctx context.Context, frames chan<- []byte, errCh chan<- error) {
	for {
		raw, err := c.transport.Recv(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				errCh <- err
				return
			}
		}
		select {
		case frames <- raw:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) handleFrame(raw []byte) error {
	frame, err := DecodeFrame(raw)
	if err != nil {
		c.logger.DebugControl("malformed frame dropped", "error", err)
		return nil
	}

	if frame.Type == wire.MessageTypeTermination {
		if err := c.injector.Terminate(); err != nil {
			c.logger.Warn("termination injection failed", "error", err)
		}
		return nil
	}

	plaintext, err := c.cipher.Open(frame.Payload)
	if err != nil {
		if kind, ok := nesterr.KindOf(err); ok && kind == nesterr.KindProtocol {
			return err
		}
		c.logger.DebugControl("decrypt failed, dropping message", "error", err)
		return nil
	}

	if err := Dispatch(plaintext, c.injector); err != nil {
		c.logger.Warn("input injection failed", "error", err)
	}
	return nil
}

// send encrypts plaintext and writes it as a framed message of the
// given type.
func (c *Channel) send(msgType uint16, plaintext []byte) error {
	envelope := c.cipher.Seal(plaintext)
	return c.transport.Send(EncodeFrame(Frame{Type: msgType, Payload: envelope}))
}

// SendRumble emits a rumble feedback message to the client.
func (c *Channel) SendRumble(cmd wire.RumbleCommand) error {
	return c.transport.Send(cmd.AsPacket())
}

// SendHDRMode emits an HDR mode toggle to the client.
func (c *Channel) SendHDRMode(cmd wire.HDRModeCommand) error {
	return c.transport.Send(cmd.AsPacket())
}

// SendPing emits a keepalive ping so the client's reliable channel
// doesn't consider the connection stalled during quiet periods.
func (c *Channel) SendPing() error {
	return c.transport.Send(EncodeFrame(Frame{Type: pingMessageType}))
}

// pingMessageType is a locally reserved message type for keepalive
// pings; it carries no payload and needs no decryption.
const pingMessageType uint16 = 0x0001
