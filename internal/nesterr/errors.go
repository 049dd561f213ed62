// Package nesterr defines the tagged error kinds used across nestream,
// so the session manager can decide what a subcomponent failure means
// without parsing error strings.
package nesterr

import "errors"

// Kind tags the broad category of an error for propagation decisions.
type Kind string

const (
	// KindConfig marks missing/malformed startup input. Always fatal.
	KindConfig Kind = "config"
	// KindCrypto marks TLS, key-parsing, or AES-GCM auth failures.
	// Fatal during pairing, a per-message drop on the control channel.
	KindCrypto Kind = "crypto"
	// KindCapture marks hardware capture SDK failures. Session-fatal.
	KindCapture Kind = "capture"
	// KindCodec marks encoder failures. Again is pacing, not an error;
	// Fatal ends the session.
	KindCodec Kind = "codec"
	// KindProtocol marks malformed HTTP/RTSP/control frames. The
	// offending connection is dropped; the session continues.
	KindProtocol Kind = "protocol"
	// KindNetwork marks transient UDP/TCP errors. Logged and dropped.
	KindNetwork Kind = "network"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind carried by err, if any, along with whether
// one was found.
func KindOf(err error) (Kind, bool) {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind, true
	}
	return "", false
}

// IsFatal reports whether an error of this Kind should terminate a
// session outright, per the propagation policy in spec.md §7.
func IsFatal(kind Kind) bool {
	switch kind {
	case KindConfig, KindCapture, KindCodec:
		return true
	default:
		return false
	}
}

// ErrAgain is returned by the encoder's drain operation to signal it has
// no more buffered packets right now — a normal pacing signal, not a failure.
var ErrAgain = errors.New("codec: again")
