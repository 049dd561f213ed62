package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{Type: 0x0206, Payload: []byte("input-data-payload")}
	encoded := EncodeFrame(f)
	assert.Len(t, encoded, frameHeaderSize+len(f.Payload))

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)
}

func TestDecodeFrameRejectsShortHeader(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestDecodeFrameRejectsLengthMismatch(t *testing.T) {
	buf := EncodeFrame(Frame{Type: 1, Payload: []byte("abc")})
	buf = buf[:len(buf)-1]
	_, err := DecodeFrame(buf)
	require.Error(t, err)
}
