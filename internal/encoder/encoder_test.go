package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestream/nestream/internal/capture"
	"github.com/nestream/nestream/internal/nesterr"
)

func TestGOPKeyframeCadence(t *testing.T) {
	enc := NewSoftwareEncoder(Options{Codec: CodecH264, Width: 4, Height: 4, Framerate: 60, GOPSize: 3})
	frame := &capture.Frame{Width: 4, Height: 4, Data: make([]byte, 24)}

	for i := uint64(0); i < 6; i++ {
		require.NoError(t, enc.Submit(frame, i))
	}

	packets, err := enc.DrainAll()
	require.NoError(t, err)
	require.Len(t, packets, 6)
	assert.True(t, packets[0].Keyframe)
	assert.False(t, packets[1].Keyframe)
	assert.False(t, packets[2].Keyframe)
	assert.True(t, packets[3].Keyframe)
}

func TestForceKeyframeResetsGOP(t *testing.T) {
	enc := NewSoftwareEncoder(Options{Codec: CodecH264, Width: 2, Height: 2, Framerate: 30, GOPSize: 10})
	frame := &capture.Frame{Width: 2, Height: 2, Data: make([]byte, 6)}

	require.NoError(t, enc.Submit(frame, 0))
	enc.ForceKeyframe()
	require.NoError(t, enc.Submit(frame, 1))
	require.NoError(t, enc.Submit(frame, 2))

	packets, err := enc.DrainAll()
	require.NoError(t, err)
	require.Len(t, packets, 3)
	assert.True(t, packets[0].Keyframe)
	assert.True(t, packets[1].Keyframe, "forced keyframe")
	assert.False(t, packets[2].Keyframe)
}

func TestDrainReturnsAgainWhenEmpty(t *testing.T) {
	enc := NewSoftwareEncoder(Options{Codec: CodecH264, Framerate: 30})
	_, err := enc.Drain()
	assert.ErrorIs(t, err, nesterr.ErrAgain)
}

func TestSubmitNilFrameIsCodecError(t *testing.T) {
	enc := NewSoftwareEncoder(Options{Codec: CodecH264, Framerate: 30})
	err := enc.Submit(nil, 0)
	require.Error(t, err)
	kind, ok := nesterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, nesterr.KindCodec, kind)
}
