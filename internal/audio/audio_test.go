package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullCapturerProducesFixedSizeFrames(t *testing.T) {
	c := NewNullCapturer(nil)
	require.NoError(t, c.Start())

	frames := make(chan PCMFrame, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(frames) }()

	select {
	case f := <-frames:
		assert.Len(t, f.Samples, samplesPerFrame*Channels)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame produced")
	}

	require.NoError(t, c.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestNullEncoderRoundTripsSampleCount(t *testing.T) {
	enc := NewNullEncoder()
	frame := PCMFrame{Samples: []int16{1, -1, 1000, -1000}}
	out, err := enc.Encode(frame)
	require.NoError(t, err)
	assert.Len(t, out, len(frame.Samples)*2)
}
