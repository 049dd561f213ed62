package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPublishTakeDropsIntermediateFrame(t *testing.T) {
	slot := NewSlot()
	slot.Publish(&Frame{SequenceNum: 1})
	slot.Publish(&Frame{SequenceNum: 2})

	got := slot.Take()
	assert.Equal(t, uint64(2), got.SequenceNum)
}

func TestNullCapturerProducesFrames(t *testing.T) {
	c := NewNullCapturer(16, 16, nil)
	require.NoError(t, c.Start(60, PixelFormatNV12))

	slot := NewSlot()
	done := make(chan error, 1)
	go func() { done <- c.Run(slot) }()

	f := slot.Take()
	assert.Equal(t, 16, f.Width)
	assert.Equal(t, 16*16*3/2, len(f.Data))

	require.NoError(t, c.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
