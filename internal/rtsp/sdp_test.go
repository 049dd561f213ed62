package rtsp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSDPContainsThreeMediaLines(t *testing.T) {
	sdp := BuildSDP(MediaDescription{
		Width: 1920, Height: 1080, FPS: 60, BitrateKbps: 20000, FECPercent: 20,
		AudioSampleRate: 48000, AudioChannels: 2,
		VideoPort: 47998, AudioPort: 48000, ControlPort: 47999,
	})

	assert.Equal(t, 1, strings.Count(sdp, "m=video"))
	assert.Equal(t, 1, strings.Count(sdp, "m=audio"))
	assert.Equal(t, 1, strings.Count(sdp, "m=application"))
	assert.Contains(t, sdp, "streamid=video")
	assert.Contains(t, sdp, "streamid=audio")
	assert.Contains(t, sdp, "streamid=control")
}
