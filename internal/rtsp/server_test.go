package rtsp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	setupCalls []string
	played     bool
	torndown   bool
}

func (f *fakeHandler) Describe() (MediaDescription, error) {
	return MediaDescription{Width: 1920, Height: 1080, FPS: 60, VideoPort: 1, AudioPort: 2, ControlPort: 3}, nil
}

func (f *fakeHandler) Setup(mediaType string) error {
	f.setupCalls = append(f.setupCalls, mediaType)
	return nil
}

func (f *fakeHandler) Play() error {
	f.played = true
	return nil
}

func (f *fakeHandler) Teardown() error {
	f.torndown = true
	return nil
}

func TestReadRequestParsesMethodURLAndCSeq(t *testing.T) {
	raw := "OPTIONS rtsp://host/ RTSP/1.0\r\nCSeq: 5\r\n\r\n"
	req, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS", req.Method)
	assert.Equal(t, 5, req.CSeq)
}

func TestHandleDispatchesAllVerbs(t *testing.T) {
	h := &fakeHandler{}
	s := &Server{handler: h}

	resp := s.handle(&Request{Method: "OPTIONS"})
	assert.Equal(t, 200, resp.StatusCode)

	resp = s.handle(&Request{Method: "DESCRIBE"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "m=video")

	resp = s.handle(&Request{Method: "SETUP", URL: "rtsp://host/streamid=video"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"video"}, h.setupCalls)

	resp = s.handle(&Request{Method: "PLAY"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, h.played)

	resp = s.handle(&Request{Method: "TEARDOWN"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, h.torndown)
}
