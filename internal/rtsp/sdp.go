package rtsp

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// BuildSDP constructs the SDP body DESCRIBE returns: one video, one
// audio, and one control media line, transport always UDP with
// server-selected ports, per spec.md §4.9.
func BuildSDP(desc MediaDescription) string {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "nestream",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	sd.MediaDescriptions = append(sd.MediaDescriptions, videoMediaDescription(desc))
	sd.MediaDescriptions = append(sd.MediaDescriptions, audioMediaDescription(desc))
	sd.MediaDescriptions = append(sd.MediaDescriptions, controlMediaDescription(desc))

	raw, err := sd.Marshal()
	if err != nil {
		// sdp.SessionDescription.Marshal only fails on caller
		// programming errors (e.g. malformed attribute values); a
		// panic here would indicate a bug in this constructor, not a
		// reachable runtime condition.
		panic(fmt.Sprintf("rtsp: marshal SDP: %v", err))
	}
	return string(raw)
}

func videoMediaDescription(desc MediaDescription) *sdp.MediaDescription {
	return (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "video",
			Port:    sdp.RangedPort{Value: desc.VideoPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{"96"},
		},
	}).
		WithAttribute("control", "streamid=video").
		WithAttribute("rtpmap", "96 H264/90000").
		WithAttribute("x-nv-video[0].clientViewportWd", fmt.Sprintf("%d", desc.Width)).
		WithAttribute("x-nv-video[0].clientViewportHt", fmt.Sprintf("%d", desc.Height)).
		WithAttribute("x-nv-video[0].fps", fmt.Sprintf("%d", desc.FPS)).
		WithAttribute("x-nv-video[0].bitrate", fmt.Sprintf("%d", desc.BitrateKbps)).
		WithAttribute("x-nv-video[0].fecPercentage", fmt.Sprintf("%d", desc.FECPercent))
}

func audioMediaDescription(desc MediaDescription) *sdp.MediaDescription {
	return (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: desc.AudioPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{"97"},
		},
	}).
		WithAttribute("control", "streamid=audio").
		WithAttribute("rtpmap", fmt.Sprintf("97 OPUS/%d/%d", desc.AudioSampleRate, desc.AudioChannels))
}

func controlMediaDescription(desc MediaDescription) *sdp.MediaDescription {
	return (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "application",
			Port:    sdp.RangedPort{Value: desc.ControlPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{"99"},
		},
	}).WithAttribute("control", "streamid=control")
}
