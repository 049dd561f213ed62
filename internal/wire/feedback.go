package wire

import (
	"encoding/binary"
	"fmt"
)

// Control-channel message type codes. Confirmed against
// zalo-moonparty/moonlight-common-go/protocol/packets.go's
// PacketTypesGen7Enc table, which independently corroborates the
// RumbleData code spec.md's S3 test vector assumes.
const (
	MessageTypeRumbleData     uint16 = 0x010b
	MessageTypeRumbleTriggers uint16 = 0x5500
	MessageTypeSetMotionEvent uint16 = 0x5501
	MessageTypeHDRMode        uint16 = 0x010e
	MessageTypeTermination    uint16 = 0x0109
)

// RumbleCommand is the server-to-client feedback message carrying a
// gamepad's low/high frequency rumble magnitudes.
type RumbleCommand struct {
	GamepadID uint16
	LowFreq   uint16
	HighFreq  uint16
}

// rumblePayloadLen is the fixed 10-byte payload: 4 bytes of zero
// padding, then gamepad id, low freq, high freq, each little-endian.
const rumblePayloadLen = 10

// AsPacket serializes r into the 14-byte wire packet spec.md §4.1 and
// S3 specify: 2-byte type, 2-byte payload length, then the 10-byte
// payload, all little-endian.
func (r RumbleCommand) AsPacket() []byte {
	buf := make([]byte, 4+rumblePayloadLen)
	binary.LittleEndian.PutUint16(buf[0:2], MessageTypeRumbleData)
	binary.LittleEndian.PutUint16(buf[2:4], rumblePayloadLen)
	// buf[4:8] is the zero padding.
	binary.LittleEndian.PutUint16(buf[8:10], r.GamepadID)
	binary.LittleEndian.PutUint16(buf[10:12], r.LowFreq)
	binary.LittleEndian.PutUint16(buf[12:14], r.HighFreq)
	return buf
}

// ParseRumbleCommand is the exact inverse of AsPacket.
func ParseRumbleCommand(data []byte) (RumbleCommand, error) {
	if len(data) != 4+rumblePayloadLen {
		return RumbleCommand{}, fmt.Errorf("wire: rumble packet wrong size (%d bytes)", len(data))
	}
	msgType := binary.LittleEndian.Uint16(data[0:2])
	if msgType != MessageTypeRumbleData {
		return RumbleCommand{}, fmt.Errorf("wire: not a rumble packet (type 0x%04x)", msgType)
	}
	payloadLen := binary.LittleEndian.Uint16(data[2:4])
	if payloadLen != rumblePayloadLen {
		return RumbleCommand{}, fmt.Errorf("wire: rumble payload length mismatch (%d)", payloadLen)
	}
	return RumbleCommand{
		GamepadID: binary.LittleEndian.Uint16(data[8:10]),
		LowFreq:   binary.LittleEndian.Uint16(data[10:12]),
		HighFreq:  binary.LittleEndian.Uint16(data[12:14]),
	}, nil
}

// RumbleTriggersCommand extends RumbleCommand with adaptive-trigger
// rumble magnitudes — a Sunshine/original-moonshine feedback message
// the distilled spec's "rumble, HDR mode, ping" list doesn't name but
// original_source's control feedback path supports alongside plain
// rumble.
type RumbleTriggersCommand struct {
	GamepadID uint16
	LeftFreq  uint16
	RightFreq uint16
}

// AsPacket serializes t using the same envelope shape as RumbleCommand.
func (t RumbleTriggersCommand) AsPacket() []byte {
	buf := make([]byte, 4+rumblePayloadLen)
	binary.LittleEndian.PutUint16(buf[0:2], MessageTypeRumbleTriggers)
	binary.LittleEndian.PutUint16(buf[2:4], rumblePayloadLen)
	binary.LittleEndian.PutUint16(buf[8:10], t.GamepadID)
	binary.LittleEndian.PutUint16(buf[10:12], t.LeftFreq)
	binary.LittleEndian.PutUint16(buf[12:14], t.RightFreq)
	return buf
}

// HDRModeCommand toggles HDR metadata signaling to the client.
type HDRModeCommand struct {
	Enabled bool
}

// AsPacket serializes the HDR mode toggle as a 1-byte payload message.
func (h HDRModeCommand) AsPacket() []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint16(buf[0:2], MessageTypeHDRMode)
	binary.LittleEndian.PutUint16(buf[2:4], 1)
	if h.Enabled {
		buf[4] = 1
	}
	return buf
}
