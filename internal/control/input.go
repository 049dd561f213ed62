package control

import (
	"encoding/binary"
	"math"
)

// Input packet magics, confirmed against
// zalo-moonparty/moonlight-common-go/protocol/packets.go's magic-number
// table. Each encrypted control payload begins with an 8-byte
// NVInputHeader (4-byte big-endian size, 4-byte little-endian magic)
// identifying which of these follows.
const (
	magicKeyboardDown     uint32 = 0x03
	magicKeyboardUp       uint32 = 0x04
	magicMouseMoveAbs     uint32 = 0x05
	magicMouseMoveRel     uint32 = 0x06
	magicMouseButtonDown  uint32 = 0x07
	magicMouseButtonUp    uint32 = 0x08
	magicScroll           uint32 = 0x09
	magicController       uint32 = 0x0d
	magicMultiController  uint32 = 0x0e
	magicHaptics          uint32 = 0x55
	magicUTF8Text         uint32 = 0x56
	magicControllerArr    uint32 = 0x5a
	magicControllerMotion uint32 = 0x5c
	magicControllerBatt   uint32 = 0x5d
)

// inputHeaderSize is the NVInputHeader: 4-byte BE size, 4-byte LE magic.
const inputHeaderSize = 8

// KeyEvent is a decoded keyboard press/release.
type KeyEvent struct {
	Down      bool
	KeyCode   uint16
	Modifiers uint8
}

// MouseMoveEvent is a decoded relative or absolute mouse move.
type MouseMoveEvent struct {
	Absolute            bool
	DeltaX, DeltaY      int16
	X, Y, Width, Height uint16
}

// MouseButtonEvent is a decoded mouse button press/release.
type MouseButtonEvent struct {
	Down   bool
	Button uint8
}

// ScrollEvent is a decoded scroll wheel event.
type ScrollEvent struct {
	Amount int16
}

// GamepadEvent is a decoded multi-controller state update.
type GamepadEvent struct {
	ControllerNumber uint16
	ButtonFlags      uint16
	LeftTrigger      uint8
	RightTrigger     uint8
	LeftStickX       int16
	LeftStickY       int16
	RightStickX      int16
	RightStickY      int16
}

// ControllerArrivalEvent announces a newly connected gamepad.
type ControllerArrivalEvent struct {
	ControllerNumber     uint8
	Type                 uint8
	Capabilities         uint16
	SupportedButtonFlags uint32
}

// GamepadMotionEvent is a decoded Sunshine-extension motion sensor
// report (accelerometer or gyroscope, per MotionType).
type GamepadMotionEvent struct {
	ControllerNumber uint8
	MotionType       uint8
	X, Y, Z          float32
}

// GamepadBatteryEvent is a decoded Sunshine-extension controller
// battery state report.
type GamepadBatteryEvent struct {
	ControllerNumber uint8
	State            uint8
	Percentage       uint8
}

// Injector is the platform-specific collaborator that turns decoded
// control-channel events into host input, per spec.md §4.6's dispatch
// contract. Injection failures are logged by the dispatcher and never
// terminate the session.
type Injector interface {
	Key(KeyEvent) error
	MouseMove(MouseMoveEvent) error
	MouseButton(MouseButtonEvent) error
	Scroll(ScrollEvent) error
	Gamepad(GamepadEvent) error
	ControllerArrival(ControllerArrivalEvent) error
	GamepadMotion(GamepadMotionEvent) error
	GamepadBattery(GamepadBatteryEvent) error
	Terminate() error
}

// decodeInputMagic reads the NVInputHeader magic from an input packet
// payload (big-endian size field first, little-endian magic second).
func decodeInputMagic(payload []byte) (uint32, []byte, bool) {
	if len(payload) < inputHeaderSize {
		return 0, nil, false
	}
	magic := binary.LittleEndian.Uint32(payload[4:8])
	return magic, payload[inputHeaderSize:], true
}

// Dispatch decodes one decrypted control payload and routes it to inj.
// Unknown magics are ignored (forward-compatible with client extensions
// this server doesn't model). Injection errors are returned to the
// caller for logging but are not protocol errors — the caller must not
// treat them as fatal.
func Dispatch(payload []byte, inj Injector) error {
	magic, body, ok := decodeInputMagic(payload)
	if !ok {
		return nil
	}

	switch magic {
	case magicKeyboardDown, magicKeyboardUp:
		if len(body) < 4 {
			return nil
		}
		return inj.Key(KeyEvent{
			Down:      magic == magicKeyboardDown,
			KeyCode:   binary.LittleEndian.Uint16(body[0:2]),
			Modifiers: body[2],
		})

	case magicMouseMoveRel:
		if len(body) < 4 {
			return nil
		}
		return inj.MouseMove(MouseMoveEvent{
			DeltaX: int16(binary.BigEndian.Uint16(body[0:2])),
			DeltaY: int16(binary.BigEndian.Uint16(body[2:4])),
		})

	case magicMouseMoveAbs:
		if len(body) < 10 {
			return nil
		}
		return inj.MouseMove(MouseMoveEvent{
			Absolute: true,
			X:        binary.BigEndian.Uint16(body[0:2]),
			Y:        binary.BigEndian.Uint16(body[2:4]),
			Width:    binary.BigEndian.Uint16(body[6:8]),
			Height:   binary.BigEndian.Uint16(body[8:10]),
		})

	case magicMouseButtonDown, magicMouseButtonUp:
		if len(body) < 1 {
			return nil
		}
		return inj.MouseButton(MouseButtonEvent{
			Down:   magic == magicMouseButtonDown,
			Button: body[0],
		})

	case magicScroll:
		if len(body) < 2 {
			return nil
		}
		return inj.Scroll(ScrollEvent{Amount: int16(binary.BigEndian.Uint16(body[0:2]))})

	case magicMultiController:
		if len(body) < 20 {
			return nil
		}
		return inj.Gamepad(GamepadEvent{
			ControllerNumber: binary.LittleEndian.Uint16(body[2:4]),
			ButtonFlags:      binary.LittleEndian.Uint16(body[8:10]),
			LeftTrigger:      body[10],
			RightTrigger:     body[11],
			LeftStickX:       int16(binary.LittleEndian.Uint16(body[12:14])),
			LeftStickY:       int16(binary.LittleEndian.Uint16(body[14:16])),
			RightStickX:      int16(binary.LittleEndian.Uint16(body[16:18])),
			RightStickY:      int16(binary.LittleEndian.Uint16(body[18:20])),
		})

	case magicControllerArr:
		if len(body) < 8 {
			return nil
		}
		return inj.ControllerArrival(ControllerArrivalEvent{
			ControllerNumber:     body[0],
			Type:                 body[1],
			Capabilities:         binary.LittleEndian.Uint16(body[2:4]),
			SupportedButtonFlags: binary.LittleEndian.Uint32(body[4:8]),
		})

	case magicControllerMotion:
		if len(body) < 16 {
			return nil
		}
		return inj.GamepadMotion(GamepadMotionEvent{
			ControllerNumber: body[0],
			MotionType:       body[1],
			X:                math.Float32frombits(binary.BigEndian.Uint32(body[4:8])),
			Y:                math.Float32frombits(binary.BigEndian.Uint32(body[8:12])),
			Z:                math.Float32frombits(binary.BigEndian.Uint32(body[12:16])),
		})

	case magicControllerBatt:
		if len(body) < 3 {
			return nil
		}
		return inj.GamepadBattery(GamepadBatteryEvent{
			ControllerNumber: body[0],
			State:            body[1],
			Percentage:       body[2],
		})

	default:
		return nil
	}
}
