package streamer

import (
	"github.com/nestream/nestream/internal/control"
	"github.com/nestream/nestream/internal/nestlog"
)

// LogInjector is a software stand-in for the platform input-injection
// backend (e.g. a Windows SendInput or Linux uinput binding): it logs
// every decoded control-channel event instead of driving the host OS,
// so the control channel's decode/dispatch path is exercisable without
// a real input driver.
type LogInjector struct {
	logger    *nestlog.Logger
	terminate func()
}

// NewLogInjector builds a LogInjector. terminate is invoked when the
// client sends a termination message.
func NewLogInjector(logger *nestlog.Logger, terminate func()) *LogInjector {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &LogInjector{logger: logger, terminate: terminate}
}

func (i *LogInjector) Key(e control.KeyEvent) error {
	i.logger.DebugControl("key event", "down", e.Down, "keycode", e.KeyCode, "modifiers", e.Modifiers)
	return nil
}

func (i *LogInjector) MouseMove(e control.MouseMoveEvent) error {
	i.logger.DebugControl("mouse move", "absolute", e.Absolute, "dx", e.DeltaX, "dy", e.DeltaY, "x", e.X, "y", e.Y)
	return nil
}

func (i *LogInjector) MouseButton(e control.MouseButtonEvent) error {
	i.logger.DebugControl("mouse button", "down", e.Down, "button", e.Button)
	return nil
}

func (i *LogInjector) Scroll(e control.ScrollEvent) error {
	i.logger.DebugControl("scroll", "amount", e.Amount)
	return nil
}

func (i *LogInjector) Gamepad(e control.GamepadEvent) error {
	i.logger.DebugControl("gamepad", "controller", e.ControllerNumber, "buttons", e.ButtonFlags,
		"left_stick_x", e.LeftStickX, "left_stick_y", e.LeftStickY,
		"right_stick_x", e.RightStickX, "right_stick_y", e.RightStickY)
	return nil
}

func (i *LogInjector) ControllerArrival(e control.ControllerArrivalEvent) error {
	i.logger.DebugControl("controller arrival", "controller", e.ControllerNumber, "type", e.Type)
	return nil
}

func (i *LogInjector) GamepadMotion(e control.GamepadMotionEvent) error {
	i.logger.DebugControl("gamepad motion", "controller", e.ControllerNumber, "motion_type", e.MotionType,
		"x", e.X, "y", e.Y, "z", e.Z)
	return nil
}

func (i *LogInjector) GamepadBattery(e control.GamepadBatteryEvent) error {
	i.logger.DebugControl("gamepad battery", "controller", e.ControllerNumber,
		"state", e.State, "percentage", e.Percentage)
	return nil
}

func (i *LogInjector) Terminate() error {
	i.logger.Info("client requested termination")
	if i.terminate != nil {
		i.terminate()
	}
	return nil
}
