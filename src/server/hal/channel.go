// Package hal defines the channel capability interfaces every backend
// implements, plus the decorators that can be stacked on top of them.
package hal

import "context"

// Channel is the lifecycle every channel has regardless of capability.
type Channel interface {
	// Init acquires the channel. index is its position in the device
	// sequence it belongs to.
	Init(index int) error
	// Shutdown releases the channel on a best-effort basis.
	Shutdown() error
	// IsDummy reports a non-functional placeholder.
	IsDummy() bool
	// Label is the display name, empty when none was assigned.
	Label() string
}

// InputCallback is invoked from a background goroutine when a registered
// input changes state.
type InputCallback func(index int, state bool)

type DigitalInput interface {
	Channel
	Get() (bool, error)
	RegisterCallback(cb InputCallback, trigger InputTrigger) error
	UnregisterCallback() error
}

type DigitalOutput interface {
	Channel
	Set(state bool) error
}

type AnalogInput interface {
	Channel
	Get() (int64, error)
	SetAnalogMode(mode AnalogMode) error
}

type AnalogOutput interface {
	Channel
	Set(value int64) error
}

// TempSensor reports degrees Celsius.
type TempSensor interface {
	Channel
	Get() (float64, error)
	SetTempMode(mode TmpMode, sensorType TmpSensorType) error
}

type CounterInput interface {
	Channel
	Enable(state bool) error
	Setup(mode CntMode, trigger CntTrigger, dir CntDirection) error
	SetPreload(preload int32) error
	Get() (int32, error)
}

type PwmOutput interface {
	Channel
	Enable(state bool) error
	Setup(period, duty uint16) error
	SetTimebase(tb PwmTimebase) error
}

// Watchdog has no lifecycle of its own.
type Watchdog interface {
	Enable(monitor bool) error
	Service() error
}

// Service is a background worker owned by a device: samplers, writers,
// input collectors and field buses. Services start after every channel is
// initialised and stop before channels shut down.
type Service interface {
	Start(ctx context.Context) error
	Stop()
}

// Base provides the lifecycle defaults and NotImplemented for optional
// capability methods. Backends embed it and override what they support.
type Base struct{}

func (Base) Init(int) error  { return nil }
func (Base) Shutdown() error { return nil }
func (Base) IsDummy() bool   { return false }
func (Base) Label() string   { return "" }

func (Base) RegisterCallback(InputCallback, InputTrigger) error { return ErrNotImplemented }
func (Base) UnregisterCallback() error                          { return ErrNotImplemented }
func (Base) SetAnalogMode(AnalogMode) error                     { return ErrNotImplemented }
func (Base) SetTempMode(TmpMode, TmpSensorType) error           { return ErrNotImplemented }
