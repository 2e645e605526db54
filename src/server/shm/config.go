package shm

import (
	"fmt"

	"sysworxx-io/src/server/hal"
)

// Config is a write-once configuration field. Clients store Change, the
// daemon applies it and resets the field to Keep as acknowledgement.
type Config[T any] struct {
	change bool
	value  T
}

func Keep[T any]() Config[T] { return Config[T]{} }

func Change[T any](v T) Config[T] { return Config[T]{change: true, value: v} }

func (c Config[T]) IsKeep() bool { return !c.change }

// Value returns the requested value; ok is false for Keep.
func (c Config[T]) Value() (v T, ok bool) { return c.value, c.change }

func (c Config[T]) String() string {
	if !c.change {
		return "Keep"
	}
	return fmt.Sprintf("Change(%v)", c.value)
}

// TempConfig is the requested RTD wiring and element of a temperature
// channel.
type TempConfig struct {
	Mode       hal.TmpMode
	SensorType hal.TmpSensorType
}

func (c TempConfig) String() string {
	return fmt.Sprintf("%v/%v", c.Mode, c.SensorType)
}

const (
	tagKeep   uint32 = 0
	tagChange uint32 = 1
)

func encodeAnalog(c Config[hal.AnalogMode]) (tag, value uint32) {
	if c.IsKeep() {
		return tagKeep, 0
	}
	return tagChange, uint32(c.value)
}

func decodeAnalog(tag, value uint32) Config[hal.AnalogMode] {
	if tag != tagChange {
		return Keep[hal.AnalogMode]()
	}
	return Change(hal.AnalogMode(value))
}

func encodeTemp(c Config[TempConfig]) (tag, value uint32) {
	if c.IsKeep() {
		return tagKeep, 0
	}
	return tagChange, uint32(c.value.Mode) | uint32(c.value.SensorType)<<8
}

func decodeTemp(tag, value uint32) Config[TempConfig] {
	if tag != tagChange {
		return Keep[TempConfig]()
	}
	return Change(TempConfig{
		Mode:       hal.TmpMode(value & 0xff),
		SensorType: hal.TmpSensorType(value >> 8 & 0xff),
	})
}
