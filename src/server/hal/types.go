package hal

import (
	"fmt"
	"strings"
)

// AnalogMode selects what an analog input measures.
type AnalogMode uint8

const (
	AnalogVoltage AnalogMode = 0
	AnalogCurrent AnalogMode = 1
)

func (m AnalogMode) Valid() bool { return m <= AnalogCurrent }

func (m AnalogMode) String() string {
	switch m {
	case AnalogVoltage:
		return "voltage"
	case AnalogCurrent:
		return "current"
	}
	return fmt.Sprintf("AnalogMode(%d)", uint8(m))
}

// ParseAnalogMode accepts the names printed by String.
func ParseAnalogMode(s string) (AnalogMode, error) {
	switch strings.ToLower(s) {
	case "voltage", "v", "0":
		return AnalogVoltage, nil
	case "current", "i", "1":
		return AnalogCurrent, nil
	}
	return 0, fmt.Errorf("%w: analog mode %q", ErrInvalidParameter, s)
}

// TmpMode is the RTD wiring of a temperature channel.
type TmpMode uint8

const (
	RtdTwoWire   TmpMode = 0
	RtdThreeWire TmpMode = 1
	RtdFourWire  TmpMode = 2
)

func (m TmpMode) Valid() bool { return m <= RtdFourWire }

func (m TmpMode) String() string {
	switch m {
	case RtdTwoWire:
		return "2-wire"
	case RtdThreeWire:
		return "3-wire"
	case RtdFourWire:
		return "4-wire"
	}
	return fmt.Sprintf("TmpMode(%d)", uint8(m))
}

func ParseTmpMode(s string) (TmpMode, error) {
	switch strings.ToLower(s) {
	case "2-wire", "2", "two":
		return RtdTwoWire, nil
	case "3-wire", "3", "three":
		return RtdThreeWire, nil
	case "4-wire", "4", "four":
		return RtdFourWire, nil
	}
	return 0, fmt.Errorf("%w: temperature mode %q", ErrInvalidParameter, s)
}

// TmpSensorType is the RTD element connected to a temperature channel.
type TmpSensorType uint8

const (
	PT100  TmpSensorType = 0
	PT1000 TmpSensorType = 1
)

func (t TmpSensorType) Valid() bool { return t <= PT1000 }

func (t TmpSensorType) String() string {
	switch t {
	case PT100:
		return "PT100"
	case PT1000:
		return "PT1000"
	}
	return fmt.Sprintf("TmpSensorType(%d)", uint8(t))
}

func ParseTmpSensorType(s string) (TmpSensorType, error) {
	switch strings.ToUpper(s) {
	case "PT100", "0":
		return PT100, nil
	case "PT1000", "1":
		return PT1000, nil
	}
	return 0, fmt.Errorf("%w: sensor type %q", ErrInvalidParameter, s)
}

type CntMode uint8

const (
	CntCounter   CntMode = 0
	CntABEncoder CntMode = 1
)

func (m CntMode) Valid() bool { return m <= CntABEncoder }

type CntTrigger uint8

const (
	CntRisingEdge  CntTrigger = 0
	CntFallingEdge CntTrigger = 1
	CntAnyEdge     CntTrigger = 2
)

func (t CntTrigger) Valid() bool { return t <= CntAnyEdge }

type CntDirection uint8

const (
	CntUp   CntDirection = 0
	CntDown CntDirection = 1
)

func (d CntDirection) Valid() bool { return d <= CntDown }

// PwmTimebase is the duration of one period/duty tick.
type PwmTimebase uint8

const (
	PwmNs800 PwmTimebase = 1
	PwmMs1   PwmTimebase = 2
)

func (t PwmTimebase) Valid() bool { return t == PwmNs800 || t == PwmMs1 }

// Nanos is the tick length in nanoseconds.
func (t PwmTimebase) Nanos() uint64 {
	if t == PwmMs1 {
		return 1_000_000
	}
	return 800
}

// InputTrigger filters which edges reach an input callback.
type InputTrigger uint8

const (
	TriggerNone        InputTrigger = 0
	TriggerRisingEdge  InputTrigger = 1
	TriggerFallingEdge InputTrigger = 2
	TriggerBothEdge    InputTrigger = 3
)

func (t InputTrigger) Valid() bool { return t <= TriggerBothEdge }

// Fires reports whether a transition to state passes the trigger filter.
func (t InputTrigger) Fires(state bool) bool {
	switch t {
	case TriggerRisingEdge:
		return state
	case TriggerFallingEdge:
		return !state
	case TriggerBothEdge:
		return true
	}
	return false
}
