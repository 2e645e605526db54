// Package capi is the flat, C style surface of the I/O library: one
// process-wide device, plain values in and out, and a Result code from
// every call. No call panics.
package capi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/discovery"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/util"
)

const (
	VersionMajor = 1
	VersionMinor = 0
)

type Result uint32

const (
	Success           Result = 0x00
	Error             Result = 0xff
	NotImplemented    Result = 0xfe
	InvalidParameter  Result = 0xfd
	InvalidChannel    Result = 0xfc
	InvalidMode       Result = 0xfb
	InvalidTimebase   Result = 0xfa
	InvalidDelta      Result = 0xf9
	PtoParamTabFull   Result = 0xf8
	DevAccessFailed   Result = 0xf7
	ShpImgError       Result = 0xf4
	AddressOutOfRange Result = 0xf3
	WatchdogTimeout   Result = 0xf2
)

var resultNames = map[Result]string{
	Success:           "Success",
	Error:             "Error",
	NotImplemented:    "NotImplemented",
	InvalidParameter:  "InvalidParameter",
	InvalidChannel:    "InvalidChannel",
	InvalidMode:       "InvalidMode",
	InvalidTimebase:   "InvalidTimebase",
	InvalidDelta:      "InvalidDelta",
	PtoParamTabFull:   "PtoParamTabFull",
	DevAccessFailed:   "DevAccessFailed",
	ShpImgError:       "ShpImgError",
	AddressOutOfRange: "AddressOutOfRange",
	WatchdogTimeout:   "WatchdogTimeout",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(0x%02x)", uint32(r))
}

func resultOf(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, hal.ErrInvalidChannel):
		return InvalidChannel
	case errors.Is(err, hal.ErrInvalidParameter):
		return InvalidParameter
	case errors.Is(err, hal.ErrNotImplemented):
		return NotImplemented
	case errors.Is(err, hal.ErrWatchdogTimeout):
		return WatchdogTimeout
	case errors.Is(err, hal.ErrAccessFailed):
		return DevAccessFailed
	default:
		return Error
	}
}

var (
	mu     sync.Mutex
	handle *device.Device
	loader = discovery.LoadDevice
)

// current returns the process-wide device, loading the detected model on
// first use.
func current() *device.Device {
	mu.Lock()
	defer mu.Unlock()
	if handle == nil {
		handle = loader()
	}
	return handle
}

// call runs fn on the device and converts its outcome.
func call(name string, fn func(d *device.Device) error) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("capi: %s panicked: %v", name, r)
			res = Error
		}
	}()
	err := fn(current())
	if err != nil {
		util.Debugf("capi: %s: %v", name, err)
	}
	return resultOf(err)
}

func get[T any](name string, fn func(d *device.Device) (T, error)) (v T, res Result) {
	res = call(name, func(d *device.Device) error {
		var err error
		v, err = fn(d)
		return err
	})
	if res != Success {
		var zero T
		v = zero
	}
	return v, res
}

// Init loads the detected model if needed and initialises it.
func Init() Result {
	return call("Init", func(d *device.Device) error {
		return d.Init(context.Background())
	})
}

// InitWith replaces the process-wide device with dev and initialises it.
// A previous device is shut down first.
func InitWith(dev *device.Device) Result {
	if dev == nil {
		return InvalidParameter
	}
	mu.Lock()
	prev := handle
	handle = dev
	mu.Unlock()
	if prev != nil && prev != dev {
		if err := prev.Shutdown(); err != nil {
			log.Printf("capi: shutdown of previous device: %v", err)
		}
	}
	return Init()
}

func Shutdown() Result {
	return call("Shutdown", func(d *device.Device) error { return d.Shutdown() })
}

func GetVersion() (major, minor uint8, res Result) {
	return VersionMajor, VersionMinor, Success
}

// GetTickCount returns milliseconds since an arbitrary start.
func GetTickCount() (uint32, Result) {
	return get("GetTickCount", func(d *device.Device) (uint32, error) { return d.Ticks(), nil })
}

func EnableWatchdog(monitorOnly bool) Result {
	return call("EnableWatchdog", func(d *device.Device) error { return d.WatchdogEnable(monitorOnly) })
}

func ServiceWatchdog() Result {
	return call("ServiceWatchdog", func(d *device.Device) error { return d.WatchdogService() })
}

func GetHardwareInfo() (device.HwInfo, Result) {
	return get("GetHardwareInfo", func(d *device.Device) (device.HwInfo, error) { return d.HardwareInfo(), nil })
}

func SetRunLed(state bool) Result {
	return call("SetRunLed", func(d *device.Device) error { return d.SetRunLed(state) })
}

func SetErrLed(state bool) Result {
	return call("SetErrLed", func(d *device.Device) error { return d.SetErrLed(state) })
}

// GetJson writes the channel labels as JSON to path.
func GetJson(path string) Result {
	if path == "" {
		return InvalidParameter
	}
	return call("GetJson", func(d *device.Device) error { return d.WriteJSONInfo(path) })
}

func GetRunSwitch() (bool, Result) {
	return get("GetRunSwitch", func(d *device.Device) (bool, error) { return d.RunSwitch() })
}

func GetConfigEnabled() (bool, Result) {
	return get("GetConfigEnabled", func(d *device.Device) (bool, error) { return d.ConfigSwitch() })
}

func SetOutput(ch uint8, state bool) Result {
	return call("SetOutput", func(d *device.Device) error { return d.SetOutput(int(ch), state) })
}

func GetInput(ch uint8) (bool, Result) {
	return get("GetInput", func(d *device.Device) (bool, error) { return d.Input(int(ch)) })
}

// InputCallback receives the channel and its new state.
type InputCallback func(ch uint8, state bool)

func RegisterInputCallback(ch uint8, cb InputCallback, trigger hal.InputTrigger) Result {
	if cb == nil || !trigger.Valid() {
		return InvalidParameter
	}
	return call("RegisterInputCallback", func(d *device.Device) error {
		return d.RegisterInputCallback(int(ch), func(index int, state bool) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("capi: input callback %d panicked: %v", index, r)
				}
			}()
			cb(uint8(index), state)
		}, trigger)
	})
}

func UnregisterInputCallback(ch uint8) Result {
	return call("UnregisterInputCallback", func(d *device.Device) error { return d.UnregisterInputCallback(int(ch)) })
}

// AdcGetValue truncates the calibrated reading to 16 bits.
func AdcGetValue(ch uint8) (uint16, Result) {
	return get("AdcGetValue", func(d *device.Device) (uint16, error) {
		v, err := d.AnalogInput(int(ch))
		return uint16(v), err
	})
}

func AdcSetMode(ch uint8, mode hal.AnalogMode) Result {
	if !mode.Valid() {
		return InvalidParameter
	}
	return call("AdcSetMode", func(d *device.Device) error { return d.SetAnalogMode(int(ch), mode) })
}

func DacSetValue(ch uint8, value uint16) Result {
	return call("DacSetValue", func(d *device.Device) error { return d.SetAnalogOutput(int(ch), int64(value)) })
}

func TmpSetMode(ch uint8, mode hal.TmpMode, sensorType hal.TmpSensorType) Result {
	if !mode.Valid() || !sensorType.Valid() {
		return InvalidParameter
	}
	return call("TmpSetMode", func(d *device.Device) error { return d.SetTempMode(int(ch), mode, sensorType) })
}

// TmpGetValue returns the temperature in 1/10000 °C. Readings beyond the
// int32 range, such as an unsampled sensor, saturate.
func TmpGetValue(ch uint8) (int32, Result) {
	return get("TmpGetValue", func(d *device.Device) (int32, error) {
		v, err := d.TempInput(int(ch))
		if err != nil {
			return 0, err
		}
		return toTenThousandths(v), nil
	})
}

func toTenThousandths(celsius float64) int32 {
	v := celsius * 10000
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func CntEnable(ch uint8, state bool) Result {
	return call("CntEnable", func(d *device.Device) error { return d.CounterEnable(int(ch), state) })
}

func CntSetup(ch uint8, mode hal.CntMode, trigger hal.CntTrigger, dir hal.CntDirection) Result {
	if !mode.Valid() || !trigger.Valid() || !dir.Valid() {
		return InvalidParameter
	}
	return call("CntSetup", func(d *device.Device) error { return d.CounterSetup(int(ch), mode, trigger, dir) })
}

func CntSetPreload(ch uint8, preload int32) Result {
	return call("CntSetPreload", func(d *device.Device) error { return d.CounterSetPreload(int(ch), preload) })
}

func CntGetValue(ch uint8) (int32, Result) {
	return get("CntGetValue", func(d *device.Device) (int32, error) { return d.Counter(int(ch)) })
}

func PwmEnable(ch uint8, run bool) Result {
	return call("PwmEnable", func(d *device.Device) error { return d.PwmEnable(int(ch), run) })
}

func PwmSetup(ch uint8, period, duty uint16) Result {
	return call("PwmSetup", func(d *device.Device) error { return d.PwmSetup(int(ch), period, duty) })
}

func PwmSetTimebase(ch uint8, tb hal.PwmTimebase) Result {
	if !tb.Valid() {
		return InvalidTimebase
	}
	return call("PwmSetTimebase", func(d *device.Device) error { return d.PwmSetTimebase(int(ch), tb) })
}
