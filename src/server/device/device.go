// Package device aggregates the channels of one hardware model behind a
// single index-addressed facade.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/hal"
)

// UnknownRevision is reported when the board revision cannot be read.
const UnknownRevision = 0xff

// Definition is the wiring of one hardware model. Nil single channels are
// replaced by null placeholders. With HasRelays set, RelayOffset is the
// index of the first relay output.
type Definition struct {
	Name     string
	Revision int

	Watchdog     hal.Watchdog
	RunLed       hal.DigitalOutput
	ErrLed       hal.DigitalOutput
	RunSwitch    hal.DigitalInput
	ConfigSwitch hal.DigitalInput

	Outputs       []hal.DigitalOutput
	Inputs        []hal.DigitalInput
	AnalogInputs  []hal.AnalogInput
	AnalogOutputs []hal.AnalogOutput
	TempSensors   []hal.TempSensor
	Counters      []hal.CounterInput
	PwmOutputs    []hal.PwmOutput

	HasRelays   bool
	RelayOffset int

	// Services run in the background while the device is initialised.
	Services []hal.Service
}

// Device is safe for concurrent use; every call holds the device lock for
// its duration. Input callbacks run on backend goroutines without it.
type Device struct {
	def   Definition
	start time.Time

	mu      sync.Mutex
	running []hal.Service
	cancel  context.CancelFunc
}

func New(def Definition) *Device {
	if def.Watchdog == nil {
		def.Watchdog = backend.NullWatchdog{}
	}
	if def.RunLed == nil {
		def.RunLed = backend.NullOutput{}
	}
	if def.ErrLed == nil {
		def.ErrLed = backend.NullOutput{}
	}
	if def.RunSwitch == nil {
		def.RunSwitch = backend.NewNullInput()
	}
	if def.ConfigSwitch == nil {
		def.ConfigSwitch = backend.NewNullInput()
	}
	return &Device{def: def, start: time.Now()}
}

func (d *Device) Name() string { return d.def.Name }

func appendChannels[T hal.Channel](out []hal.Channel, seq []T) []hal.Channel {
	for _, c := range seq {
		out = append(out, c)
	}
	return out
}

// indexed pairs a channel with its position in its own sequence, in
// initialisation order.
type indexed struct {
	ch    hal.Channel
	index int
}

func (d *Device) indexedChannels() []indexed {
	var out []indexed
	add := func(chs []hal.Channel) {
		for i, c := range chs {
			out = append(out, indexed{c, i})
		}
	}
	for _, single := range []hal.Channel{d.def.RunLed, d.def.ErrLed, d.def.RunSwitch, d.def.ConfigSwitch} {
		out = append(out, indexed{single, 0})
	}
	add(appendChannels(nil, d.def.Outputs))
	add(appendChannels(nil, d.def.Inputs))
	add(appendChannels(nil, d.def.AnalogInputs))
	add(appendChannels(nil, d.def.AnalogOutputs))
	add(appendChannels(nil, d.def.TempSensors))
	add(appendChannels(nil, d.def.Counters))
	add(appendChannels(nil, d.def.PwmOutputs))
	return out
}

// Init initialises every channel in order, stopping at the first failure
// without undoing earlier ones, then starts the background services.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.indexedChannels() {
		if err := c.ch.Init(c.index); err != nil {
			return fmt.Errorf("init %s: %w", d.def.Name, err)
		}
	}

	if d.running != nil {
		return nil
	}
	ctx, d.cancel = context.WithCancel(ctx)
	for _, s := range d.def.Services {
		if err := s.Start(ctx); err != nil {
			d.stopLocked()
			return fmt.Errorf("start %s: %w", d.def.Name, err)
		}
		d.running = append(d.running, s)
	}
	if d.running == nil {
		d.running = []hal.Service{}
	}
	log.Printf("device %s initialised (%d services)", d.def.Name, len(d.running))
	return nil
}

func (d *Device) stopLocked() {
	for i := len(d.running) - 1; i >= 0; i-- {
		d.running[i].Stop()
	}
	d.running = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Shutdown stops the services and releases every channel. It keeps going
// after a failure and returns all errors joined.
func (d *Device) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	var errs []error
	for _, c := range d.indexedChannels() {
		if err := c.ch.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ticks is the number of milliseconds since the device was created,
// wrapping at 2^32.
func (d *Device) Ticks() uint32 {
	return uint32(time.Since(d.start).Milliseconds())
}

func (d *Device) WatchdogEnable(monitor bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.def.Watchdog.Enable(monitor)
}

func (d *Device) WatchdogService() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.def.Watchdog.Service()
}

func (d *Device) SetRunLed(state bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.def.RunLed.Set(state)
}

func (d *Device) SetErrLed(state bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.def.ErrLed.Set(state)
}

func (d *Device) RunSwitch() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.def.RunSwitch.Get()
}

func (d *Device) ConfigSwitch() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.def.ConfigSwitch.Get()
}

func at[T any](seq []T, what string, ch int) (T, error) {
	if ch < 0 || ch >= len(seq) {
		var zero T
		return zero, fmt.Errorf("%w: %s %d", hal.ErrInvalidChannel, what, ch)
	}
	return seq[ch], nil
}

func (d *Device) SetOutput(ch int, state bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := at(d.def.Outputs, "output", ch)
	if err != nil {
		return err
	}
	return out.Set(state)
}

func (d *Device) Input(ch int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, err := at(d.def.Inputs, "input", ch)
	if err != nil {
		return false, err
	}
	return in.Get()
}

func (d *Device) RegisterInputCallback(ch int, cb hal.InputCallback, trigger hal.InputTrigger) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, err := at(d.def.Inputs, "input", ch)
	if err != nil {
		return err
	}
	return in.RegisterCallback(cb, trigger)
}

func (d *Device) UnregisterInputCallback(ch int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, err := at(d.def.Inputs, "input", ch)
	if err != nil {
		return err
	}
	return in.UnregisterCallback()
}

func (d *Device) AnalogInput(ch int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ai, err := at(d.def.AnalogInputs, "analog input", ch)
	if err != nil {
		return 0, err
	}
	return ai.Get()
}

func (d *Device) SetAnalogMode(ch int, mode hal.AnalogMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ai, err := at(d.def.AnalogInputs, "analog input", ch)
	if err != nil {
		return err
	}
	return ai.SetAnalogMode(mode)
}

func (d *Device) SetAnalogOutput(ch int, value int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ao, err := at(d.def.AnalogOutputs, "analog output", ch)
	if err != nil {
		return err
	}
	return ao.Set(value)
}

func (d *Device) SetTempMode(ch int, mode hal.TmpMode, sensorType hal.TmpSensorType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := at(d.def.TempSensors, "temperature sensor", ch)
	if err != nil {
		return err
	}
	return t.SetTempMode(mode, sensorType)
}

func (d *Device) TempInput(ch int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := at(d.def.TempSensors, "temperature sensor", ch)
	if err != nil {
		return 0, err
	}
	return t.Get()
}

func (d *Device) CounterEnable(ch int, state bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := at(d.def.Counters, "counter", ch)
	if err != nil {
		return err
	}
	return c.Enable(state)
}

func (d *Device) CounterSetup(ch int, mode hal.CntMode, trigger hal.CntTrigger, dir hal.CntDirection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := at(d.def.Counters, "counter", ch)
	if err != nil {
		return err
	}
	return c.Setup(mode, trigger, dir)
}

func (d *Device) CounterSetPreload(ch int, preload int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := at(d.def.Counters, "counter", ch)
	if err != nil {
		return err
	}
	return c.SetPreload(preload)
}

func (d *Device) Counter(ch int) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := at(d.def.Counters, "counter", ch)
	if err != nil {
		return 0, err
	}
	return c.Get()
}

func (d *Device) PwmEnable(ch int, state bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := at(d.def.PwmOutputs, "pwm output", ch)
	if err != nil {
		return err
	}
	return p.Enable(state)
}

func (d *Device) PwmSetup(ch int, period, duty uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := at(d.def.PwmOutputs, "pwm output", ch)
	if err != nil {
		return err
	}
	return p.Setup(period, duty)
}

func (d *Device) PwmSetTimebase(ch int, tb hal.PwmTimebase) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := at(d.def.PwmOutputs, "pwm output", ch)
	if err != nil {
		return err
	}
	return p.SetTimebase(tb)
}

// SafeState switches off every real output and disables every PWM channel.
// Dummy channels are skipped; all failures are returned joined.
func (d *Device) SafeState() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for i, out := range d.def.Outputs {
		if out.IsDummy() {
			continue
		}
		if err := out.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("output %d: %w", i, err))
		}
	}
	for i, p := range d.def.PwmOutputs {
		if p.IsDummy() {
			continue
		}
		if err := p.Enable(false); err != nil {
			errs = append(errs, fmt.Errorf("pwm output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Counts is the length of every channel sequence.
type Counts struct {
	Inputs        int `json:"inputs"`
	Outputs       int `json:"outputs"`
	AnalogInputs  int `json:"analogInputs"`
	AnalogOutputs int `json:"analogOutputs"`
	TempSensors   int `json:"tempSensors"`
	Counters      int `json:"counters"`
	PwmOutputs    int `json:"pwmOutputs"`
}

func (d *Device) Counts() Counts {
	return Counts{
		Inputs:        len(d.def.Inputs),
		Outputs:       len(d.def.Outputs),
		AnalogInputs:  len(d.def.AnalogInputs),
		AnalogOutputs: len(d.def.AnalogOutputs),
		TempSensors:   len(d.def.TempSensors),
		Counters:      len(d.def.Counters),
		PwmOutputs:    len(d.def.PwmOutputs),
	}
}

// HwInfo mirrors the hardware information block of the C API.
type HwInfo struct {
	PcbRevision         uint8 `json:"pcbRevision"`
	DiChannels          uint8 `json:"diChannels"`
	DoChannels          uint8 `json:"doChannels"`
	AiChannels          uint8 `json:"aiChannels"`
	AoChannels          uint8 `json:"aoChannels"`
	TmpChannels         uint8 `json:"tmpChannels"`
	CntChannels         uint8 `json:"cntChannels"`
	PwmChannels         uint8 `json:"pwmChannels"`
	LegacyRelayOffset   uint8 `json:"legacyRelayOffset"`
	LegacyRelayChannels uint8 `json:"legacyRelayChannels"`
	LegacyDoChannels    uint8 `json:"legacyDoChannels"`
	LegacyDiChannels    uint8 `json:"legacyDiChannels"`
}

// HardwareInfo is computed from the definition alone. The relay range is
// the run of real outputs starting at the relay offset; legacy DOs are the
// real outputs before it and legacy DIs the real inputs among the first 32.
func (d *Device) HardwareInfo() HwInfo {
	c := d.Counts()
	info := HwInfo{
		PcbRevision: uint8(d.def.Revision),
		DiChannels:  uint8(c.Inputs),
		DoChannels:  uint8(c.Outputs),
		AiChannels:  uint8(c.AnalogInputs),
		AoChannels:  uint8(c.AnalogOutputs),
		TmpChannels: uint8(c.TempSensors),
		CntChannels: uint8(c.Counters),
		PwmChannels: uint8(c.PwmOutputs),
	}
	if off := d.def.RelayOffset; d.def.HasRelays && off >= 0 && off <= len(d.def.Outputs) {
		info.LegacyRelayOffset = uint8(off)
		for _, out := range d.def.Outputs[off:] {
			if out.IsDummy() {
				break
			}
			info.LegacyRelayChannels++
		}
		for _, out := range d.def.Outputs[:off] {
			if !out.IsDummy() {
				info.LegacyDoChannels++
			}
		}
	}
	for i, in := range d.def.Inputs {
		if i >= 32 {
			break
		}
		if !in.IsDummy() {
			info.LegacyDiChannels++
		}
	}
	return info
}

// Labels maps each channel group to the labels of its labelled channels,
// keyed by channel index. Every group is present, possibly empty.
type Labels map[string]map[string]string

func (d *Device) Labels() Labels {
	labels := Labels{}
	for _, group := range []string{"outputs", "inputs", "watchdog", "run_led", "run_switch", "config_switch",
		"analog_inputs", "analog_outputs", "temp_sensors", "counter_inputs", "pwm_outputs"} {
		labels[group] = map[string]string{}
	}
	collect := func(group string, chs []hal.Channel) {
		for i, c := range chs {
			if l := c.Label(); l != "" {
				labels[group][strconv.Itoa(i)] = l
			}
		}
	}
	collect("outputs", appendChannels(nil, d.def.Outputs))
	collect("inputs", appendChannels(nil, d.def.Inputs))
	collect("analog_inputs", appendChannels(nil, d.def.AnalogInputs))
	collect("analog_outputs", appendChannels(nil, d.def.AnalogOutputs))
	collect("temp_sensors", appendChannels(nil, d.def.TempSensors))
	collect("counter_inputs", appendChannels(nil, d.def.Counters))
	collect("pwm_outputs", appendChannels(nil, d.def.PwmOutputs))
	return labels
}

// WriteJSONInfo stores the labels as JSON at path.
func (d *Device) WriteJSONInfo(path string) error {
	data, err := json.Marshal(d.Labels())
	if err != nil {
		return fmt.Errorf("%w: %v", hal.ErrGeneric, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return hal.AccessFailed("write info", err)
	}
	return nil
}
