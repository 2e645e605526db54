package capi

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
)

type fakeOutput struct {
	hal.Base
	mu    sync.Mutex
	state bool
	panic bool
}

func (f *fakeOutput) Set(state bool) error {
	if f.panic {
		panic("broken driver")
	}
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	return nil
}

type fakeInput struct {
	hal.Base
	state bool
	cb    hal.InputCallback
}

func (f *fakeInput) Label() string { return "DI0" }

func (f *fakeInput) Get() (bool, error) { return f.state, nil }

func (f *fakeInput) UnregisterCallback() error {
	f.cb = nil
	return nil
}

func (f *fakeInput) RegisterCallback(cb hal.InputCallback, trigger hal.InputTrigger) error {
	f.cb = cb
	return nil
}

type fakeTemp struct {
	hal.Base
	value float64
}

func (f *fakeTemp) Get() (float64, error) { return f.value, nil }

type fakeAi struct {
	hal.Base
	value int64
	mode  hal.AnalogMode
}

func (f *fakeAi) Get() (int64, error) { return f.value, nil }

func (f *fakeAi) SetAnalogMode(mode hal.AnalogMode) error {
	f.mode = mode
	return nil
}

func setup(t *testing.T, def device.Definition) {
	t.Helper()
	require.Equal(t, Success, InitWith(device.New(def)))
	t.Cleanup(func() { Shutdown() })
}

func TestResultMapping(t *testing.T) {
	tests := []struct {
		err  error
		want Result
	}{
		{nil, Success},
		{hal.ErrInvalidChannel, InvalidChannel},
		{hal.ErrInvalidParameter, InvalidParameter},
		{hal.ErrNotImplemented, NotImplemented},
		{hal.ErrWatchdogTimeout, WatchdogTimeout},
		{hal.AccessFailed("gpio", os.ErrPermission), DevAccessFailed},
		{hal.ParseFailed("rev", os.ErrInvalid), Error},
		{hal.ErrGeneric, Error},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resultOf(tt.err), "%v", tt.err)
	}
	assert.Equal(t, "DevAccessFailed", DevAccessFailed.String())
	assert.Equal(t, "Result(0x42)", Result(0x42).String())
}

func TestOutputsAndInputs(t *testing.T) {
	out := &fakeOutput{}
	in := &fakeInput{state: true}
	setup(t, device.Definition{
		Name:    "test",
		Outputs: []hal.DigitalOutput{out, backend.NullOutput{}},
		Inputs:  []hal.DigitalInput{in},
	})

	assert.Equal(t, Success, SetOutput(0, true))
	assert.True(t, out.state)
	assert.Equal(t, NotImplemented, SetOutput(1, true))
	assert.Equal(t, InvalidChannel, SetOutput(2, true))

	v, res := GetInput(0)
	assert.Equal(t, Success, res)
	assert.True(t, v)
	_, res = GetInput(5)
	assert.Equal(t, InvalidChannel, res)

	var got []bool
	assert.Equal(t, InvalidParameter, RegisterInputCallback(0, nil, hal.TriggerBothEdge))
	require.Equal(t, Success, RegisterInputCallback(0, func(ch uint8, state bool) {
		assert.EqualValues(t, 0, ch)
		got = append(got, state)
	}, hal.TriggerBothEdge))
	in.cb(0, false)
	assert.Equal(t, []bool{false}, got)
	assert.Equal(t, Success, UnregisterInputCallback(0))
	assert.Nil(t, in.cb)
}

func TestPanicIsContained(t *testing.T) {
	setup(t, device.Definition{Outputs: []hal.DigitalOutput{&fakeOutput{panic: true}}})
	assert.Equal(t, Error, SetOutput(0, true))
}

func TestAnalogAndTemperature(t *testing.T) {
	ai := &fakeAi{value: 70000}
	setup(t, device.Definition{
		AnalogInputs: []hal.AnalogInput{ai},
		TempSensors:  []hal.TempSensor{&fakeTemp{value: 23.45678}, &fakeTemp{value: -math.MaxFloat64}},
	})

	v, res := AdcGetValue(0)
	assert.Equal(t, Success, res)
	assert.EqualValues(t, uint16(70000&0xffff), v)
	assert.Equal(t, Success, AdcSetMode(0, hal.AnalogCurrent))
	assert.Equal(t, hal.AnalogCurrent, ai.mode)
	assert.Equal(t, InvalidParameter, AdcSetMode(0, hal.AnalogMode(7)))

	temp, res := TmpGetValue(0)
	assert.Equal(t, Success, res)
	assert.EqualValues(t, 234567, temp)
	temp, _ = TmpGetValue(1)
	assert.EqualValues(t, math.MinInt32, temp)

	assert.Equal(t, InvalidChannel, DacSetValue(0, 1))
	assert.Equal(t, InvalidTimebase, PwmSetTimebase(0, hal.PwmTimebase(0)))
	assert.Equal(t, InvalidParameter, CntSetup(0, hal.CntCounter, hal.CntTrigger(9), hal.CntUp))
}

func TestHardwareInfoAndJson(t *testing.T) {
	setup(t, device.Definition{
		Name:     "test",
		Revision: 3,
		Inputs:   []hal.DigitalInput{&fakeInput{}},
	})

	info, res := GetHardwareInfo()
	assert.Equal(t, Success, res)
	assert.EqualValues(t, 3, info.PcbRevision)
	assert.EqualValues(t, 1, info.DiChannels)

	major, minor, res := GetVersion()
	assert.Equal(t, Success, res)
	assert.EqualValues(t, VersionMajor, major)
	assert.EqualValues(t, VersionMinor, minor)

	_, res = GetTickCount()
	assert.Equal(t, Success, res)

	assert.Equal(t, InvalidParameter, GetJson(""))
	path := filepath.Join(t.TempDir(), "io.json")
	require.Equal(t, Success, GetJson(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var labels map[string]map[string]string
	require.NoError(t, json.Unmarshal(data, &labels))
	assert.Equal(t, "DI0", labels["inputs"]["0"])

	// missing single channels fall back to placeholders
	assert.Equal(t, NotImplemented, SetRunLed(true))
	_, res = GetRunSwitch()
	assert.Equal(t, NotImplemented, res)
	assert.Equal(t, Success, EnableWatchdog(false))
	assert.Equal(t, Success, ServiceWatchdog())
}
