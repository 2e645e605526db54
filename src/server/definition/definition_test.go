package definition

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"sysworxx-io/src/server/backend/pintest"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/shm"
)

func testEnvPins(t *testing.T) (Env, *pintest.Pins) {
	dir := t.TempDir()
	pins := pintest.New()
	return Env{
		SysfsRoot:        filepath.Join(dir, "sys"),
		Pins:             pins,
		DevRoot:          filepath.Join(dir, "dev"),
		ShmPath:          filepath.Join(dir, "iomapping"),
		CalibrationDir:   filepath.Join(dir, "vendor"),
		Revision:         1,
		DisableLmSensors: true,
	}, pins
}

func testEnv(t *testing.T) Env {
	env, _ := testEnvPins(t)
	return env
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"ctr500", "ctr600", "ctr700", "ctr750", "ctr800", "jaspermate"}, Names())
}

func TestUnknownModelFallsBack(t *testing.T) {
	dev := Load("toaster", testEnv(t))
	assert.Equal(t, Fallback, dev.Name())

	c := dev.Counts()
	assert.Equal(t, legacyOutputs, c.Outputs)
	assert.Equal(t, legacyInputs, c.Inputs)
	assert.Zero(t, c.AnalogInputs)

	info := dev.HardwareInfo()
	assert.Zero(t, info.LegacyRelayChannels)
	assert.Zero(t, info.LegacyDoChannels)
	assert.Zero(t, info.LegacyDiChannels)

	require.NoError(t, dev.Init(context.Background()))
	assert.ErrorIs(t, dev.SetOutput(0, true), hal.ErrNotImplemented)
	require.NoError(t, dev.Shutdown())
}

func TestCtr700Layout(t *testing.T) {
	dev := Load("ctr700", testEnv(t))
	assert.Equal(t, "ctr700", dev.Name())

	c := dev.Counts()
	assert.Equal(t, device.Counts{
		Inputs:       legacyInputs,
		Outputs:      legacyOutputs,
		AnalogInputs: 4,
		TempSensors:  2,
		Counters:     1,
		PwmOutputs:   2,
	}, c)

	info := dev.HardwareInfo()
	assert.EqualValues(t, 1, info.PcbRevision)
	assert.EqualValues(t, 16, info.LegacyRelayOffset)
	assert.EqualValues(t, 2, info.LegacyRelayChannels)
	assert.EqualValues(t, 16, info.LegacyDoChannels)
	assert.EqualValues(t, 16, info.LegacyDiChannels)

	labels := dev.Labels()
	assert.Equal(t, "DO0", labels["outputs"]["0"])
	assert.Equal(t, "Relay0", labels["outputs"]["16"])
	assert.Equal(t, "Ext_Reset", labels["outputs"]["32"])
	assert.Equal(t, "RUN", labels["inputs"]["38"])
	assert.Equal(t, "AI3", labels["analog_inputs"]["3"])
}

func TestCtr700RevisionPins(t *testing.T) {
	for _, tc := range []struct {
		revision int
		do10     int
		reset    int
	}{
		{revision: 0, do10: 80, reset: 42},
		{revision: 1, do10: 42, reset: 80},
	} {
		t.Run(strconv.Itoa(tc.revision), func(t *testing.T) {
			env, pins := testEnvPins(t)
			env.Revision = tc.revision

			def := ctr700(env)
			require.NoError(t, def.Outputs[10].Init(10))
			require.NoError(t, def.Outputs[10].Set(true))
			require.NoError(t, def.Outputs[32].Init(32))
			require.NoError(t, def.Outputs[32].Set(true))

			assert.Equal(t, gpio.High, pins.Num(tc.do10).Read())
			assert.Equal(t, gpio.High, pins.Num(tc.reset).Read())
		})
	}
}

func TestSmallBoards(t *testing.T) {
	for _, tc := range []struct {
		name    string
		out32   string
		extFail bool
	}{
		{name: "ctr500", out32: "Ext_Reset", extFail: true},
		{name: "ctr600"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := Load(tc.name, testEnv(t))
			assert.Equal(t, device.Counts{
				Inputs:      legacyInputs,
				Outputs:     legacyOutputs,
				TempSensors: 2,
				Counters:    1,
				PwmOutputs:  2,
			}, dev.Counts())

			info := dev.HardwareInfo()
			assert.EqualValues(t, 16, info.LegacyRelayOffset)
			assert.Zero(t, info.LegacyRelayChannels)
			assert.EqualValues(t, 4, info.LegacyDoChannels)
			assert.EqualValues(t, 4, info.LegacyDiChannels)

			labels := dev.Labels()
			assert.Equal(t, "DO3", labels["outputs"]["3"])
			assert.Equal(t, tc.out32, labels["outputs"]["32"])
			assert.Equal(t, "DI3", labels["inputs"]["3"])
			assert.Equal(t, "PF", labels["inputs"]["32"])
			assert.Equal(t, "RUN", labels["inputs"]["38"])
			_, ok := labels["inputs"]["37"]
			assert.Equal(t, tc.extFail, ok)
		})
	}
}

func TestLoadShm(t *testing.T) {
	env := testEnv(t)
	for _, name := range []string{"ctr700", "ctr750", "ctr800"} {
		dev, mappings, ok := LoadShm(name, env)
		require.True(t, ok, name)
		assert.Equal(t, name, dev.Name())
		assert.NotEmpty(t, mappings.Groups)
	}

	_, mappings, ok := LoadShm("jaspermate", env)
	assert.False(t, ok)
	assert.Empty(t, mappings.Groups)

	_, mappings, _ = LoadShm("ctr750", env)
	var temps int
	for _, g := range mappings.Groups {
		if g.Kind == shm.TempInputs {
			temps += len(g.Channels)
		}
	}
	assert.Equal(t, 10, temps)
}

func TestCtr700ShmSamples(t *testing.T) {
	env, pins := testEnvPins(t)
	adc := filepath.Join(env.SysfsRoot, "bus", "iio", "devices", ctr700Adc)
	for i, raw := range []string{"100", "200", "300", "400"} {
		writeFile(t, filepath.Join(adc, "in_voltage"+strconv.Itoa(i)+"_raw"), raw)
	}
	writeFile(t, filepath.Join(env.CalibrationDir, "adc_calib"), "[AIN1]\nVoltageGain = 2\nCurrentGain = 0.5\n")

	dev, mappings, ok := LoadShm("ctr700", env)
	require.True(t, ok)
	require.Len(t, mappings.Groups, 1)
	require.NoError(t, dev.Init(context.Background()))
	defer dev.Shutdown()

	select {
	case <-mappings.Groups[0].Notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no sample")
	}

	v, err := dev.AnalogInput(0)
	require.NoError(t, err)
	assert.EqualValues(t, 800, v)
	v, err = dev.AnalogInput(1)
	require.NoError(t, err)
	assert.EqualValues(t, 3200, v)

	// voltage line on after init, current line after switching
	assert.Equal(t, gpio.High, pins.Num(505).Read())
	assert.Equal(t, gpio.Low, pins.Num(509).Read())
	require.NoError(t, dev.SetAnalogMode(1, hal.AnalogCurrent))
	assert.Equal(t, gpio.Low, pins.Num(505).Read())
	assert.Equal(t, gpio.High, pins.Num(509).Read())

	v, err = dev.AnalogInput(1)
	require.NoError(t, err)
	assert.EqualValues(t, 800, v)
}

func TestJaspermateWithoutCards(t *testing.T) {
	env := testEnv(t)
	env.Modbus.Port = filepath.Join(t.TempDir(), "ttyMissing")

	dev := Load("jaspermate", env)
	assert.Equal(t, "jaspermate", dev.Name())
	assert.Equal(t, device.Counts{}, dev.Counts())

	require.NoError(t, dev.Init(context.Background()))
	require.NoError(t, dev.Shutdown())
}

func TestSysPath(t *testing.T) {
	env := Env{SysfsRoot: "/tmp/sys"}
	assert.Equal(t, "/tmp/sys/bus/counter/devices/counter0/count0", env.sysPath(ctr800Counter))
}
