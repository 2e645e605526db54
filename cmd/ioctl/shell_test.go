package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysworxx-io/src/server/capi"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
)

type output struct {
	hal.Base
	state bool
}

func (o *output) Set(state bool) error {
	o.state = state
	return nil
}

type temp struct{ hal.Base }

func (temp) Get() (float64, error) { return 21.25, nil }

func TestShell(t *testing.T) {
	out := &output{}
	require.Equal(t, capi.Success, capi.InitWith(device.New(device.Definition{
		Name:        "test",
		Outputs:     []hal.DigitalOutput{out},
		TempSensors: []hal.TempSensor{temp{}},
	})))
	t.Cleanup(func() { capi.Shutdown() })

	var buf bytes.Buffer
	s := &shell{out: &buf}
	run := func(line string) string {
		buf.Reset()
		assert.True(t, s.exec(line))
		return strings.TrimSpace(buf.String())
	}

	assert.Equal(t, "ok", run("do 0 on"))
	assert.True(t, out.state)
	assert.Equal(t, "InvalidChannel", run("do 4 on"))
	assert.Contains(t, run("do 0 maybe"), "error:")
	assert.Contains(t, run("do 0"), "expected 2 argument(s)")
	assert.Equal(t, "21.2500 °C", run("tmp 0"))
	assert.Equal(t, "NotImplemented", run("led run on"))
	assert.Contains(t, run("pwm-timebase 0 2ms"), "800ns or 1ms")
	assert.Contains(t, run("info"), `"doChannels": 1`)
	assert.Equal(t, "1.0", run("version"))
	assert.Contains(t, run("frobnicate"), "Unknown command")
	assert.Equal(t, "", run("   "))
	assert.False(t, s.exec("quit"))
}
