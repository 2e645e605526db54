package definition

import (
	"fmt"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
)

// legacyIO pads the first four inputs and outputs of the small boards to
// the legacy layout and appends the board status lines at 32.
func legacyIO(outs []hal.DigitalOutput, ins []hal.DigitalInput, status []hal.DigitalInput) ([]hal.DigitalOutput, []hal.DigitalInput) {
	outs = append(outs, nullOutputs(32-len(outs))...)
	ins = append(ins, nullInputs(32-len(ins))...)
	return outs, append(ins, status...)
}

func firstInputs(keys *backend.EvdevCollector, n int) []hal.DigitalInput {
	ins := make([]hal.DigitalInput, n)
	for i := range ins {
		ins[i] = hal.LabeledDI(fmt.Sprintf("DI%d", i), keys.Di(backend.KeyF(i+1)))
	}
	return ins
}

// ctr600 shares the SoC and expander of the ctr800 with four inputs and
// four outputs, two of which are PWM capable.
func ctr600(env Env) device.Definition {
	sys := env.sysfs()
	keys := sys.Evdev(env.DevRoot, "gpio_input")
	temps, polls := boardTemps(sys, env, "main1_thermal", "lm75")

	outputs, inputs := legacyIO(
		[]hal.DigitalOutput{
			hal.LabeledDO("DO0", sys.ChipDo(mainGpio, 19)),
			hal.LabeledDO("DO1", sys.ChipDo(mainGpio, 20)),
			hal.LabeledDO("DO2", sys.Pwm(0, 0)),
			hal.LabeledDO("DO3", sys.Pwm(2, 0)),
		},
		firstInputs(keys, 4),
		[]hal.DigitalInput{
			hal.LabeledDI("PF", sys.ChipDi(mainGpio, 43, false)),
			hal.LabeledDI("DI_ERR", sys.ChipDi(expander, 2, false)),
			hal.LabeledDI("USB_OC", sys.ChipDi(expander, 3, false)),
			hal.LabeledDI("DO_PF", sys.ChipDi(expander, 0, false)),
			hal.LabeledDI("DO_DIAG", sys.ChipDi(expander, 1, false)),
			backend.NewNullInput(),
			hal.LabeledDI("RUN", keys.DiActiveLow(backend.Key1)),
		},
	)
	outputs = append(outputs, backend.NullOutput{})

	return device.Definition{
		RunLed:       hal.LabeledDO("Run_LED", sys.ChipDo(mainGpio, 5)),
		ErrLed:       hal.LabeledDO("Error_LED", sys.ChipDo(mainGpio, 6)),
		RunSwitch:    hal.LabeledDI("Run_Switch", keys.DiActiveLow(backend.Key1)),
		ConfigSwitch: hal.LabeledDI("Config_Switch", sys.ChipDi(mainGpio, 62, true)),
		Outputs:      outputs,
		Inputs:       inputs,
		TempSensors:  temps,
		Counters:     []hal.CounterInput{backend.NewCounterDevice(env.sysPath(ctr800Counter), keys.Di(backend.KeyF(15)))},
		PwmOutputs:   []hal.PwmOutput{sys.Pwm(0, 0), sys.Pwm(2, 0)},
		HasRelays:    true,
		RelayOffset:  16,
		Services:     append([]hal.Service{keys}, polls...),
	}
}

// ctr500 is the i.MX7 sibling of the ctr700. Its counter is clocked by
// DI2.
func ctr500(env Env) device.Definition {
	sys := env.sysfs()
	keys := sys.Evdev(env.DevRoot, "user_input")
	temps, polls := boardTemps(sys, env, "imx_thermal_zone", "lm75")

	outputs, inputs := legacyIO(
		[]hal.DigitalOutput{
			hal.LabeledDO("DO0", sys.Do(75)),
			hal.LabeledDO("DO1", sys.Do(84)),
			hal.LabeledDO("DO2", sys.Pwm(0, 0)),
			hal.LabeledDO("DO3", sys.Pwm(1, 0)),
		},
		firstInputs(keys, 4),
		[]hal.DigitalInput{
			hal.LabeledDI("PF", sys.Di(47)),
			hal.LabeledDI("DI_ERR", sys.Di(498)),
			hal.LabeledDI("USB_OC", sys.Di(499)),
			hal.LabeledDI("DO_PF", sys.Di(496)),
			hal.LabeledDI("DO_DIAG", sys.Di(497)),
			hal.LabeledDI("EXT_FAIL", sys.Di(43)),
			hal.LabeledDI("RUN", keys.DiActiveLow(backend.Key1)),
		},
	)
	outputs = append(outputs, hal.LabeledDO("Ext_Reset", sys.Do(80)))

	return device.Definition{
		RunLed:       hal.LabeledDO("Run_LED", sys.Do(73)),
		ErrLed:       hal.LabeledDO("Error_LED", sys.Do(83)),
		RunSwitch:    hal.LabeledDI("Run_Switch", keys.DiActiveLow(backend.Key1)),
		ConfigSwitch: hal.LabeledDI("Config_Switch", sys.DiActiveLow(176)),
		Outputs:      outputs,
		Inputs:       inputs,
		TempSensors:  temps,
		Counters:     []hal.CounterInput{backend.NewCounter(env.sysPath(ctr700Counter), keys.Di(backend.KeyF(3)), nil)},
		PwmOutputs:   []hal.PwmOutput{sys.Pwm(0, 0), sys.Pwm(1, 0)},
		HasRelays:    true,
		RelayOffset:  16,
		Services:     append([]hal.Service{keys}, polls...),
	}
}
