package definition

import (
	"fmt"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/shm"
)

const (
	ctr800Counter = "/sys/bus/counter/devices/counter0/count0"
	ctr800Adc     = "iio:device0"

	mainGpio   = "600000.gpio"
	wakeupGpio = "4201000.gpio"
	expander   = "1-003a"
	adcSwitch  = "1-0038"
)

type chipLine struct {
	chip   string
	offset int
}

func ctr800(env Env) device.Definition {
	sys := env.sysfs()
	keys := sys.Evdev(env.DevRoot, "gpio_input")
	conn := shm.NewConnector(env.ShmPath)
	temps, polls := boardTemps(sys, env, "main1_thermal", "lm75")

	dos := []chipLine{
		{wakeupGpio, 2}, {wakeupGpio, 3},
		{mainGpio, 51}, {mainGpio, 52}, {mainGpio, 57}, {mainGpio, 58}, {mainGpio, 59},
		{mainGpio, 60}, {mainGpio, 61}, {mainGpio, 17}, {mainGpio, 1}, {mainGpio, 26},
		{mainGpio, 19}, {mainGpio, 20},
	}
	var outputs []hal.DigitalOutput
	for i, l := range dos {
		outputs = append(outputs, hal.LabeledDO(fmt.Sprintf("DO%d", i), sys.ChipDo(l.chip, l.offset)))
	}
	outputs = append(outputs,
		hal.LabeledDO("DO14", sys.Pwm(0, 0)),
		hal.LabeledDO("DO15", sys.Pwm(2, 0)),
		hal.LabeledDO("Relay0", sys.ChipDo(mainGpio, 3)),
		hal.LabeledDO("Relay1", sys.ChipDo(mainGpio, 4)),
	)
	outputs = append(outputs, nullOutputs(15)...)

	var inputs []hal.DigitalInput
	for i := range 16 {
		inputs = append(inputs, hal.LabeledDI(fmt.Sprintf("DI%d", i), keys.Di(backend.KeyF(i+1))))
	}
	inputs = append(inputs, nullInputs(16)...)
	inputs = append(inputs,
		hal.LabeledDI("PF", sys.ChipDi(mainGpio, 43, false)),
		hal.LabeledDI("DI_ERR", sys.ChipDi(expander, 2, false)),
		hal.LabeledDI("USB_OC", sys.ChipDi(expander, 3, false)),
		hal.LabeledDI("DO_PF", sys.ChipDi(expander, 0, false)),
		hal.LabeledDI("DO_DIAG", sys.ChipDi(expander, 1, false)),
		backend.NewNullInput(),
		hal.LabeledDI("RUN", keys.DiActiveLow(backend.Key1)),
	)

	// The longest PWM period is about 469 ms.
	return device.Definition{
		RunLed:       hal.LabeledDO("Run_LED", sys.ChipDo(mainGpio, 5)),
		ErrLed:       hal.LabeledDO("Error_LED", sys.ChipDo(mainGpio, 6)),
		RunSwitch:    hal.LabeledDI("Run_Switch", keys.DiActiveLow(backend.Key1)),
		ConfigSwitch: hal.LabeledDI("Config_Switch", sys.ChipDi(mainGpio, 62, true)),
		Outputs:      outputs,
		Inputs:       inputs,
		AnalogInputs: shmAnalogInputs(conn, "AIN", 4),
		TempSensors:  temps,
		Counters:     []hal.CounterInput{backend.NewCounterDevice(env.sysPath(ctr800Counter), keys.Di(backend.KeyF(15)))},
		PwmOutputs:   []hal.PwmOutput{sys.Pwm(0, 0), sys.Pwm(2, 0)},
		HasRelays:    true,
		RelayOffset:  16,
		Services:     append([]hal.Service{keys, conn}, polls...),
	}
}

// ctr800Shm samples four analog inputs. The switch lines sit on an I2C
// expander; the current line is four above the voltage line.
func ctr800Shm(env Env) (device.Definition, shm.Mappings) {
	sys := env.sysfs()
	calib := env.calibration(bootVendorDir, "adc_calib")
	sampler := backend.NewIioSampler(sys.IioByName(ctr800Adc, "raw"), adcPeriod)

	ais := make([]hal.AnalogInput, 4)
	for i, ch := range []int{1, 4, 6, 8} {
		sw := hal.NewAiSwitch(backend.NewIioAi(sampler, ch), sys.ChipDo(adcSwitch, i), sys.ChipDo(adcSwitch, i+4))
		ais[i] = hal.NewAiCalib(calib, fmt.Sprintf("AIN%d", i), sw, hal.ShiftUp(3))
	}

	def := device.Definition{
		AnalogInputs: ais,
		Services:     []hal.Service{sampler},
	}
	return def, shm.Mappings{Groups: []shm.Group{
		{Notify: sampler.Notify(), Kind: shm.AnalogInputs, Channels: []int{0, 1, 2, 3}},
	}}
}
