package definition

import (
	"fmt"
	"time"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/shm"
)

const (
	ctr700Counter = "/sys/devices/soc0/soc/30400000.aips-bus/30650000.flextimer"
	ctr700Adc     = "iio:device1"

	sensorPeriod = 2000 * time.Millisecond
	adcPeriod    = 100 * time.Millisecond
)

// boardTemps returns the CPU and baseboard sensors, or dummies when the
// sensors are disabled.
func boardTemps(sys *backend.Sysfs, env Env, cpu, board string) ([]hal.TempSensor, []hal.Service) {
	if env.DisableLmSensors {
		return []hal.TempSensor{backend.NullTemp{}, backend.NullTemp{}}, nil
	}
	cpuTemp, cpuPoll := sys.Hwmon(cpu, sensorPeriod)
	boardTemp, boardPoll := sys.Hwmon(board, sensorPeriod)
	temps := []hal.TempSensor{hal.LabeledTemp("CPU", cpuTemp), hal.LabeledTemp("Baseboard", boardTemp)}
	return temps, []hal.Service{cpuPoll, boardPoll}
}

// shmAnalogInputs are the facade side of analog inputs sampled by the
// daemon.
func shmAnalogInputs(conn *shm.Connector, prefix string, n int) []hal.AnalogInput {
	ais := make([]hal.AnalogInput, n)
	for i := range ais {
		ais[i] = hal.LabeledAI(fmt.Sprintf("%s%d", prefix, i), shm.NewAi(conn, i))
	}
	return ais
}

func ctr700(env Env) device.Definition {
	sys := env.sysfs()
	keys := sys.Evdev(env.DevRoot, "user_input")
	conn := shm.NewConnector(env.ShmPath)
	temps, polls := boardTemps(sys, env, "imx_thermal_zone", "lm75")

	// Revision 0 boards route DO10, DO11 and /EXT_RESET differently.
	do10, do11, extReset := 42, 79, 80
	if env.Revision == 0 {
		do10, do11, extReset = 80, 81, 42
	}

	var outputs []hal.DigitalOutput
	for i, pin := range []int{70, 71, 88, 85, 72, 87, 86, 69, 76, 77, do10, do11, 75, 84} {
		outputs = append(outputs, hal.LabeledDO(fmt.Sprintf("DO%d", i), sys.Do(pin)))
	}
	outputs = append(outputs,
		hal.LabeledDO("DO14", sys.Pwm(0, 0)),
		hal.LabeledDO("DO15", sys.Pwm(1, 0)),
		hal.LabeledDO("Relay0", sys.Do(74)),
		hal.LabeledDO("Relay1", sys.Do(78)),
	)
	outputs = append(outputs, nullOutputs(14)...)
	outputs = append(outputs, hal.LabeledDO("Ext_Reset", sys.Do(extReset)))

	var inputs []hal.DigitalInput
	for i := range 16 {
		inputs = append(inputs, hal.LabeledDI(fmt.Sprintf("DI%d", i), keys.Di(backend.KeyF(i+1))))
	}
	inputs = append(inputs, nullInputs(16)...)
	inputs = append(inputs,
		hal.LabeledDI("PF", sys.Di(47)),
		hal.LabeledDI("DI_ERR", sys.Di(490)),
		hal.LabeledDI("USB_OC", sys.Di(491)),
		hal.LabeledDI("DO_PF", sys.Di(488)),
		hal.LabeledDI("DO_DIAG", sys.Di(489)),
		hal.LabeledDI("EXT_FAIL", sys.Di(43)),
		hal.LabeledDI("RUN", keys.DiActiveLow(backend.Key1)),
	)

	return device.Definition{
		RunLed:       hal.LabeledDO("Run_LED", sys.Do(73)),
		ErrLed:       hal.LabeledDO("Error_LED", sys.Do(83)),
		RunSwitch:    hal.LabeledDI("Run_Switch", keys.DiActiveLow(backend.Key1)),
		ConfigSwitch: hal.LabeledDI("Config_Switch", sys.DiActiveLow(176)),
		Outputs:      outputs,
		Inputs:       inputs,
		AnalogInputs: shmAnalogInputs(conn, "AI", 4),
		TempSensors:  temps,
		Counters:     []hal.CounterInput{backend.NewCounter(env.sysPath(ctr700Counter), keys.Di(backend.KeyF(15)), nil)},
		PwmOutputs:   []hal.PwmOutput{sys.Pwm(0, 0), sys.Pwm(1, 0)},
		HasRelays:    true,
		RelayOffset:  16,
		Services:     append([]hal.Service{keys, conn}, polls...),
	}
}

// ctr700Shm samples the four analog inputs. Each has a voltage and a current
// switch line and a calibration section.
func ctr700Shm(env Env) (device.Definition, shm.Mappings) {
	sys := env.sysfs()
	calib := env.calibration(vendorDir, "adc_calib")
	sampler := backend.NewIioSampler(sys.IioByName(ctr700Adc, "raw"), adcPeriod)

	switches := [][2]int{{504, 508}, {505, 509}, {506, 510}, {507, 511}}
	ais := make([]hal.AnalogInput, len(switches))
	for i, sw := range switches {
		ais[i] = hal.NewAiCalib(calib, fmt.Sprintf("AIN%d", i),
			hal.NewAiSwitch(backend.NewIioAi(sampler, i), sys.Do(sw[0]), sys.Do(sw[1])),
			hal.ShiftUp(3))
	}

	def := device.Definition{
		AnalogInputs: ais,
		Services:     []hal.Service{sampler},
	}
	return def, shm.Mappings{Groups: []shm.Group{
		{Notify: sampler.Notify(), Kind: shm.AnalogInputs, Channels: []int{0, 1, 2, 3}},
	}}
}
