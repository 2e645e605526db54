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
	ctr750Counter0 = "/sys/devices/soc0/soc/30400000.aips-bus/30640000.flextimer"
	ctr750Counter1 = "/sys/devices/soc0/soc/30400000.aips-bus/30650000.flextimer"

	rtdPeriod = 250 * time.Millisecond
	tcPeriod  = 500 * time.Millisecond
)

var ctr750Leds = []string{
	"server_status",
	"signal_strength_1",
	"signal_strength_2",
	"signal_strength_3",
	"rts_operational",
	"serial_rx",
	"serial_tx",
}

func ctr750(env Env) device.Definition {
	sys := env.sysfs()
	keys := sys.Evdev(env.DevRoot, "inputs")
	conn := shm.NewConnector(env.ShmPath)
	temps, polls := boardTemps(sys, env, "imx_thermal_zone", "lm75")
	dacCalib := env.calibration(vendorDir, "dac_calib")
	dac := backend.NewIioWriter(sys.IioBySpi(0, 3, "raw"))

	outputs := []hal.DigitalOutput{
		hal.LabeledDO("Relay0", sys.Do(74)),
		hal.LabeledDO("Relay1", sys.Do(78)),
	}
	outputs = append(outputs, nullOutputs(30)...)
	outputs = append(outputs,
		hal.LabeledDO("SER_MODE", sys.Do(466)),
		hal.LabeledDO("DAC_EN", sys.Do(129)),
		hal.LabeledDO("MODEM_/RST", sys.DoActiveLowInitHigh(13)),
		// the watchdog cannot be disabled once enabled
		hal.LabeledDO("WDG_EN", hal.NewDoOnly(true, sys.Do(11))),
		hal.LabeledDO("MODEM_EN", sys.Do(5)),
		hal.LabeledDO("SER_DPLX", sys.Do(470)),
		backend.NullOutput{},
		backend.NullOutput{},
	)
	for _, led := range ctr750Leds {
		outputs = append(outputs, hal.LabeledDO(led, sys.Led(led)))
	}

	var inputs []hal.DigitalInput
	for i := range 10 {
		inputs = append(inputs, hal.LabeledDI(fmt.Sprintf("DI%d", i), keys.Di(backend.KeyF(i+1))))
	}
	inputs = append(inputs, nullInputs(22)...)
	inputs = append(inputs,
		hal.LabeledDI("/Powerfail", sys.Di(47)),
		hal.LabeledDI("/DI_ERR", sys.Di(472)),
		hal.LabeledDI("USB_/OC", sys.Di(473)),
	)
	for i := range 4 {
		inputs = append(inputs, hal.LabeledDI(fmt.Sprintf("AOUT%d_/ERR", i), sys.Di(474+i)))
	}

	aoLabels := []string{"AO0: 0 - 10 V", "AO1: 0 - 10 V", "AO2: 0 - 20 mA", "AO3: 0 - 20 mA"}
	aos := make([]hal.AnalogOutput, len(aoLabels))
	for i, label := range aoLabels {
		ao := backend.NewIioAo(dac, i, hal.ShiftDown(3), hal.Clip{Min: 0, Max: 4095}, dacCalib, fmt.Sprintf("AOUT%d", i))
		aos[i] = hal.LabeledAO(label, ao)
	}

	for i := range 6 {
		temps = append(temps, hal.LabeledTemp(fmt.Sprintf("RTD%d", i), shm.NewTemp(conn, i)))
	}
	for i := range 4 {
		temps = append(temps, hal.LabeledTemp(fmt.Sprintf("TC%d", i), shm.NewTemp(conn, 6+i)))
	}

	return device.Definition{
		RunLed:        sys.Led("RUN"),
		ErrLed:        sys.Led("ERROR"),
		RunSwitch:     backend.AlwaysActiveInput(),
		ConfigSwitch:  sys.Di(176),
		Outputs:       outputs,
		Inputs:        inputs,
		AnalogInputs:  shmAnalogInputs(conn, "AI", 8),
		AnalogOutputs: aos,
		TempSensors:   temps,
		Counters: []hal.CounterInput{
			hal.LabeledCounter("CI0", backend.NewCounter(env.sysPath(ctr750Counter0), keys.Di(backend.KeyF(9)), nil)),
			hal.LabeledCounter("CI1", backend.NewCounter(env.sysPath(ctr750Counter1), keys.Di(backend.KeyF(10)), nil)),
		},
		HasRelays: true,
		Services:  append([]hal.Service{keys, conn, dac}, polls...),
	}
}

// ctr750Shm samples eight analog inputs, six RTDs on two converters and
// four thermocouples on two more.
func ctr750Shm(env Env) (device.Definition, shm.Mappings) {
	sys := env.sysfs()
	adcCalib := env.calibration(vendorDir, "adc_calib")
	rtdCalib := env.calibration(vendorDir, "rtd_calib")
	tcCalib := env.calibration(vendorDir, "tc_calib")

	adc := backend.NewIioSampler(sys.IioBySpi(0, 0, "raw").WithAttr("sampling_frequency", "200"), adcPeriod)
	ais := make([]hal.AnalogInput, 8)
	for i := range ais {
		// voltage lines 480..483 and 488..491, the current line four above
		v := 480 + i
		if i >= 4 {
			v += 4
		}
		sw := hal.NewAiSwitch(backend.NewIioAi(adc, i), sys.Do(v), sys.Do(v+4))
		ais[i] = hal.NewAiCalib(adcCalib, fmt.Sprintf("AIN%d", i), sw, hal.NoShift)
	}

	rtd0 := backend.NewIioTempSampler(sys.IioBySpi(0, 1, "input").WithAttr("sampling_frequency", "20"), rtdPeriod)
	rtd1 := backend.NewIioTempSampler(sys.IioBySpi(0, 2, "input").WithAttr("sampling_frequency", "20"), rtdPeriod)
	var temps []hal.TempSensor
	for i := range 6 {
		sampler := rtd0
		if i >= 3 {
			sampler = rtd1
		}
		rtd := hal.NewTmpRtdCalib(rtdCalib, fmt.Sprintf("RTD%d", i), backend.NewIioRtd(sampler, i%3))
		temps = append(temps, hal.NewRtdCalc(rtd))
	}

	// Each converter measures two thermocouples against its ambient
	// channel 0: voltage2-voltage3 (channel 7) and voltage0-voltage1
	// (channel 2).
	tc0Dev := sys.IioBySpi(1, 0, "input").WithAttr("sampling_frequency", "8").
		WithChannelAttr(7, "scale", "5").WithChannelAttr(2, "scale", "5")
	tc1Dev := sys.IioBySpi(1, 1, "input").WithAttr("sampling_frequency", "8").
		WithChannelAttr(7, "scale", "5").WithChannelAttr(2, "scale", "5")
	tc0 := backend.NewIioTempSampler(tc0Dev, tcPeriod)
	tc1 := backend.NewIioTempSampler(tc1Dev, tcPeriod)
	temps = append(temps,
		backend.NewIioTc(tc0, tcCalib, "TC0", 0, 7),
		backend.NewIioTc(tc0, tcCalib, "TC1", 0, 2),
		backend.NewIioTc(tc1, tcCalib, "TC2", 0, 7),
		backend.NewIioTc(tc1, tcCalib, "TC3", 0, 2),
	)

	def := device.Definition{
		// gpio 171 drives /CS of spi1.0 and has to be an output
		Outputs:      []hal.DigitalOutput{sys.Do(171)},
		AnalogInputs: ais,
		TempSensors:  temps,
		Services:     []hal.Service{adc, rtd0, rtd1, tc0, tc1},
	}
	return def, shm.Mappings{Groups: []shm.Group{
		{Notify: adc.Notify(), Kind: shm.AnalogInputs, Channels: []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{Notify: rtd0.Notify(), Kind: shm.TempInputs, Channels: []int{0, 1, 2}},
		{Notify: rtd1.Notify(), Kind: shm.TempInputs, Channels: []int{3, 4, 5}},
		{Notify: tc0.Notify(), Kind: shm.TempInputs, Channels: []int{6, 7}},
		{Notify: tc1.Notify(), Kind: shm.TempInputs, Channels: []int{8, 9}},
	}}
}
