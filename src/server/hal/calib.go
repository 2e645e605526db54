package hal

import (
	"errors"
	"io/fs"
	"log"
	"math"
	"sync"

	"gopkg.in/ini.v1"
)

// Calibration holds per-channel gain/offset pairs from an INI file, one
// section per channel.
type Calibration struct {
	file *ini.File
}

// LoadCalibration reads path. A missing file yields an empty calibration; a
// malformed one is logged and also treated as empty so the device still
// comes up uncalibrated.
func LoadCalibration(path string) *Calibration {
	cfg, err := ini.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("calibration: %v", ParseFailed(path, err))
		}
		cfg = ini.Empty()
	}
	return &Calibration{file: cfg}
}

// ParseCalibration reads calibration data from memory.
func ParseCalibration(data []byte) (*Calibration, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, ParseFailed("calibration", err)
	}
	return &Calibration{file: cfg}, nil
}

// Float returns section.key or def when absent or unparsable.
func (c *Calibration) Float(section, key string, def float64) float64 {
	if c == nil || c.file == nil || !c.file.HasSection(section) {
		return def
	}
	return c.file.Section(section).Key(key).MustFloat64(def)
}

// Gain returns a gain value. Gains above 2.0 are stored scaled by 10000.
func (c *Calibration) Gain(section, key string) float64 {
	g := c.Float(section, key, 1.0)
	if g > 2.0 {
		g /= 10000.0
	}
	return g
}

type linear struct {
	gain, offset float64
}

func (l linear) apply(v float64) float64 { return v*l.gain + l.offset }

// AiCalib applies a per-mode linear calibration to an analog input after
// shifting the raw value.
type AiCalib struct {
	AnalogInput
	shifter Shifter
	voltage linear
	current linear

	mu   sync.Mutex
	mode AnalogMode
}

func NewAiCalib(calib *Calibration, section string, inner AnalogInput, shifter Shifter) *AiCalib {
	return &AiCalib{
		AnalogInput: inner,
		shifter:     shifter,
		voltage:     linear{calib.Gain(section, "VoltageGain"), calib.Float(section, "VoltageOffset", 0)},
		current:     linear{calib.Gain(section, "CurrentGain"), calib.Float(section, "CurrentOffset", 0)},
		mode:        AnalogVoltage,
	}
}

func (c *AiCalib) Get() (int64, error) {
	c.mu.Lock()
	cal := c.voltage
	if c.mode == AnalogCurrent {
		cal = c.current
	}
	c.mu.Unlock()

	raw, err := c.AnalogInput.Get()
	if err != nil {
		return 0, err
	}
	return int64(math.Round(cal.apply(float64(c.shifter.Apply(raw))))), nil
}

func (c *AiCalib) SetAnalogMode(mode AnalogMode) error {
	if !mode.Valid() {
		return ErrInvalidParameter
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return c.AnalogInput.SetAnalogMode(mode)
}

// TmpRtdCalib calibrates RTD readings by wiring mode. Two-wire shares the
// four-wire values.
type TmpRtdCalib struct {
	TempSensor
	fourWire  linear
	threeWire linear

	mu   sync.Mutex
	mode TmpMode
}

func NewTmpRtdCalib(calib *Calibration, section string, inner TempSensor) *TmpRtdCalib {
	return &TmpRtdCalib{
		TempSensor: inner,
		fourWire:   linear{calib.Float(section, "FourWireGain", 1), calib.Float(section, "FourWireOffset", 0)},
		threeWire:  linear{calib.Float(section, "ThreeWireGain", 1), calib.Float(section, "ThreeWireOffset", 0)},
		mode:       RtdFourWire,
	}
}

func (c *TmpRtdCalib) Get() (float64, error) {
	c.mu.Lock()
	cal := c.fourWire
	if c.mode == RtdThreeWire {
		cal = c.threeWire
	}
	c.mu.Unlock()

	v, err := c.TempSensor.Get()
	if err != nil {
		return 0, err
	}
	return cal.apply(v), nil
}

func (c *TmpRtdCalib) SetTempMode(mode TmpMode, sensorType TmpSensorType) error {
	if !mode.Valid() || !sensorType.Valid() {
		return ErrInvalidParameter
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}
