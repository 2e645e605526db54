package hal

import (
	"math"
	"sync"
)

// IEC 60751 coefficients for platinum sensors above 0 °C.
const (
	cvdA = 3.9083e-3
	cvdB = -5.775e-7
)

// RtdCalc turns a resistance in ohms into degrees Celsius for the sensor
// type last set. Unsampled readings (-math.MaxFloat64) pass through.
type RtdCalc struct {
	TempSensor

	mu         sync.Mutex
	sensorType TmpSensorType
}

func NewRtdCalc(inner TempSensor) *RtdCalc {
	return &RtdCalc{TempSensor: inner, sensorType: PT100}
}

func (r *RtdCalc) Get() (float64, error) {
	ohms, err := r.TempSensor.Get()
	if err != nil {
		return 0, err
	}
	if ohms <= -math.MaxFloat64/2 {
		return -math.MaxFloat64, nil
	}
	r.mu.Lock()
	r0 := 100.0
	if r.sensorType == PT1000 {
		r0 = 1000
	}
	r.mu.Unlock()
	return RtdTemperature(ohms, r0), nil
}

func (r *RtdCalc) SetTempMode(mode TmpMode, sensorType TmpSensorType) error {
	if err := r.TempSensor.SetTempMode(mode, sensorType); err != nil {
		return err
	}
	r.mu.Lock()
	r.sensorType = sensorType
	r.mu.Unlock()
	return nil
}

// RtdTemperature solves the Callendar-Van Dusen equation without the C term
// for a sensor with nominal resistance r0.
func RtdTemperature(ohms, r0 float64) float64 {
	d := cvdA*cvdA - 4*cvdB*(1-ohms/r0)
	if d < 0 {
		return math.NaN()
	}
	return (-cvdA + math.Sqrt(d)) / (2 * cvdB)
}
