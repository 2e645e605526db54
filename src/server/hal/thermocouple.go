package hal

import (
	"math"
	"sort"
)

// Type K thermocouple voltages in mV from -50 °C to 260 °C in 1 °C steps,
// referenced to a 0 °C cold junction.
const (
	tcStart = -50.0
	tcStep  = 1.0
)

var tcTable = [...]float64{
	-1.889, -1.854, -1.818, -1.782, -1.745, -1.709, -1.673, -1.637, -1.600, -1.564,
	-1.527, -1.490, -1.453, -1.417, -1.380, -1.343, -1.305, -1.268, -1.231, -1.194,
	-1.156, -1.119, -1.081, -1.043, -1.006, -0.968, -0.930, -0.892, -0.854, -0.816,
	-0.778, -0.739, -0.701, -0.663, -0.624, -0.586, -0.547, -0.508, -0.470, -0.431,
	-0.392, -0.353, -0.314, -0.275, -0.236, -0.197, -0.157, -0.118, -0.079, -0.039,
	0.000, 0.039, 0.079, 0.119, 0.158, 0.198, 0.238, 0.277, 0.317, 0.357,
	0.397, 0.437, 0.477, 0.517, 0.557, 0.597, 0.637, 0.677, 0.718, 0.758,
	0.798, 0.838, 0.879, 0.919, 0.960, 1.000, 1.041, 1.081, 1.122, 1.163,
	1.203, 1.244, 1.285, 1.326, 1.366, 1.407, 1.448, 1.489, 1.530, 1.571,
	1.612, 1.653, 1.694, 1.735, 1.776, 1.817, 1.858, 1.899, 1.941, 1.982,
	2.023, 2.064, 2.106, 2.147, 2.188, 2.230, 2.271, 2.312, 2.354, 2.395,
	2.436, 2.478, 2.519, 2.561, 2.602, 2.644, 2.685, 2.727, 2.768, 2.810,
	2.851, 2.893, 2.934, 2.976, 3.017, 3.059, 3.100, 3.142, 3.184, 3.225,
	3.267, 3.308, 3.350, 3.391, 3.433, 3.474, 3.516, 3.557, 3.599, 3.640,
	3.682, 3.723, 3.765, 3.806, 3.848, 3.889, 3.931, 3.972, 4.013, 4.055,
	4.096, 4.138, 4.179, 4.220, 4.262, 4.303, 4.344, 4.385, 4.427, 4.468,
	4.509, 4.550, 4.591, 4.633, 4.674, 4.715, 4.756, 4.797, 4.838, 4.879,
	4.920, 4.961, 5.002, 5.043, 5.084, 5.124, 5.165, 5.206, 5.247, 5.288,
	5.328, 5.369, 5.410, 5.450, 5.491, 5.532, 5.572, 5.613, 5.653, 5.694,
	5.735, 5.775, 5.815, 5.856, 5.896, 5.937, 5.977, 6.017, 6.058, 6.098,
	6.138, 6.179, 6.219, 6.259, 6.299, 6.339, 6.380, 6.420, 6.460, 6.500,
	6.540, 6.580, 6.620, 6.660, 6.701, 6.741, 6.781, 6.821, 6.861, 6.901,
	6.941, 6.981, 7.021, 7.060, 7.100, 7.140, 7.180, 7.220, 7.260, 7.300,
	7.340, 7.380, 7.420, 7.460, 7.500, 7.540, 7.579, 7.619, 7.659, 7.699,
	7.739, 7.779, 7.819, 7.859, 7.899, 7.939, 7.979, 8.019, 8.059, 8.099,
	8.138, 8.178, 8.218, 8.258, 8.298, 8.338, 8.378, 8.418, 8.458, 8.499,
	8.539, 8.579, 8.619, 8.659, 8.699, 8.739, 8.779, 8.819, 8.860, 8.900,
	8.940, 8.980, 9.020, 9.061, 9.101, 9.141, 9.181, 9.222, 9.262, 9.302,
	9.343, 9.383, 9.423, 9.464, 9.504, 9.545, 9.585, 9.626, 9.666, 9.707,
	9.747, 9.788, 9.828, 9.869, 9.909, 9.950, 9.991, 10.031, 10.072, 10.113,
	10.153, 10.194, 10.235, 10.276, 10.316, 10.357, 10.398, 10.439, 10.480, 10.520,
	10.561,
}

var tcEnd = tcStart + tcStep*float64(len(tcTable)-1)

// tcTemperature is the inverse of tcVoltage: it interpolates the
// temperature for a voltage and returns ±Inf outside the table.
func tcTemperature(mv float64) float64 {
	last := len(tcTable) - 1
	switch {
	case mv <= tcTable[0]:
		return math.Inf(-1)
	case mv >= tcTable[last]:
		return math.Inf(1)
	}
	j := sort.SearchFloat64s(tcTable[:], mv)
	if tcTable[j] == mv {
		return tcStart + float64(j)*tcStep
	}
	i := j - 1
	return tcStart + float64(i)*tcStep + (mv-tcTable[i])*tcStep/(tcTable[j]-tcTable[i])
}

// tcVoltage interpolates the thermocouple voltage at temp.
func tcVoltage(temp float64) float64 {
	switch {
	case temp <= tcStart:
		return math.Inf(-1)
	case temp >= tcEnd:
		return math.Inf(1)
	}
	pos := (temp - tcStart) / tcStep
	i := int(pos)
	frac := pos - float64(i)
	return tcTable[i] + frac*(tcTable[i+1]-tcTable[i])
}

// ThermocoupleTemperature compensates the measured voltage (mV) with the
// cold junction at ambient (°C) and converts the sum to °C.
func ThermocoupleTemperature(ambient, mv float64) float64 {
	return tcTemperature(tcVoltage(ambient) + mv)
}
