package hal

import "math"

// Shifter scales raw converter values by a power of two.
type Shifter struct {
	Bits int
	// Down shifts right instead of left.
	Down bool
}

// NoShift leaves values unchanged.
var NoShift = Shifter{}

func ShiftUp(bits int) Shifter   { return Shifter{Bits: bits} }
func ShiftDown(bits int) Shifter { return Shifter{Bits: bits, Down: true} }

func (s Shifter) Apply(v int64) int64 {
	if s.Down {
		return v >> s.Bits
	}
	return v << s.Bits
}

// Clip clamps values into [Min, Max].
type Clip struct {
	Min, Max int64
}

// NoClip lets every int64 through.
var NoClip = Clip{Min: math.MinInt64, Max: math.MaxInt64}

func (c Clip) Apply(v int64) int64 {
	return max(c.Min, min(c.Max, v))
}

// DoOnly forwards a write only when it equals the expected state and drops
// anything else. Used for lines that must never be driven the other way,
// such as reset outputs.
type DoOnly struct {
	DigitalOutput
	expected bool
}

func NewDoOnly(expected bool, inner DigitalOutput) *DoOnly {
	return &DoOnly{DigitalOutput: inner, expected: expected}
}

func (d *DoOnly) Set(state bool) error {
	if state != d.expected {
		return nil
	}
	return d.DigitalOutput.Set(state)
}
