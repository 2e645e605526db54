package hal

// Label decorators attach a display name and forward everything else.

type labeledDI struct {
	DigitalInput
	label string
}

func (l labeledDI) Label() string { return l.label }

func LabeledDI(label string, inner DigitalInput) DigitalInput {
	return labeledDI{DigitalInput: inner, label: label}
}

type labeledDO struct {
	DigitalOutput
	label string
}

func (l labeledDO) Label() string { return l.label }

func LabeledDO(label string, inner DigitalOutput) DigitalOutput {
	return labeledDO{DigitalOutput: inner, label: label}
}

type labeledAI struct {
	AnalogInput
	label string
}

func (l labeledAI) Label() string { return l.label }

func LabeledAI(label string, inner AnalogInput) AnalogInput {
	return labeledAI{AnalogInput: inner, label: label}
}

type labeledAO struct {
	AnalogOutput
	label string
}

func (l labeledAO) Label() string { return l.label }

func LabeledAO(label string, inner AnalogOutput) AnalogOutput {
	return labeledAO{AnalogOutput: inner, label: label}
}

type labeledTemp struct {
	TempSensor
	label string
}

func (l labeledTemp) Label() string { return l.label }

func LabeledTemp(label string, inner TempSensor) TempSensor {
	return labeledTemp{TempSensor: inner, label: label}
}

type labeledCounter struct {
	CounterInput
	label string
}

func (l labeledCounter) Label() string { return l.label }

func LabeledCounter(label string, inner CounterInput) CounterInput {
	return labeledCounter{CounterInput: inner, label: label}
}

type labeledPwm struct {
	PwmOutput
	label string
}

func (l labeledPwm) Label() string { return l.label }

func LabeledPwm(label string, inner PwmOutput) PwmOutput {
	return labeledPwm{PwmOutput: inner, label: label}
}
