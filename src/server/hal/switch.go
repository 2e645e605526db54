package hal

import (
	"errors"
	"sync"
)

// AiSwitch drives the voltage/current select lines of an analog input.
// Exactly one of the two lines is active once Init or SetAnalogMode returns.
type AiSwitch struct {
	AnalogInput
	mu        sync.Mutex
	swVoltage DigitalOutput
	swCurrent DigitalOutput
}

func NewAiSwitch(inner AnalogInput, swVoltage, swCurrent DigitalOutput) *AiSwitch {
	return &AiSwitch{AnalogInput: inner, swVoltage: swVoltage, swCurrent: swCurrent}
}

func (s *AiSwitch) Init(index int) error {
	if err := s.swVoltage.Init(index); err != nil {
		return err
	}
	if err := s.swCurrent.Init(index); err != nil {
		return err
	}
	if err := s.AnalogInput.Init(index); err != nil {
		return err
	}
	return s.apply(AnalogVoltage)
}

func (s *AiSwitch) Shutdown() error {
	err := s.AnalogInput.Shutdown()
	s.swVoltage.Shutdown()
	s.swCurrent.Shutdown()
	return err
}

func (s *AiSwitch) SetAnalogMode(mode AnalogMode) error {
	if !mode.Valid() {
		return ErrInvalidParameter
	}
	if err := s.apply(mode); err != nil {
		return err
	}
	err := s.AnalogInput.SetAnalogMode(mode)
	if errors.Is(err, ErrNotImplemented) {
		return nil
	}
	return err
}

// apply deactivates the old line before activating the new one.
func (s *AiSwitch) apply(mode AnalogMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, on := s.swCurrent, s.swVoltage
	if mode == AnalogCurrent {
		off, on = s.swVoltage, s.swCurrent
	}
	if err := off.Set(false); err != nil {
		return err
	}
	return on.Set(true)
}
