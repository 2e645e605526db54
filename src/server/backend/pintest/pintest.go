// Package pintest provides an in-memory backend.PinSource built on the
// periph gpiotest fakes, so boards can be brought up without hardware.
package pintest

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// Pins creates fake lines on first use.
type Pins struct {
	mu      sync.Mutex
	pins    map[string]*gpiotest.Pin
	missing map[string]bool
}

func New() *Pins {
	return &Pins{pins: map[string]*gpiotest.Pin{}, missing: map[string]bool{}}
}

func numName(num int) string                 { return fmt.Sprintf("GPIO%d", num) }
func chipName(chip string, offset int) string { return fmt.Sprintf("%s/%d", chip, offset) }
func ledName(name string) string              { return "led/" + name }

func (p *Pins) get(name string, num int) *gpiotest.Pin {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[name]
	if !ok {
		pin = &gpiotest.Pin{N: name, Num: num}
		p.pins[name] = pin
	}
	return pin
}

func (p *Pins) request(name string, num int) (*gpiotest.Pin, error) {
	p.mu.Lock()
	missing := p.missing[name]
	p.mu.Unlock()
	if missing {
		return nil, fmt.Errorf("pintest: %s not present", name)
	}
	return p.get(name, num), nil
}

func (p *Pins) Line(num int) (gpio.PinIO, error) {
	return p.request(numName(num), num)
}

func (p *Pins) ChipLine(chip string, offset int) (gpio.PinIO, error) {
	return p.request(chipName(chip, offset), offset)
}

func (p *Pins) LedLine(name string) (gpio.PinOut, error) {
	return p.request(ledName(name), -1)
}

// Num returns the line with the given global number.
func (p *Pins) Num(num int) *gpiotest.Pin { return p.get(numName(num), num) }

// Chip returns the line at offset of the labelled chip.
func (p *Pins) Chip(chip string, offset int) *gpiotest.Pin {
	return p.get(chipName(chip, offset), offset)
}

// Led returns the named LED.
func (p *Pins) Led(name string) *gpiotest.Pin { return p.get(ledName(name), -1) }

// Drive sets the level an input line reports.
func Drive(pin *gpiotest.Pin, l gpio.Level) {
	pin.Lock()
	pin.L = l
	pin.Unlock()
}

// Deny makes requests for the line with the given global number fail.
func (p *Pins) Deny(num int) {
	p.mu.Lock()
	p.missing[numName(num)] = true
	p.mu.Unlock()
}
