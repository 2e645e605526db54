package backend

import (
	"sync"

	"periph.io/x/conn/v3/gpio"

	"sysworxx-io/src/server/hal"
)

// Led is an output driven through the LED class. The LED is looked up on
// first use.
type Led struct {
	hal.Base
	sys  *Sysfs
	name string

	mu  sync.Mutex
	out gpio.PinOut
}

func (s *Sysfs) Led(name string) *Led {
	return &Led{sys: s, name: name}
}

func (l *Led) Set(state bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		out, err := l.sys.pins.LedLine(l.name)
		if err != nil {
			return hal.AccessFailed("led "+l.name, err)
		}
		l.out = out
	}
	return hal.AccessFailed("led "+l.name, l.out.Out(gpio.Level(state)))
}

func (l *Led) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = nil
	return nil
}
