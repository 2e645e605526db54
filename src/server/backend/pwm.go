package backend

import (
	"fmt"
	"strconv"
	"sync"

	"sysworxx-io/src/server/hal"
)

type pwmAddress struct {
	chip, channel int
}

// pwmChip is the state of one PWM channel, shared between every Pwm value
// created for the same chip/channel.
type pwmChip struct {
	sys  *Sysfs
	addr pwmAddress

	mu           sync.Mutex
	timebase     uint64
	period, duty uint64
	updateNeeded bool
}

func (p *pwmChip) base() string {
	return p.sys.path("class", "pwm", "pwmchip"+strconv.Itoa(p.addr.chip), "pwm"+strconv.Itoa(p.addr.channel))
}

func (p *pwmChip) export() error {
	if exists(p.base()) {
		return nil
	}
	err := writeAttr(p.sys.path("class", "pwm", "pwmchip"+strconv.Itoa(p.addr.chip), "export"), strconv.Itoa(p.addr.channel))
	return hal.AccessFailed(p.String()+" export", err)
}

// update programs period and duty in nanoseconds. The duty cycle is zeroed
// first since the kernel rejects a duty above the current period.
func (p *pwmChip) update(period, duty uint64) error {
	writeAttr(p.base()+"/duty_cycle", "0")
	if err := writeAttr(p.base()+"/period", strconv.FormatUint(period, 10)); err != nil {
		return hal.AccessFailed(p.String()+" period", err)
	}
	if err := writeAttr(p.base()+"/duty_cycle", strconv.FormatUint(duty, 10)); err != nil {
		return hal.AccessFailed(p.String()+" duty_cycle", err)
	}
	return nil
}

func (p *pwmChip) enable(state bool) error {
	v := "0"
	if state {
		v = "1"
	}
	return hal.AccessFailed(p.String()+" enable", writeAttr(p.base()+"/enable", v))
}

func (p *pwmChip) String() string {
	return fmt.Sprintf("pwmchip%d/pwm%d", p.addr.chip, p.addr.channel)
}

// Pwm drives a sysfs PWM channel. It is also usable as a digital output, in
// which case the line is switched fully on or off.
type Pwm struct {
	hal.Base
	chip *pwmChip
}

func (s *Sysfs) Pwm(chip, channel int) *Pwm {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := pwmAddress{chip, channel}
	c, ok := s.pwms[addr]
	if !ok {
		c = &pwmChip{sys: s, addr: addr, timebase: hal.PwmNs800.Nanos(), period: 1, duty: 1, updateNeeded: true}
		s.pwms[addr] = c
	}
	return &Pwm{chip: c}
}

func (p *Pwm) Init(int) error {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	return p.chip.export()
}

func (p *Pwm) Enable(state bool) error {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	return p.chip.enable(state)
}

func (p *Pwm) Setup(period, duty uint16) error {
	c := p.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	c.period, c.duty = uint64(period), uint64(duty)
	if err := c.update(c.period*c.timebase, c.duty*c.timebase); err != nil {
		return err
	}
	c.updateNeeded = true
	return nil
}

func (p *Pwm) SetTimebase(tb hal.PwmTimebase) error {
	if !tb.Valid() {
		return hal.ErrInvalidParameter
	}
	c := p.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timebase = tb.Nanos()
	c.updateNeeded = true
	return nil
}

// Set uses the channel as a plain output: a fully on waveform that is
// enabled or disabled.
func (p *Pwm) Set(state bool) error {
	c := p.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateNeeded {
		if err := c.update(100, 100); err != nil {
			return err
		}
		c.updateNeeded = false
	}
	return c.enable(state)
}
