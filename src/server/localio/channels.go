package localio

import (
	"fmt"
	"math"
	"sync"

	"sysworxx-io/src/server/hal"
)

func (b *Bus) checkChannel(slave byte, index int, count func(ModelSpec) int, what string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cardLocked(slave)
	if c == nil {
		return hal.AccessFailed(what, fmt.Errorf("no card at slave %d on %s", slave, b.port))
	}
	if index < 0 || index >= count(c.spec()) {
		return fmt.Errorf("%w: slave %d has no %s %d", hal.ErrInvalidChannel, slave, what, index)
	}
	return nil
}

// CardDI is a digital input of a remote card. Its value is the one seen by
// the last cycle; callbacks fire from the cycle goroutine on changes.
type CardDI struct {
	hal.Base
	bus   *Bus
	slave byte
	index int

	mu       sync.Mutex
	devIndex int
	callback hal.InputCallback
	trigger  hal.InputTrigger
}

func (b *Bus) DI(slave byte, index int) *CardDI {
	return &CardDI{bus: b, slave: slave, index: index}
}

func (d *CardDI) Init(devIndex int) error {
	if err := d.bus.checkChannel(d.slave, d.index, func(s ModelSpec) int { return s.DI }, "DI"); err != nil {
		return err
	}
	d.mu.Lock()
	d.devIndex = devIndex
	d.mu.Unlock()

	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	key := inputKey{d.slave, d.index}
	for _, existing := range b.inputs[key] {
		if existing == d {
			return nil
		}
	}
	b.inputs[key] = append(b.inputs[key], d)
	return nil
}

func (d *CardDI) Shutdown() error {
	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	key := inputKey{d.slave, d.index}
	list := b.inputs[key]
	for i, existing := range list {
		if existing == d {
			b.inputs[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (d *CardDI) Get() (bool, error) {
	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cardLocked(d.slave)
	if c == nil || d.index >= len(c.Last.DI) {
		return false, hal.AccessFailed("DI", fmt.Errorf("slave %d not read yet", d.slave))
	}
	return c.Last.DI[d.index], nil
}

func (d *CardDI) RegisterCallback(cb hal.InputCallback, trigger hal.InputTrigger) error {
	if cb == nil || !trigger.Valid() {
		return hal.ErrInvalidParameter
	}
	d.mu.Lock()
	d.callback, d.trigger = cb, trigger
	d.mu.Unlock()
	return nil
}

func (d *CardDI) UnregisterCallback() error {
	d.mu.Lock()
	d.callback, d.trigger = nil, hal.TriggerNone
	d.mu.Unlock()
	return nil
}

func (d *CardDI) fire(state bool) {
	d.mu.Lock()
	cb, trigger, index := d.callback, d.trigger, d.devIndex
	d.mu.Unlock()
	if cb != nil && trigger.Fires(state) {
		cb(index, state)
	}
}

// CardDO is a relay or transistor output of a remote card.
type CardDO struct {
	hal.Base
	bus   *Bus
	slave byte
	index int
}

func (b *Bus) DO(slave byte, index int) *CardDO {
	return &CardDO{bus: b, slave: slave, index: index}
}

func (d *CardDO) Init(int) error {
	return d.bus.checkChannel(d.slave, d.index, func(s ModelSpec) int { return s.DO }, "DO")
}

func (d *CardDO) Set(state bool) error { return d.bus.QueueDO(d.slave, d.index, state) }

// CardAI reports the card's float reading in thousandths (mV or uA).
type CardAI struct {
	hal.Base
	bus   *Bus
	slave byte
	index int
}

func (b *Bus) AI(slave byte, index int) *CardAI {
	return &CardAI{bus: b, slave: slave, index: index}
}

func (a *CardAI) Init(int) error {
	return a.bus.checkChannel(a.slave, a.index, func(s ModelSpec) int { return s.AI }, "AI")
}

func (a *CardAI) Get() (int64, error) {
	b := a.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cardLocked(a.slave)
	if c == nil || a.index >= len(c.Last.AI) {
		return 0, hal.AccessFailed("AI", fmt.Errorf("slave %d not read yet", a.slave))
	}
	return int64(math.Round(float64(c.Last.AI[a.index]) * 1000)), nil
}

// CardAO takes raw card units. A non-empty mode is programmed at Init.
type CardAO struct {
	hal.Base
	bus   *Bus
	slave byte
	index int
	mode  string
}

func (b *Bus) AO(slave byte, index int, mode string) *CardAO {
	return &CardAO{bus: b, slave: slave, index: index, mode: mode}
}

func (a *CardAO) Init(int) error {
	if err := a.bus.checkChannel(a.slave, a.index, func(s ModelSpec) int { return s.AO }, "AO"); err != nil {
		return err
	}
	if a.mode == "" {
		return nil
	}
	return a.bus.QueueAOType(a.slave, a.index, a.mode)
}

func (a *CardAO) Set(value int64) error {
	return a.bus.QueueAO(a.slave, a.index, float32(value))
}
