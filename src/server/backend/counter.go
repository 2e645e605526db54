package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"sysworxx-io/src/server/hal"
)

// Counter is the imx flextimer counter. The edge input is the pin the timer
// counts; in AnyEdge mode the hardware counts falling edges only and the
// current pin level restores the missing half step.
type Counter struct {
	hal.Base
	path      string
	input     hal.DigitalInput
	direction hal.DigitalInput

	mu      sync.Mutex
	mode    hal.CntMode
	trigger hal.CntTrigger
	dir     hal.CntDirection
	preload int32
}

// NewCounter drives the timer at path. direction may be nil.
func NewCounter(path string, input, direction hal.DigitalInput) *Counter {
	return &Counter{path: path, input: input, direction: direction}
}

func (c *Counter) Init(index int) error {
	if !exists(c.path) {
		return hal.AccessFailed("counter", fmt.Errorf("%s: %w", c.path, os.ErrNotExist))
	}
	if err := c.input.Init(index); err != nil {
		return err
	}
	if c.direction != nil {
		return c.direction.Init(index)
	}
	return nil
}

func (c *Counter) Shutdown() error {
	if err := c.input.Shutdown(); err != nil {
		return err
	}
	if c.direction != nil {
		return c.direction.Shutdown()
	}
	return nil
}

func (c *Counter) attr(name string) string { return filepath.Join(c.path, name) }

func (c *Counter) Enable(state bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeAttr(c.attr("enable"), "0"); err != nil {
		return hal.AccessFailed("counter enable", err)
	}
	if !state {
		return nil
	}

	mode := "cnt"
	if c.mode == hal.CntABEncoder {
		mode = "quad"
	}
	trigger := "fall"
	if c.trigger == hal.CntRisingEdge {
		trigger = "rise"
	}
	direction := "0"
	if c.dir == hal.CntDown {
		direction = "1"
	}
	for _, kv := range [][2]string{{"mode", mode}, {"trigger", trigger}, {"direction", direction}, {"enable", "1"}} {
		if err := writeAttr(c.attr(kv[0]), kv[1]); err != nil {
			return hal.AccessFailed("counter "+kv[0], err)
		}
	}
	return nil
}

// Setup takes effect on the next Enable(true).
func (c *Counter) Setup(mode hal.CntMode, trigger hal.CntTrigger, dir hal.CntDirection) error {
	if !mode.Valid() || !trigger.Valid() || !dir.Valid() {
		return hal.ErrInvalidParameter
	}
	c.mu.Lock()
	c.mode, c.trigger, c.dir = mode, trigger, dir
	c.mu.Unlock()
	return nil
}

func (c *Counter) SetPreload(preload int32) error {
	c.mu.Lock()
	c.preload = preload
	c.mu.Unlock()
	return nil
}

func (c *Counter) Get() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := readAttr(c.attr("value"))
	if err != nil {
		return 0, hal.AccessFailed("counter value", err)
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, hal.AccessFailed("counter value", err)
	}
	value := int32(v)

	if c.trigger == hal.CntAnyEdge {
		value *= 2
		level, _ := c.input.Get()
		reversed := false
		if c.direction != nil {
			reversed, _ = c.direction.Get()
		}
		inc := int32(1)
		if c.dir == hal.CntDown {
			inc = -1
		}
		if level {
			if reversed {
				value -= inc
			} else {
				value += inc
			}
		}
	}
	return value + c.preload, nil
}
