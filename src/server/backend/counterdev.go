package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"sysworxx-io/src/server/hal"
)

// CounterDevice is a count of the generic counter subsystem
// (bus/counter/devices/counterN/countM). The peripheral counts both edges,
// so single edge triggers are rejected. In counter mode the direction is
// set in software and the direction pin is ignored.
type CounterDevice struct {
	hal.Base
	path  string
	input hal.DigitalInput

	mu      sync.Mutex
	mode    hal.CntMode
	dir     hal.CntDirection
	preload int32
}

func NewCounterDevice(path string, input hal.DigitalInput) *CounterDevice {
	return &CounterDevice{path: path, input: input}
}

func (c *CounterDevice) Init(index int) error {
	if !exists(c.path) {
		return hal.AccessFailed("counter", fmt.Errorf("%s: %w", c.path, os.ErrNotExist))
	}
	return c.input.Init(index)
}

func (c *CounterDevice) Shutdown() error { return c.input.Shutdown() }

func (c *CounterDevice) Enable(state bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	enable := filepath.Join(c.path, "enable")
	if err := writeAttr(enable, "0"); err != nil {
		return hal.AccessFailed("counter enable", err)
	}
	if !state {
		return nil
	}

	function := "increase"
	switch {
	case c.mode == hal.CntABEncoder:
		function = "quadrature x4"
	case c.dir == hal.CntDown:
		function = "decrease"
	}
	if err := writeAttr(filepath.Join(c.path, "function"), function); err != nil {
		return hal.AccessFailed("counter function", err)
	}
	return hal.AccessFailed("counter enable", writeAttr(enable, "1"))
}

func (c *CounterDevice) Setup(mode hal.CntMode, trigger hal.CntTrigger, dir hal.CntDirection) error {
	if !mode.Valid() || !trigger.Valid() || !dir.Valid() {
		return hal.ErrInvalidParameter
	}
	if trigger != hal.CntAnyEdge {
		return hal.ErrNotImplemented
	}
	c.mu.Lock()
	c.mode, c.dir = mode, dir
	c.mu.Unlock()
	return nil
}

func (c *CounterDevice) SetPreload(preload int32) error {
	c.mu.Lock()
	c.preload = preload
	c.mu.Unlock()
	return nil
}

func (c *CounterDevice) Get() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := readAttr(filepath.Join(c.path, "count"))
	if err != nil {
		return 0, hal.AccessFailed("counter count", err)
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, hal.AccessFailed("counter count", err)
	}
	return int32(v) + c.preload, nil
}
