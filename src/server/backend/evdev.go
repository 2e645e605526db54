package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/util"
)

// Key codes from linux/input-event-codes.h used by the device definitions.
const (
	Key1   uint16 = 2
	KeyF1  uint16 = 59
	KeyF11 uint16 = 87
	KeyF12 uint16 = 88
	KeyF13 uint16 = 183
)

// KeyF returns the code of function key n (1..24).
func KeyF(n int) uint16 {
	switch {
	case n <= 10:
		return KeyF1 + uint16(n-1)
	case n == 11:
		return KeyF11
	case n == 12:
		return KeyF12
	}
	return KeyF13 + uint16(n-13)
}

const (
	evKey  = 0x01
	keyMax = 0x2ff
)

// input_event is a struct timeval followed by type, code and value.
var eventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

func eviocgkey(size int) uintptr {
	const iocRead = 2
	return uintptr(uint32(iocRead)<<30 | uint32(size)<<16 | uint32('E')<<8 | 0x18)
}

// EvdevCollector reads key events of one input device in a background
// goroutine and distributes them to the inputs registered per key code.
type EvdevCollector struct {
	sys     *Sysfs
	devRoot string
	name    string

	mu     sync.Mutex
	file   *os.File
	keys   []byte
	inputs map[uint16][]*EvdevDi

	cancel context.CancelFunc
	done   chan struct{}
}

// Evdev returns a collector for the input device called name; device nodes
// are looked up below devRoot (normally /dev).
func (s *Sysfs) Evdev(devRoot, name string) *EvdevCollector {
	return &EvdevCollector{sys: s, devRoot: devRoot, name: name, inputs: make(map[uint16][]*EvdevDi)}
}

func (c *EvdevCollector) Di(code uint16) *EvdevDi {
	return &EvdevDi{collector: c, code: code}
}

func (c *EvdevCollector) DiActiveLow(code uint16) *EvdevDi {
	return &EvdevDi{collector: c, code: code, activeLow: true}
}

// devicePath finds the event node whose sysfs name matches.
func (c *EvdevCollector) devicePath() (string, error) {
	matches, _ := filepath.Glob(c.sys.path("class", "input", "event*"))
	for _, dir := range matches {
		if name, err := readAttr(filepath.Join(dir, "device", "name")); err == nil && name == c.name {
			return filepath.Join(c.devRoot, "input", filepath.Base(dir)), nil
		}
	}
	return "", fmt.Errorf("no input device named %q", c.name)
}

// openLocked opens the device and snapshots the key state. The snapshot is
// best effort: nodes that do not support EVIOCGKEY start with all keys up.
func (c *EvdevCollector) openLocked() error {
	if c.file != nil {
		return nil
	}
	path, err := c.devicePath()
	if err != nil {
		return hal.AccessFailed("evdev", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return hal.AccessFailed("evdev", err)
	}
	keys := make([]byte, keyMax/8+1)
	if err := readKeyState(f, keys); err != nil {
		util.Debugf("evdev %s: key state unavailable: %v", c.name, err)
		clear(keys)
	}
	c.file, c.keys = f, keys
	return nil
}

// readKeyState issues EVIOCGKEY through SyscallConn so the descriptor
// stays in non-blocking mode and Close can interrupt the reader.
func readKeyState(f *os.File, keys []byte) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	err = rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, eviocgkey(len(keys)), uintptr(unsafe.Pointer(&keys[0])))
	})
	if err != nil {
		return err
	}
	if errno != 0 {
		return errno
	}
	return nil
}

func (c *EvdevCollector) attach(di *EvdevDi) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(); err != nil {
		return err
	}
	pressed := c.keys[di.code/8]&(1<<(di.code%8)) != 0
	di.mu.Lock()
	di.value = pressed != di.activeLow
	di.mu.Unlock()

	for _, existing := range c.inputs[di.code] {
		if existing == di {
			return nil
		}
	}
	c.inputs[di.code] = append(c.inputs[di.code], di)
	return nil
}

func (c *EvdevCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || len(c.inputs) == 0 {
		return nil
	}
	if err := c.openLocked(); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.file, c.done)
	return nil
}

// Stop closes the device, which unblocks the reader.
func (c *EvdevCollector) Stop() {
	c.mu.Lock()
	done := c.done
	if done == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
	c.done = nil
	c.mu.Unlock()
	<-done
}

func (c *EvdevCollector) run(ctx context.Context, f *os.File, done chan struct{}) {
	defer close(done)
	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			if ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
				log.Printf("evdev %s: %v", c.name, err)
			}
			return
		}
		typ := binary.NativeEndian.Uint16(buf[eventSize-8:])
		code := binary.NativeEndian.Uint16(buf[eventSize-6:])
		value := int32(binary.NativeEndian.Uint32(buf[eventSize-4:]))
		if typ != evKey || value == 2 {
			continue
		}
		c.dispatch(code, value != 0)
	}
}

func (c *EvdevCollector) dispatch(code uint16, pressed bool) {
	c.mu.Lock()
	inputs := append([]*EvdevDi(nil), c.inputs[code]...)
	c.mu.Unlock()

	for _, di := range inputs {
		if cb, index, state, ok := di.update(pressed); ok {
			cb(index, state)
		}
	}
}

// EvdevDi is a key of an evdev device presented as a digital input.
type EvdevDi struct {
	hal.Base
	collector *EvdevCollector
	code      uint16
	activeLow bool

	mu       sync.Mutex
	index    int
	value    bool
	callback hal.InputCallback
	trigger  hal.InputTrigger
}

func (d *EvdevDi) Init(index int) error {
	d.mu.Lock()
	d.index = index
	d.mu.Unlock()
	return d.collector.attach(d)
}

func (d *EvdevDi) Get() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, nil
}

func (d *EvdevDi) RegisterCallback(cb hal.InputCallback, trigger hal.InputTrigger) error {
	if cb == nil || !trigger.Valid() {
		return hal.ErrInvalidParameter
	}
	d.mu.Lock()
	d.callback, d.trigger = cb, trigger
	d.mu.Unlock()
	return nil
}

func (d *EvdevDi) UnregisterCallback() error {
	d.mu.Lock()
	d.callback, d.trigger = nil, hal.TriggerNone
	d.mu.Unlock()
	return nil
}

// update stores a new key state and returns the callback to invoke, if the
// state changed and passes the trigger. The callback runs without d.mu.
func (d *EvdevDi) update(pressed bool) (hal.InputCallback, int, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := pressed != d.activeLow
	changed := state != d.value
	d.value = state
	if !changed || d.callback == nil || !d.trigger.Fires(state) {
		return nil, 0, false, false
	}
	return d.callback, d.index, state, true
}
