//go:build unix

package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"sysworxx-io/src/server/hal"
)

var (
	ErrLayoutMismatch = errors.New("shared memory layout mismatch")

	errClosed = fmt.Errorf("%w: shared memory closed", hal.ErrGeneric)
)

var order = binary.NativeEndian

// awaitSlice bounds how long an event wait keeps the mapping pinned, so
// close never waits longer than that for a blocked waiter.
const awaitSlice = 100 * time.Millisecond

type image struct {
	path   string
	layout Layout

	// guard pins the mapping for in-process users; close takes it
	// exclusively before unmapping.
	guard sync.RWMutex
	mem   []byte

	mu     procLock
	server procEvent
	client procEvent
}

// createImage replaces any file at path with a fresh zeroed image.
func createImage(path string, size int) (*image, error) {
	layout, err := NewLayout(size, Channels)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, hal.AccessFailed("remove "+path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, hal.AccessFailed("create "+path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return nil, hal.AccessFailed("truncate "+path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, hal.AccessFailed("mmap "+path, err)
	}

	im := newImage(path, mem, layout)
	order.PutUint32(mem[0:], Magic)
	order.PutUint32(mem[4:], Version)
	order.PutUint32(mem[8:], uint32(size))
	order.PutUint32(mem[12:], uint32(Channels))
	return im, nil
}

// openImage maps an existing image and checks its header.
func openImage(path string) (*image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, hal.AccessFailed("open "+path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, hal.AccessFailed("stat "+path, err)
	}
	size := int(st.Size())
	if size < headerSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrLayoutMismatch, path, size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, hal.AccessFailed("mmap "+path, err)
	}

	magic := order.Uint32(mem[0:])
	version := order.Uint32(mem[4:])
	hdrSize := int(order.Uint32(mem[8:]))
	channels := int(order.Uint32(mem[12:]))
	if magic != Magic || version != Version || hdrSize != size || channels != Channels {
		unix.Munmap(mem)
		return nil, fmt.Errorf("%w: magic %#x version %d size %d/%d channels %d",
			ErrLayoutMismatch, magic, version, hdrSize, size, channels)
	}
	layout, err := NewLayout(size, channels)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return newImage(path, mem, layout), nil
}

func newImage(path string, mem []byte, layout Layout) *image {
	word := func(off int) *uint32 { return (*uint32)(unsafe.Pointer(&mem[off])) }
	return &image{
		path:   path,
		mem:    mem,
		layout: layout,
		mu:     procLock{word(layout.lock)},
		server: procEvent{word(layout.serverEvent)},
		client: procEvent{word(layout.clientEvent)},
	}
}

func (im *image) close() error {
	im.guard.Lock()
	defer im.guard.Unlock()
	if im.mem == nil {
		return nil
	}
	err := unix.Munmap(im.mem)
	im.mem = nil
	return err
}

// pin read-locks the guard. The caller releases it with unpin unless an
// error is returned.
func (im *image) pin() error {
	im.guard.RLock()
	if im.mem == nil {
		im.guard.RUnlock()
		return errClosed
	}
	return nil
}

func (im *image) unpin() { im.guard.RUnlock() }

func (im *image) emit(ev procEvent) error {
	if err := im.pin(); err != nil {
		return err
	}
	defer im.unpin()
	return ev.set()
}

// await waits for ev like procEvent.wait, in slices of at most awaitSlice
// with the mapping pinned.
func (im *image) await(ev procEvent, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		step := awaitSlice
		switch {
		case timeout == 0:
			step = 0
		case timeout > 0:
			step = min(step, max(time.Until(deadline), 0))
		}
		if err := im.pin(); err != nil {
			return false, err
		}
		ok, err := ev.wait(step)
		im.unpin()
		if ok || err != nil || step == 0 {
			return ok, err
		}
	}
}

// locked runs fn on the slot of index in table with the image lock held.
func (im *image) locked(table, index int, fn func(slot []byte)) error {
	off, err := im.layout.slot(table, index)
	if err != nil {
		return err
	}
	if err := im.pin(); err != nil {
		return err
	}
	defer im.unpin()
	if err := im.mu.lock(); err != nil {
		return hal.AccessFailed("shm lock", err)
	}
	fn(im.mem[off : off+slotSize])
	if err := im.mu.unlock(); err != nil {
		return hal.AccessFailed("shm unlock", err)
	}
	return nil
}

func (im *image) analogValue(index int) (v int64, err error) {
	err = im.locked(im.layout.analogValues, index, func(b []byte) { v = int64(order.Uint64(b)) })
	return v, err
}

func (im *image) setAnalogValue(index int, v int64) error {
	return im.locked(im.layout.analogValues, index, func(b []byte) { order.PutUint64(b, uint64(v)) })
}

func (im *image) tempValue(index int) (v float64, err error) {
	err = im.locked(im.layout.tempValues, index, func(b []byte) { v = math.Float64frombits(order.Uint64(b)) })
	return v, err
}

func (im *image) setTempValue(index int, v float64) error {
	return im.locked(im.layout.tempValues, index, func(b []byte) { order.PutUint64(b, math.Float64bits(v)) })
}

// config reads the tag/value pair of a config slot and, if reset is set,
// stores Keep in the same critical section.
func (im *image) config(table, index int, reset bool) (tag, value uint32, err error) {
	err = im.locked(table, index, func(b []byte) {
		tag, value = order.Uint32(b), order.Uint32(b[4:])
		if reset {
			order.PutUint32(b, tagKeep)
			order.PutUint32(b[4:], 0)
		}
	})
	return tag, value, err
}

func (im *image) setConfig(table, index int, tag, value uint32) error {
	return im.locked(table, index, func(b []byte) {
		order.PutUint32(b, tag)
		order.PutUint32(b[4:], value)
	})
}
