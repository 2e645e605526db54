package backend

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"sysworxx-io/src/server/hal"
)

const wdiocSetTimeout = 0xc0045706

// DevWatchdog drives a Linux watchdog device. In monitor mode the kernel
// timer is disarmed and Service only checks how long ago it was last
// called; otherwise each Service feeds the device.
type DevWatchdog struct {
	path     string
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	file *os.File
	last time.Time
}

func NewDevWatchdog(path string, interval time.Duration) *DevWatchdog {
	return &DevWatchdog{path: path, interval: interval, now: time.Now}
}

func (w *DevWatchdog) Enable(monitor bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeLocked()
	f, err := os.OpenFile(w.path, os.O_WRONLY, 0)
	if err != nil {
		return hal.AccessFailed("watchdog", err)
	}
	w.last = w.now()
	if monitor {
		_, err := f.Write([]byte("V"))
		f.Close()
		return hal.AccessFailed("watchdog", err)
	}
	if err := unix.IoctlSetPointerInt(int(f.Fd()), wdiocSetTimeout, int(w.interval/time.Second)); err != nil {
		// regular files in tests and some drivers do not take a timeout
		if !errors.Is(err, unix.ENOTTY) {
			f.Close()
			return hal.AccessFailed("watchdog timeout", err)
		}
	}
	w.file = f
	return nil
}

func (w *DevWatchdog) Service() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if _, err := w.file.Write([]byte("a")); err != nil {
			return hal.AccessFailed("watchdog", err)
		}
	}
	now := w.now()
	elapsed := now.Sub(w.last)
	w.last = now
	if elapsed > w.interval {
		return hal.ErrWatchdogTimeout
	}
	return nil
}

// closeLocked disarms the device with the magic close character.
func (w *DevWatchdog) closeLocked() {
	if w.file == nil {
		return
	}
	w.file.Write([]byte("V"))
	w.file.Close()
	w.file = nil
}

func (w *DevWatchdog) Start(context.Context) error { return nil }

func (w *DevWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}
