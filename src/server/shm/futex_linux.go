//go:build linux

package shm

import (
	"errors"
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (non-private) futex operations: the words live in a MAP_SHARED
// mapping and are waited on from several processes.
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexWait sleeps while *addr == val. A negative timeout waits forever.
// Spurious wakeups and value mismatches return nil; callers re-check.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWaitOp, uintptr(val),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	switch {
	case errno == 0, errno == unix.EAGAIN, errno == unix.EINTR:
		return nil
	case errno == unix.ETIMEDOUT:
		return errTimeout
	}
	return errno
}

func futexWake(addr *uint32, n int) error {
	if n <= 0 || n > math.MaxInt32 {
		n = math.MaxInt32
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWakeOp, uintptr(n), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

var errTimeout = errors.New("futex wait timed out")
