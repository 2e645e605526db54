//go:build unix && !linux

package shm

import (
	"errors"
	"sync/atomic"
	"time"
)

const pollInterval = time.Millisecond

// futexWait polls the word where no futex syscall exists.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint32(addr) == val {
		if timeout >= 0 && !time.Now().Before(deadline) {
			return errTimeout
		}
		time.Sleep(pollInterval)
	}
	return nil
}

func futexWake(*uint32, int) error { return nil }

var errTimeout = errors.New("wait timed out")
