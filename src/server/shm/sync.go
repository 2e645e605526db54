//go:build unix

package shm

import (
	"errors"
	"sync/atomic"
	"time"
)

// Infinite makes an event wait block until the event is set.
const Infinite time.Duration = -1

const (
	unlocked  uint32 = 0
	locked    uint32 = 1
	contended uint32 = 2
)

// procLock is a cross-process mutex on a word of the mapping.
type procLock struct {
	word *uint32
}

func (l procLock) lock() error {
	if atomic.CompareAndSwapUint32(l.word, unlocked, locked) {
		return nil
	}
	for atomic.SwapUint32(l.word, contended) != unlocked {
		if err := futexWait(l.word, contended, Infinite); err != nil {
			return err
		}
	}
	return nil
}

func (l procLock) unlock() error {
	if atomic.SwapUint32(l.word, unlocked) == contended {
		return futexWake(l.word, 1)
	}
	return nil
}

// procEvent is an auto-reset binary event: a successful wait consumes it.
type procEvent struct {
	word *uint32
}

func (e procEvent) set() error {
	atomic.StoreUint32(e.word, 1)
	return futexWake(e.word, 0)
}

func (e procEvent) clear() {
	atomic.StoreUint32(e.word, 0)
}

// wait reports whether the event was set within timeout. Zero only checks,
// Infinite blocks. Running out of time is not an error.
func (e procEvent) wait(timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if atomic.CompareAndSwapUint32(e.word, 1, 0) {
			return true, nil
		}
		if timeout == 0 {
			return false, nil
		}
		remaining := Infinite
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
		}
		if err := futexWait(e.word, 0, remaining); err != nil && !errors.Is(err, errTimeout) {
			return false, err
		}
	}
}
