// Package shm implements the shared-memory image the I/O daemon publishes
// sampled values through and accepts configuration changes from.
//
// The image is a single mapped file:
//
//	0   magic      uint32
//	4   version    uint32
//	8   size       uint32
//	12  channels   uint32
//	16  lock       uint32   futex mutex guarding every table access
//	20  server ev  uint32   "values updated", set by the daemon
//	24  client ev  uint32   "config changed", set by clients
//	28  reserved
//	32  analog values       int64   x channels
//	..  temperature values  float64 x channels
//	..  analog configs      {tag uint32, value uint32} x channels
//	..  temperature configs {tag uint32, value uint32} x channels
package shm

import (
	"fmt"

	"sysworxx-io/src/server/hal"
)

const (
	Magic    uint32 = 0x494f4d50
	Version  uint32 = 1
	Channels        = 32

	DefaultSize = 4096
	DefaultPath = "/dev/shm/iomapping"

	headerSize = 32
	slotSize   = 8
)

// Layout holds the byte offsets of every field. Server and clients derive it
// from the same constants; Open checks the header written by Create.
type Layout struct {
	Size     int
	Channels int

	lock          int
	serverEvent   int
	clientEvent   int
	analogValues  int
	tempValues    int
	analogConfigs int
	tempConfigs   int
}

func NewLayout(size, channels int) (Layout, error) {
	l := Layout{
		Size:        size,
		Channels:    channels,
		lock:        16,
		serverEvent: 20,
		clientEvent: 24,
	}
	table := channels * slotSize
	l.analogValues = headerSize
	l.tempValues = l.analogValues + table
	l.analogConfigs = l.tempValues + table
	l.tempConfigs = l.analogConfigs + table

	if required := l.Required(); size < required {
		return Layout{}, fmt.Errorf("%w: image size %d below required %d", hal.ErrInvalidParameter, size, required)
	}
	return l, nil
}

// Required is the minimum image size for the layout's channel count.
func (l Layout) Required() int {
	return l.tempConfigs + l.Channels*slotSize
}

func (l Layout) slot(table, index int) (int, error) {
	if index < 0 || index >= l.Channels {
		return 0, fmt.Errorf("%w: shared memory index %d", hal.ErrInvalidChannel, index)
	}
	return table + index*slotSize, nil
}
