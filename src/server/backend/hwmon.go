package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"sysworxx-io/src/server/acquire"
	"sysworxx-io/src/server/hal"
)

// hwmonSource reads temp1_input of the hwmon device whose name attribute
// matches.
type hwmonSource struct {
	sys  *Sysfs
	name string

	mu    sync.Mutex
	input string
}

func (h *hwmonSource) Open() error {
	base := h.sys.path("class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return hal.AccessFailed("hwmon", err)
	}
	for _, e := range entries {
		dir := filepath.Join(base, e.Name())
		if name, err := readAttr(filepath.Join(dir, "name")); err == nil && name == h.name {
			h.mu.Lock()
			h.input = filepath.Join(dir, "temp1_input")
			h.mu.Unlock()
			return nil
		}
	}
	return hal.AccessFailed("hwmon", fmt.Errorf("no sensor named %q", h.name))
}

// Read returns degrees Celsius; the kernel reports millidegrees.
func (h *hwmonSource) Read(int) (float64, error) {
	h.mu.Lock()
	input := h.input
	h.mu.Unlock()
	s, err := readAttr(input)
	if err != nil {
		return 0, hal.AccessFailed("hwmon "+h.name, err)
	}
	milli, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, hal.AccessFailed("hwmon "+h.name, err)
	}
	return float64(milli) / 1000, nil
}

// HwmonTemp is a board temperature sensor polled in the background.
type HwmonTemp struct {
	hal.Base
	sampler *acquire.Sampler[float64]
}

// Hwmon returns the sensor and the sampler service that feeds it.
func (s *Sysfs) Hwmon(name string, period time.Duration) (*HwmonTemp, hal.Service) {
	sampler := acquire.NewSampler[float64]("hwmon "+name, &hwmonSource{sys: s, name: name}, period, 0)
	return &HwmonTemp{sampler: sampler}, sampler
}

func (h *HwmonTemp) Init(int) error {
	h.sampler.Register(0)
	return nil
}

func (h *HwmonTemp) Get() (float64, error) {
	v, _ := h.sampler.Get(0)
	return v, nil
}
