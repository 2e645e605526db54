// Package backend contains the concrete channel drivers: GPIO lines and
// LEDs through periph, sysfs PWM, IIO converters, hwmon sensors, the imx flextimer counter, evdev
// input collection, the watchdog device and null placeholders.
package backend

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultRoot is where sysfs is mounted on the target.
const DefaultRoot = "/sys"

// Sysfs builds channels below one sysfs root. Tests point it at a temp dir
// and swap the pin source.
type Sysfs struct {
	Root string

	pins PinSource
	mu   sync.Mutex
	pwms map[pwmAddress]*pwmChip
}

func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultRoot
	}
	s := &Sysfs{Root: root, pwms: make(map[pwmAddress]*pwmChip)}
	s.pins = hostPins{sys: s}
	return s
}

// WithPins replaces where GPIO lines and LEDs come from.
func (s *Sysfs) WithPins(pins PinSource) *Sysfs {
	if pins != nil {
		s.pins = pins
	}
	return s
}

func (s *Sysfs) path(elem ...string) string {
	return filepath.Join(append([]string{s.Root}, elem...)...)
}

func writeAttr(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}

func readAttr(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
