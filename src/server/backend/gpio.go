package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/gpioioctl"
	"periph.io/x/host/v3/sysfs"

	"sysworxx-io/src/server/hal"
)

// PinSource hands out GPIO lines and LEDs. Lines are addressed either by
// their legacy global number or by gpiochip label and offset.
type PinSource interface {
	Line(num int) (gpio.PinIO, error)
	ChipLine(chip string, offset int) (gpio.PinIO, error)
	LedLine(name string) (gpio.PinOut, error)
}

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// hostPins drives lines through the gpio character devices and LEDs
// through /sys/class/leds, both via periph.
type hostPins struct {
	sys *Sysfs
}

func (h hostPins) Line(num int) (gpio.PinIO, error) {
	chip, offset, err := h.sys.chipOf(num)
	if err != nil {
		return nil, err
	}
	return h.ChipLine(chip, offset)
}

func (h hostPins) ChipLine(chip string, offset int) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, hal.AccessFailed("gpio host", err)
	}
	for _, c := range gpioioctl.Chips {
		if c.Label() != chip {
			continue
		}
		if line := c.ByNumber(offset); line != nil {
			return line, nil
		}
		return nil, hal.AccessFailed("gpio lookup", fmt.Errorf("%s has no line %d", chip, offset))
	}
	return nil, hal.AccessFailed("gpio lookup", fmt.Errorf("no gpiochip labelled %q", chip))
}

func (h hostPins) LedLine(name string) (gpio.PinOut, error) {
	if err := initHost(); err != nil {
		return nil, hal.AccessFailed("led host", err)
	}
	led, err := sysfs.LEDByName(name)
	if err != nil {
		return nil, hal.AccessFailed("led "+name, err)
	}
	return led, nil
}

// chipOf maps a legacy global line number onto the gpiochip that covers
// it, using the base and ngpio attributes of the gpio class.
func (s *Sysfs) chipOf(num int) (string, int, error) {
	matches, _ := filepath.Glob(s.path("class", "gpio", "gpiochip*"))
	for _, dir := range matches {
		base, err := readInt(filepath.Join(dir, "base"))
		if err != nil {
			continue
		}
		n, err := readInt(filepath.Join(dir, "ngpio"))
		if err != nil || num < base || num >= base+n {
			continue
		}
		label, err := readAttr(filepath.Join(dir, "label"))
		if err != nil {
			return "", 0, hal.AccessFailed(filepath.Base(dir)+" label", err)
		}
		return label, num - base, nil
	}
	return "", 0, hal.AccessFailed("gpio lookup", fmt.Errorf("no gpiochip covers gpio%d", num))
}

func readInt(path string) (int, error) {
	v, err := readAttr(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// gpioLine is one requested line. The kernel keeps no polarity for lines
// requested this way, so active low lines are inverted here.
type gpioLine struct {
	sys       *Sysfs
	num       int
	chip      string
	activeLow bool

	mu  sync.Mutex
	pin gpio.PinIO
}

func (g *gpioLine) String() string {
	if g.chip != "" {
		return fmt.Sprintf("%s line %d", g.chip, g.num)
	}
	return "gpio" + strconv.Itoa(g.num)
}

func (g *gpioLine) request() (gpio.PinIO, error) {
	if g.chip != "" {
		return g.sys.pins.ChipLine(g.chip, g.num)
	}
	return g.sys.pins.Line(g.num)
}

// setup requests the line and configures it. Outputs are driven inactive
// in the same step.
func (g *gpioLine) setup(output bool) error {
	p, err := g.request()
	if err != nil {
		return hal.AccessFailed("request "+g.String(), err)
	}
	if output {
		err = p.Out(gpio.Level(g.activeLow))
	} else {
		err = p.In(gpio.PullNoChange, gpio.NoEdge)
	}
	if err != nil {
		return hal.AccessFailed("setup "+g.String(), err)
	}
	g.mu.Lock()
	g.pin = p
	g.mu.Unlock()
	return nil
}

// release drops the line. Character device lines are closed; the line
// keeps its last level.
func (g *gpioLine) release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.pin.(interface{ Close() }); ok {
		c.Close()
	}
	g.pin = nil
	return nil
}

func (g *gpioLine) set(state bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pin == nil {
		return hal.AccessFailed(g.String(), os.ErrClosed)
	}
	return hal.AccessFailed("write "+g.String(), g.pin.Out(gpio.Level(state != g.activeLow)))
}

func (g *gpioLine) get() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pin == nil {
		return false, hal.AccessFailed(g.String(), os.ErrClosed)
	}
	return bool(g.pin.Read()) != g.activeLow, nil
}

// Do is a GPIO output.
type Do struct {
	hal.Base
	line gpioLine
}

func (s *Sysfs) Do(num int) *Do {
	return &Do{line: gpioLine{sys: s, num: num}}
}

// DoActiveLowInitHigh is an inverted output that starts inactive, i.e.
// with the line driven high.
func (s *Sysfs) DoActiveLowInitHigh(num int) *Do {
	return &Do{line: gpioLine{sys: s, num: num, activeLow: true}}
}

// ChipDo is an output addressed by gpiochip label and line offset.
func (s *Sysfs) ChipDo(chip string, offset int) *Do {
	return &Do{line: gpioLine{sys: s, num: offset, chip: chip}}
}

func (d *Do) Init(int) error { return d.line.setup(true) }

// Shutdown releases the line without changing its level.
func (d *Do) Shutdown() error { return d.line.release() }

func (d *Do) Set(state bool) error { return d.line.set(state) }

// Di is a polled GPIO input.
type Di struct {
	hal.Base
	line gpioLine
}

func (s *Sysfs) Di(num int) *Di {
	return &Di{line: gpioLine{sys: s, num: num}}
}

func (s *Sysfs) DiActiveLow(num int) *Di {
	return &Di{line: gpioLine{sys: s, num: num, activeLow: true}}
}

func (s *Sysfs) ChipDi(chip string, offset int, activeLow bool) *Di {
	return &Di{line: gpioLine{sys: s, num: offset, chip: chip, activeLow: activeLow}}
}

func (d *Di) Init(int) error     { return d.line.setup(false) }
func (d *Di) Shutdown() error    { return d.line.release() }
func (d *Di) Get() (bool, error) { return d.line.get() }
