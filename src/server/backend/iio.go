package backend

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"sysworxx-io/src/server/acquire"
	"sysworxx-io/src/server/hal"
)

// IioDevice is an industrial-I/O converter exposed below
// bus/iio/devices/<name>. Channels are the in_ or out_ attribute files with the given
// suffix ("raw" for converters, "input" for processed values), ordered by
// their channel id in natural order.
type IioDevice struct {
	sys    *Sysfs
	name   string
	spi    *[2]int
	suffix string

	attrs     [][2]string
	chanAttrs []chanAttr

	mu    sync.Mutex
	dir   string
	files []string
}

// IioByName resolves the device by its directory name, e.g. "iio:device1".
func (s *Sysfs) IioByName(name, suffix string) *IioDevice {
	return &IioDevice{sys: s, name: name, suffix: suffix}
}

// IioBySpi resolves the device hanging off spi<bus>.<chipSelect> when the
// sampler starts.
func (s *Sysfs) IioBySpi(bus, chipSelect int, suffix string) *IioDevice {
	return &IioDevice{sys: s, spi: &[2]int{bus, chipSelect}, suffix: suffix}
}

func (d *IioDevice) String() string {
	if d.spi != nil {
		return fmt.Sprintf("iio@spi%d.%d", d.spi[0], d.spi[1])
	}
	return d.name
}

type chanAttr struct {
	index       int
	name, value string
}

// WithChannelAttr queues a channel attribute, e.g. the scale of a
// differential input, written next to channel index on open.
func (d *IioDevice) WithChannelAttr(index int, name, value string) *IioDevice {
	d.chanAttrs = append(d.chanAttrs, chanAttr{index, name, value})
	return d
}

// WithAttr queues a device attribute, such as sampling_frequency, to be
// written whenever the device is opened.
func (d *IioDevice) WithAttr(name, value string) *IioDevice {
	d.attrs = append(d.attrs, [2]string{name, value})
	return d
}

// Open locates the device, writes the queued attributes and lists its
// channel files.
func (d *IioDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := d.name
	if d.spi != nil {
		n, err := d.lookupSpi()
		if err != nil {
			return err
		}
		name = n
	}
	dir := d.sys.path("bus", "iio", "devices", name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return hal.AccessFailed("iio "+name, err)
	}

	var files []string
	for _, e := range entries {
		n := e.Name()
		if (strings.HasPrefix(n, "in_") || strings.HasPrefix(n, "out_")) && strings.HasSuffix(n, "_"+d.suffix) {
			files = append(files, n)
		}
	}
	slices.SortFunc(files, naturalCompare)
	for _, attr := range d.attrs {
		if err := writeAttr(filepath.Join(dir, attr[0]), attr[1]); err != nil {
			return hal.AccessFailed(name+" "+attr[0], err)
		}
	}
	for _, attr := range d.chanAttrs {
		if attr.index < 0 || attr.index >= len(files) {
			return fmt.Errorf("%w: %s has no channel %d", hal.ErrInvalidChannel, name, attr.index)
		}
		base := strings.TrimSuffix(files[attr.index], "_"+d.suffix)
		if err := writeAttr(filepath.Join(dir, base+"_"+attr.name), attr.value); err != nil {
			return hal.AccessFailed(name+" "+base+" "+attr.name, err)
		}
	}
	d.dir, d.files = dir, files
	return nil
}

func (d *IioDevice) lookupSpi() (string, error) {
	spiDir := d.sys.path("bus", "spi", "devices", fmt.Sprintf("spi%d.%d", d.spi[0], d.spi[1]))
	entries, err := os.ReadDir(spiDir)
	if err != nil {
		return "", hal.AccessFailed("spi lookup", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "iio:device") {
			return e.Name(), nil
		}
	}
	return "", hal.AccessFailed("spi lookup", fmt.Errorf("no iio device below %s", spiDir))
}

func (d *IioDevice) channelPath(index int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.files) {
		return "", fmt.Errorf("%w: %s has no channel %d", hal.ErrInvalidChannel, d, index)
	}
	return filepath.Join(d.dir, d.files[index]), nil
}

// WriteAttr sets a device attribute such as sampling_frequency.
func (d *IioDevice) WriteAttr(name, value string) error {
	d.mu.Lock()
	dir := d.dir
	d.mu.Unlock()
	if dir == "" {
		if err := d.Open(); err != nil {
			return err
		}
		dir = d.dir
	}
	return hal.AccessFailed(d.String()+" "+name, writeAttr(filepath.Join(dir, name), value))
}

// IioInts reads integer channel values.
type IioInts struct{ *IioDevice }

func (d IioInts) Read(index int) (int64, error) {
	path, err := d.channelPath(index)
	if err != nil {
		return 0, err
	}
	s, err := readAttr(path)
	if err != nil {
		return 0, hal.AccessFailed("iio read", err)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, hal.AccessFailed("iio read", err)
	}
	return v, nil
}

func (d IioInts) Write(index int, v int64) error {
	path, err := d.channelPath(index)
	if err != nil {
		return err
	}
	return hal.AccessFailed("iio write", writeAttr(path, strconv.FormatInt(v, 10)))
}

// IioFloats reads processed floating point channel values.
type IioFloats struct{ *IioDevice }

func (d IioFloats) Read(index int) (float64, error) {
	path, err := d.channelPath(index)
	if err != nil {
		return 0, err
	}
	s, err := readAttr(path)
	if err != nil {
		return 0, hal.AccessFailed("iio read", err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, hal.AccessFailed("iio read", err)
	}
	return v, nil
}

// NewIioSampler polls the raw channels of dev every period.
func NewIioSampler(dev *IioDevice, period time.Duration) *acquire.Sampler[int64] {
	return acquire.NewSampler[int64](dev.String(), IioInts{dev}, period, 0)
}

// NewIioTempSampler polls processed temperature channels of dev.
func NewIioTempSampler(dev *IioDevice, period time.Duration) *acquire.Sampler[float64] {
	return acquire.NewSampler[float64](dev.String(), IioFloats{dev}, period, 0)
}

// NewIioWriter flushes raw values to the channels of dev.
func NewIioWriter(dev *IioDevice) *acquire.Writer[int64] {
	return acquire.NewWriter[int64](dev.String(), IioInts{dev})
}

// IioAi is an analog input served from a sampler. Before the first sweep
// it reads 0.
type IioAi struct {
	hal.Base
	sampler *acquire.Sampler[int64]
	index   int
}

func NewIioAi(sampler *acquire.Sampler[int64], index int) *IioAi {
	return &IioAi{sampler: sampler, index: index}
}

func (a *IioAi) Init(int) error {
	a.sampler.Register(a.index)
	return nil
}

func (a *IioAi) Get() (int64, error) {
	v, _ := a.sampler.Get(a.index)
	return v, nil
}

// SetAnalogMode is accepted; switching is done by an AiSwitch around it.
func (a *IioAi) SetAnalogMode(mode hal.AnalogMode) error {
	if !mode.Valid() {
		return hal.ErrInvalidParameter
	}
	return nil
}

// IioRtd is an RTD temperature served from a sampler. Before the first sweep
// it reads -math.MaxFloat64.
type IioRtd struct {
	hal.Base
	sampler *acquire.Sampler[float64]
	index   int
}

func NewIioRtd(sampler *acquire.Sampler[float64], index int) *IioRtd {
	return &IioRtd{sampler: sampler, index: index}
}

func (r *IioRtd) Init(int) error {
	r.sampler.Register(r.index)
	return nil
}

func (r *IioRtd) Get() (float64, error) {
	if v, ok := r.sampler.Get(r.index); ok {
		return v, nil
	}
	return -math.MaxFloat64, nil
}

// SetTempMode only validates; the converter measures every wiring and
// sensor type the same way.
func (r *IioRtd) SetTempMode(mode hal.TmpMode, sensorType hal.TmpSensorType) error {
	if !mode.Valid() || !sensorType.Valid() {
		return hal.ErrInvalidParameter
	}
	return nil
}

// IioTc is a thermocouple measured as a voltage (mV) against an ambient
// temperature channel of the same converter.
type IioTc struct {
	hal.Base
	sampler  *acquire.Sampler[float64]
	index    int
	ambient  int
	gain     float64
	offset   float64
	cjOffset float64
}

// NewIioTc reads Gain, Offset and ColdJunctionOffset from section.
func NewIioTc(sampler *acquire.Sampler[float64], calib *hal.Calibration, section string, ambient, index int) *IioTc {
	return &IioTc{
		sampler:  sampler,
		index:    index,
		ambient:  ambient,
		gain:     calib.Float(section, "Gain", 1),
		offset:   calib.Float(section, "Offset", 0),
		cjOffset: calib.Float(section, "ColdJunctionOffset", 0),
	}
}

func (t *IioTc) Init(int) error {
	t.sampler.Register(t.index)
	t.sampler.Register(t.ambient)
	return nil
}

func (t *IioTc) Get() (float64, error) {
	mv, ok := t.sampler.Get(t.index)
	ambient, ambientOk := t.sampler.Get(t.ambient)
	if !ok || !ambientOk {
		return -math.MaxFloat64, nil
	}
	return hal.ThermocoupleTemperature(ambient+t.cjOffset, mv*t.gain+t.offset), nil
}

// ValueWriter queues a raw value for a converter channel.
type ValueWriter interface {
	Write(index int, v int64) error
}

// IioAo converts and queues analog output values for a writer. A value
// equal to the last one written successfully is dropped.
type IioAo struct {
	hal.Base
	writer  ValueWriter
	index   int
	shifter hal.Shifter
	clip    hal.Clip
	gain    float64
	offset  float64

	mu   sync.Mutex
	last int64
	set  bool
}

func NewIioAo(writer ValueWriter, index int, shifter hal.Shifter, clip hal.Clip, calib *hal.Calibration, section string) *IioAo {
	return &IioAo{
		writer:  writer,
		index:   index,
		shifter: shifter,
		clip:    clip,
		gain:    calib.Float(section, "Gain", 1),
		offset:  calib.Float(section, "Offset", 0),
	}
}

func (a *IioAo) Set(value int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set && a.last == value {
		return nil
	}

	v := float64(a.shifter.Apply(value))
	raw := a.clip.Apply(int64(math.Round(v*a.gain + a.offset)))
	if err := a.writer.Write(a.index, raw); err != nil {
		return err
	}
	a.last, a.set = value, true
	return nil
}

// naturalCompare orders strings so that embedded numbers compare by value:
// in_voltage2_raw sorts before in_voltage10_raw.
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		switch {
		case da && db:
			na, ra := leadingNumber(a)
			nb, rb := leadingNumber(b)
			if c := compareNumbers(na, nb); c != 0 {
				return c
			}
			a, b = ra, rb
		case a[0] != b[0]:
			if a[0] < b[0] {
				return -1
			}
			return 1
		default:
			a, b = a[1:], b[1:]
		}
	}
	return len(a) - len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func leadingNumber(s string) (num, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return strings.TrimLeft(s[:i], "0"), s[i:]
}

func compareNumbers(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}
