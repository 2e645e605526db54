// Package definition holds the wiring tables of the supported hardware
// models. Each table is a function building a device.Definition from the
// environment. Apart from the jaspermate table, which reads its Modbus
// cards while loading, nothing touches the hardware before Device.Init.
package definition

import (
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/shm"
)

const (
	// Fallback is loaded for unknown models.
	Fallback = "fallback"

	// Outputs and inputs of the legacy process image.
	legacyOutputs = 33
	legacyInputs  = 39

	disableLmSensorsEnv = "SYSWORXX_IO_DISABLE_LMSENSORS"

	vendorDir     = "/vendor"
	bootVendorDir = "/boot/vendor"
)

// ModbusCard is one remote card of the jaspermate definition.
type ModbusCard struct {
	Slave  byte
	Module string
	// AOModes optionally programs the analog output ranges, see
	// localio.AOVoltage and localio.AOCurrent.
	AOModes []string
}

type Modbus struct {
	Port     string
	BaudRate int
	Cards    []ModbusCard
	// Discover probes slaves 1..Discover when no cards are configured.
	Discover int
}

// Env locates the resources the definitions bind to. An empty
// CalibrationDir selects the model's own calibration directory and a nil
// Pins source drives the host's gpio chips.
type Env struct {
	SysfsRoot        string
	Pins             backend.PinSource
	DevRoot          string
	ShmPath          string
	CalibrationDir   string
	Revision         int
	DisableLmSensors bool
	Modbus           Modbus
}

// DefaultEnv describes the target. The board revision is unknown until the
// caller reads it from the devicetree.
func DefaultEnv() Env {
	_, noSensors := os.LookupEnv(disableLmSensorsEnv)
	return Env{
		SysfsRoot:        backend.DefaultRoot,
		DevRoot:          "/dev",
		ShmPath:          shm.DefaultPath,
		Revision:         device.UnknownRevision,
		DisableLmSensors: noSensors,
	}
}

func (e Env) calibration(defaultDir, name string) *hal.Calibration {
	dir := e.CalibrationDir
	if dir == "" {
		dir = defaultDir
	}
	return hal.LoadCalibration(filepath.Join(dir, name))
}

func (e Env) sysfs() *backend.Sysfs {
	return backend.NewSysfs(e.SysfsRoot).WithPins(e.Pins)
}

// sysPath maps an absolute sysfs path onto the configured root.
func (e Env) sysPath(path string) string {
	return filepath.Join(e.SysfsRoot, strings.TrimPrefix(path, backend.DefaultRoot))
}

type (
	builder    func(Env) device.Definition
	shmBuilder func(Env) (device.Definition, shm.Mappings)
)

var definitions = map[string]builder{
	"ctr500":     ctr500,
	"ctr600":     ctr600,
	"ctr700":     ctr700,
	"ctr750":     ctr750,
	"ctr800":     ctr800,
	"jaspermate": jaspermate,
}

var shmDefinitions = map[string]shmBuilder{
	"ctr700": ctr700Shm,
	"ctr750": ctr750Shm,
	"ctr800": ctr800Shm,
}

// Names lists the models with a definition of their own.
func Names() []string {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Load builds the device for the named model. Unknown names get the
// fallback definition.
func Load(name string, env Env) *device.Device {
	build, ok := definitions[name]
	if !ok {
		if name != Fallback {
			log.Printf("definition: no wiring for %q, using %s", name, Fallback)
		}
		name, build = Fallback, fallback
	}
	def := build(env)
	def.Name = name
	def.Revision = env.Revision
	return device.New(def)
}

// LoadShm builds the daemon side of the named model together with the
// sampler groups to publish. ok is false for models without one.
func LoadShm(name string, env Env) (dev *device.Device, mappings shm.Mappings, ok bool) {
	build, ok := shmDefinitions[name]
	if !ok {
		return nil, shm.Mappings{}, false
	}
	def, mappings := build(env)
	def.Name = name
	def.Revision = env.Revision
	return device.New(def), mappings, true
}

func nullOutputs(n int) []hal.DigitalOutput {
	out := make([]hal.DigitalOutput, n)
	for i := range out {
		out[i] = backend.NullOutput{}
	}
	return out
}

func nullInputs(n int) []hal.DigitalInput {
	in := make([]hal.DigitalInput, n)
	for i := range in {
		in[i] = backend.NewNullInput()
	}
	return in
}

func fallback(Env) device.Definition {
	return device.Definition{
		Outputs: nullOutputs(legacyOutputs),
		Inputs:  nullInputs(legacyInputs),
	}
}
