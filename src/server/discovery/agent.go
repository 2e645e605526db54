package discovery

import (
	"log"
	"sync"

	"sysworxx-io/src/server"
	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/config"
	"sysworxx-io/src/server/definition"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/util"
)

const deviceEnv = "IO_DEVICE"

var (
	modelName     string
	modelNameOnce sync.Once
)

// ModelName returns the hardware model to load. The result is cached after
// the first call.
func ModelName() string {
	modelNameOnce.Do(func() {
		c := config.GetConfig()
		modelName = resolveModel(c.Device, util.Getenv(deviceEnv), sysfsRoot(c))
		log.Printf("discovery: model %s", modelName)
	})
	return modelName
}

// resolveModel prefers the configured name, then the environment, then
// the devicetree.
func resolveModel(configured, fromEnv, sysfsRoot string) string {
	if configured != "" {
		return configured
	}
	if fromEnv != "" {
		return fromEnv
	}
	name, err := server.DeviceName(sysfsRoot)
	if err != nil {
		log.Printf("discovery: %v", err)
		return definition.Fallback
	}
	return name
}

func sysfsRoot(c config.Config) string {
	if c.SysfsRoot != "" {
		return c.SysfsRoot
	}
	return backend.DefaultRoot
}

// Environment binds the definitions to the configured paths and the board
// revision.
func Environment() definition.Env {
	return environment(config.GetConfig())
}

func environment(c config.Config) definition.Env {
	env := definition.DefaultEnv()
	env.SysfsRoot = sysfsRoot(c)
	if c.ShmPath != "" {
		env.ShmPath = c.ShmPath
	}
	env.CalibrationDir = c.CalibrationDir
	env.DisableLmSensors = env.DisableLmSensors || c.DisableLmSensors

	if rev, err := server.HardwareRevision(env.SysfsRoot); err == nil {
		env.Revision = rev
	} else {
		env.Revision = device.UnknownRevision
	}

	env.Modbus = definition.Modbus{
		Port:     c.Modbus.Port,
		BaudRate: c.Modbus.BaudRate,
		Discover: c.Modbus.Discover,
	}
	for _, card := range c.Modbus.Cards {
		env.Modbus.Cards = append(env.Modbus.Cards, definition.ModbusCard{
			Slave:   card.Slave,
			Module:  card.Module,
			AOModes: card.AOModes,
		})
	}
	return env
}

// LoadDevice builds the facade of the detected model.
func LoadDevice() *device.Device {
	return definition.Load(ModelName(), Environment())
}
