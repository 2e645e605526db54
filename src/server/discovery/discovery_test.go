package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysworxx-io/src/server/config"
	"sysworxx-io/src/server/definition"
	"sysworxx-io/src/server/device"
)

func writeCompatible(t *testing.T, root, content string) {
	t.Helper()
	path := filepath.Join(root, "firmware", "devicetree", "base", "compatible")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestResolveModel(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, definition.Fallback, resolveModel("", "", root))

	writeCompatible(t, root, "systec,ctr800,rev0\x00systec,ctr800")
	assert.Equal(t, "ctr800", resolveModel("", "", root))
	assert.Equal(t, "ctr700", resolveModel("", "ctr700", root))
	assert.Equal(t, "jaspermate", resolveModel("jaspermate", "ctr700", root))
}

func TestEnvironment(t *testing.T) {
	root := t.TempDir()
	c := config.Config{
		SysfsRoot:      root,
		ShmPath:        "/tmp/iomapping",
		CalibrationDir: "/tmp/vendor",
		Modbus: config.Modbus{
			Port:  "/dev/ttyUSB0",
			Cards: []config.ModbusCard{{Slave: 2, Module: "IO0404", AOModes: []string{"voltage"}}},
		},
	}

	env := environment(c)
	assert.Equal(t, root, env.SysfsRoot)
	assert.Equal(t, "/tmp/iomapping", env.ShmPath)
	assert.Equal(t, "/tmp/vendor", env.CalibrationDir)
	assert.Equal(t, device.UnknownRevision, env.Revision)
	assert.Equal(t, "/dev/ttyUSB0", env.Modbus.Port)
	assert.Equal(t, []definition.ModbusCard{{Slave: 2, Module: "IO0404", AOModes: []string{"voltage"}}}, env.Modbus.Cards)

	writeCompatible(t, root, "systec,ctr700,rev0")
	assert.Equal(t, 0, environment(c).Revision)
}

type fakeServer struct{ shutdowns int }

func (f *fakeServer) Shutdown() { f.shutdowns++ }

func TestAdvertiser(t *testing.T) {
	a := NewAdvertiser("ctr700-io", 9080, "ctr700", "abc", 1)
	var got []string
	server := &fakeServer{}
	a.register = func(instance, service, domain string, port int, txt []string) (shutdowner, error) {
		assert.Equal(t, "ctr700-io", instance)
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, Domain, domain)
		assert.Equal(t, 9080, port)
		got = txt
		return server, nil
	}

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, []string{"model=ctr700", "revision=1", "id=abc"}, got)

	// restarting replaces the registration
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, 1, server.shutdowns)

	a.Stop()
	a.Stop()
	assert.Equal(t, 2, server.shutdowns)

	a.register = func(string, string, string, int, []string) (shutdowner, error) {
		return nil, errors.New("no multicast")
	}
	assert.Error(t, a.Start(context.Background()))
}
