package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("IO_UTILS_CONFIG_DIR", tmpDir)

	if err := loadConfig(); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	deviceID := GetDeviceID()
	if _, err := uuid.Parse(deviceID); err != nil {
		t.Errorf("Expected a generated UUID, got %q: %v", deviceID, err)
	}

	path := filepath.Join(tmpDir, "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	// Persistence
	cfgMu.Lock()
	cfg.DeviceID = "new-id"
	cfg.Device = "ctr700"
	cfgMu.Unlock()

	if err := saveConfigLocked(path); err != nil {
		t.Fatalf("saveConfigLocked failed: %v", err)
	}
	if err := loadConfig(); err != nil {
		t.Fatalf("loadConfig reload failed: %v", err)
	}

	if GetDeviceID() != "new-id" {
		t.Errorf("Expected persisted ID new-id, got %s", GetDeviceID())
	}
	if GetConfig().Device != "ctr700" {
		t.Errorf("Expected device ctr700, got %s", GetConfig().Device)
	}
}

func TestConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("IO_UTILS_CONFIG_DIR", tmpDir)

	content := "device_id: abc\nmodbus:\n  port: /dev/ttyUSB0\n  cards:\n    - slave: 3\n      module: IO0404\n      ao_modes: [current]\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loadConfig(); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	c := GetConfig()
	if c.HTTPPort != DefaultHTTPPort || c.TCPPort != DefaultTCPPort {
		t.Errorf("Expected default ports, got %d/%d", c.HTTPPort, c.TCPPort)
	}
	if c.ConnectorProtocol != "json" {
		t.Errorf("Expected json connector, got %s", c.ConnectorProtocol)
	}
	if c.ConfigTick() != 100*time.Millisecond {
		t.Errorf("Expected 100ms tick, got %v", c.ConfigTick())
	}
	if c.CalibrationDir != "" || c.UnlinkShmOnExit {
		t.Errorf("Unexpected calibration/unlink defaults: %+v", c)
	}
	if len(c.Modbus.Cards) != 1 || c.Modbus.Cards[0].Slave != 3 || c.Modbus.Cards[0].AOModes[0] != "current" {
		t.Errorf("Unexpected modbus cards: %+v", c.Modbus.Cards)
	}
}

func TestConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"protocol", "device_id: x\nconnector_protocol: xml\n"},
		{"slave", "device_id: x\nmodbus:\n  cards:\n    - slave: 0\n      module: IO0404\n"},
		{"syntax", "device_id: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Setenv("IO_UTILS_CONFIG_DIR", tmpDir)
			if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if err := loadConfig(); err == nil {
				t.Error("Expected loadConfig to fail")
			}
			if GetConfig().ConnectorProtocol != "json" {
				t.Errorf("Expected defaults after failure, got %+v", GetConfig())
			}
		})
	}
}
