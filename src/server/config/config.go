package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"sysworxx-io/src/server/util"
)

const (
	prodConfigDir  = "/var/lib/sysworxx-io"
	configFileName = "config.yaml"

	DefaultHTTPPort   = 9080
	DefaultTCPPort    = 9081
	DefaultConfigTick = 100 * time.Millisecond
)

// ModbusCard is a remote I/O card polled by the jaspermate definition.
type ModbusCard struct {
	Slave   byte     `yaml:"slave"`
	Module  string   `yaml:"module"`
	AOModes []string `yaml:"ao_modes,omitempty"`
}

type Modbus struct {
	Port     string       `yaml:"port,omitempty"`
	BaudRate int          `yaml:"baud_rate,omitempty"`
	Cards    []ModbusCard `yaml:"cards,omitempty"`
	Discover int          `yaml:"discover,omitempty"`
}

type Config struct {
	DeviceID          string `yaml:"device_id"`
	Device            string `yaml:"device,omitempty"`
	ServeExternally   bool   `yaml:"serve_externally,omitempty"`
	HTTPPort          int    `yaml:"http_port"`
	TCPPort           int    `yaml:"tcp_port"`
	ConnectorProtocol string `yaml:"connector_protocol"`
	ShmPath           string `yaml:"shm_path,omitempty"`
	UnlinkShmOnExit   bool   `yaml:"unlink_shm_on_exit,omitempty"`
	ConfigTickMs      int    `yaml:"config_tick_ms"`
	CalibrationDir    string `yaml:"calibration_dir,omitempty"`
	SysfsRoot         string `yaml:"sysfs_root,omitempty"`
	DisableLmSensors  bool   `yaml:"disable_lmsensors,omitempty"`
	Advertise         bool   `yaml:"advertise,omitempty"`
	Modbus            Modbus `yaml:"modbus,omitempty"`
}

// ConfigTick is the daemon's configuration poll interval.
func (c Config) ConfigTick() time.Duration {
	if c.ConfigTickMs <= 0 {
		return DefaultConfigTick
	}
	return time.Duration(c.ConfigTickMs) * time.Millisecond
}

func defaults() Config {
	return Config{
		HTTPPort:          DefaultHTTPPort,
		TCPPort:           DefaultTCPPort,
		ConnectorProtocol: "json",
		ConfigTickMs:      int(DefaultConfigTick / time.Millisecond),
	}
}

var (
	cfg     = defaults()
	cfgOnce sync.Once
	cfgMu   sync.RWMutex
)

func init() {
	cfgOnce.Do(func() {
		if err := loadConfig(); err != nil {
			log.Printf("Config: failed to load, using defaults: %v", err)
		}
	})
}

func GetConfig() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

func GetDeviceID() string {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg.DeviceID
}

func getConfigPath() string {
	if dir := util.Getenv("IO_UTILS_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, configFileName)
	}
	if info, err := os.Stat(prodConfigDir); err == nil && info.IsDir() {
		testFile := filepath.Join(prodConfigDir, ".write_test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return filepath.Join(prodConfigDir, configFileName)
		}
	}
	return filepath.Join("tmp", configFileName)
}

func loadConfig() error {
	cfgMu.Lock()
	defer cfgMu.Unlock()

	path := getConfigPath()
	log.Println("Config:", path)
	cfg = defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.DeviceID = uuid.NewString()
			return saveConfigLocked(path)
		}
		return err
	}

	loaded := defaults()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := loaded.validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	cfg = loaded

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		return saveConfigLocked(path)
	}
	return nil
}

func (c Config) validate() error {
	switch c.ConnectorProtocol {
	case "json", "cbor":
	default:
		return fmt.Errorf("unknown connector_protocol %q", c.ConnectorProtocol)
	}
	for _, card := range c.Modbus.Cards {
		if card.Slave == 0 || card.Slave > 247 {
			return fmt.Errorf("modbus card %q: slave %d out of range", card.Module, card.Slave)
		}
	}
	return nil
}

func saveConfigLocked(path string) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
