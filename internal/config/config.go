package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Server settings
	ServerPort int    `mapstructure:"server_port"`
	DataDir    string `mapstructure:"data_dir"`
	DeviceName string `mapstructure:"device_name"`

	Storage StorageConfig `mapstructure:"storage"`
	Bus     BusConfig     `mapstructure:"bus"`
	Comms   CommsConfig   `mapstructure:"comms"`
	Matter  MatterConfig  `mapstructure:"matter"`
	API     APIConfig     `mapstructure:"api"`
	Sim     SimConfig     `mapstructure:"sim"`
	Log     LogConfig     `mapstructure:"log"`
}

// StorageConfig selects the persistent key/value backend
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "sqlite" or "file"
}

// BusConfig holds physical-layer timing for the half-duplex line
type BusConfig struct {
	Baud   int           `mapstructure:"baud"`
	Assert time.Duration `mapstructure:"assert"`
	Settle time.Duration `mapstructure:"settle"`
	Guard  time.Duration `mapstructure:"guard"`
	LED    time.Duration `mapstructure:"led"`
}

// CommsConfig controls the transmit queue and scheduling loop
type CommsConfig struct {
	QueueCapacity       int           `mapstructure:"queue_capacity"`
	StepInterval        time.Duration `mapstructure:"step_interval"`
	MotionCheckInterval time.Duration `mapstructure:"motion_check_interval"`
	SyncDelay           time.Duration `mapstructure:"sync_delay"`
	MotionHold          time.Duration `mapstructure:"motion_hold"`
}

// MatterConfig holds Matter.js bridge settings
type MatterConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Dir     string `mapstructure:"dir"`
}

// APIConfig limits actuation requests from the web API
type APIConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// SimConfig drives the built-in head unit simulator
type SimConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TravelTime time.Duration `mapstructure:"travel_time"`
}

// LogConfig controls log output
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	v.SetDefault("server_port", 8080)
	v.SetDefault("data_dir", filepath.Join(homeDir, ".gdo-bridge"))
	v.SetDefault("device_name", "Garage Door")

	v.SetDefault("storage.backend", "sqlite")

	v.SetDefault("bus.baud", 9600)
	v.SetDefault("bus.assert", "1300us")
	v.SetDefault("bus.settle", "130us")
	v.SetDefault("bus.guard", "100us")
	v.SetDefault("bus.led", "500ms")

	v.SetDefault("comms.queue_capacity", 5)
	v.SetDefault("comms.step_interval", "1ms")
	v.SetDefault("comms.motion_check_interval", "250ms")
	v.SetDefault("comms.sync_delay", "100ms")
	v.SetDefault("comms.motion_hold", "5s")

	v.SetDefault("matter.enabled", false)
	v.SetDefault("matter.url", "http://localhost:5540")
	v.SetDefault("matter.dir", "./matter-bridge")

	v.SetDefault("api.rate_per_second", 2.0)
	v.SetDefault("api.burst", 5)

	v.SetDefault("sim.enabled", true)
	v.SetDefault("sim.travel_time", "3s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults alone always unmarshal
		panic(err)
	}
	return cfg
}

// Load reads configuration from a YAML/JSON file, defaults and GDO_* environment variables.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values the bus and scheduler cannot run without
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Comms.QueueCapacity < 2 {
		return fmt.Errorf("comms.queue_capacity must hold a press/release pair, got %d", c.Comms.QueueCapacity)
	}
	if c.Comms.StepInterval <= 0 || c.Comms.MotionCheckInterval <= 0 {
		return fmt.Errorf("comms intervals must be positive")
	}
	if c.Bus.Assert <= 0 || c.Bus.Settle <= 0 {
		return fmt.Errorf("bus assert and settle durations must be positive")
	}
	if c.Bus.Baud <= 0 {
		return fmt.Errorf("bus.baud must be positive")
	}
	return nil
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// DatabasePath returns the path to the SQLite database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "gdo-bridge.db")
}

// FlashDir returns the directory used by the file storage backend
func (c *Config) FlashDir() string {
	return filepath.Join(c.DataDir, "flash")
}
