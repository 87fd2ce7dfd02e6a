// Package config bootstraps the gateway's process-level configuration,
// grounded on the teacher's internal/config/config.go viper setup. This is
// distinct from the Config Store documents in internal/store: that package
// persists devices/server/logging/OTA documents the Command Handler
// mutates at runtime, while this package only reads the one-shot settings
// needed to wire the process at startup (listen addresses, store backend
// choice, broker/queue connection strings).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds every process-level setting read once at boot.
type Config struct {
	Admin  AdminConfig  `mapstructure:"admin"`
	Store  StoreConfig  `mapstructure:"store"`
	Serial SerialConfig `mapstructure:"serial"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Link     LinkConfig     `mapstructure:"link"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Security SecurityConfig `mapstructure:"security"`
}

// SecurityConfig holds the master key the Config Store uses to encrypt
// broker credentials at rest (internal/store's credential codec). It is
// expected to arrive via the GATEWAYCORE_SECURITY_MASTERKEY environment
// variable in production, not committed to config.yaml.
type SecurityConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// AdminConfig is the local health/metrics/debug HTTP surface (SPEC_FULL.md
// §4.13).
type AdminConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StoreConfig selects the Config Store backing.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SerialConfig names the two RS-485 device nodes the RTU driver opens.
type SerialConfig struct {
	Bus1Device string `mapstructure:"bus1_device"`
	Bus2Device string `mapstructure:"bus2_device"`
}

// MQTTConfig holds the fallback-queue Redis connection; broker connection
// fields live in the per-deployment server_config.json document instead,
// since those can change at runtime via the Command Handler.
type MQTTConfig struct {
	FallbackRedisAddr string `mapstructure:"fallback_redis_addr"`
	FallbackRedisDB   int    `mapstructure:"fallback_redis_db"`
}

// HTTPConfig is reserved for process-level HTTP publisher tuning that
// should not be hot-reloadable (currently just a default timeout floor).
type HTTPConfig struct {
	MinTimeoutMS int `mapstructure:"min_timeout_ms"`
}

// LinkConfig configures the configuration link's websocket listener.
type LinkConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from file and environment variables, following
// the teacher's internal/config/config.go precedence: explicit file path,
// then ./configs and cwd, then the user's home config dir, then
// GATEWAYCORE_-prefixed environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAYCORE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 8090)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "./data/store")

	v.SetDefault("serial.bus1_device", "/dev/ttyUSB0")
	v.SetDefault("serial.bus2_device", "/dev/ttyUSB1")

	v.SetDefault("mqtt.fallback_redis_addr", "")
	v.SetDefault("mqtt.fallback_redis_db", 0)

	v.SetDefault("http.min_timeout_ms", 1000)

	v.SetDefault("link.listen_addr", ":8091")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file_path", "./logs/gatewaycore.log")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)

	v.SetDefault("security.master_key", "")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".gatewaycore")
}
