package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCoreAddress          = "127.0.0.1:4050"
	DefaultListen               = "127.0.0.1:8787"
	DefaultServiceType          = "wireguard"
	DefaultNATCompatibility     = "auto"
	DefaultDNSOption            = "auto"
	DefaultPollIntervalMs       = 1000
	DefaultBootstrapTimeoutSec  = 60
	DefaultConnectTimeoutSec    = 45
	DefaultDisconnectTimeoutSec = 15
	DefaultRequestTimeoutSec    = 10
	DefaultHealthCheckSec       = 10
	DefaultHealthCheckFailures  = 3
	DefaultLogLevel             = "info"
	DefaultDataDirName          = ".vpnconnect"
	DefaultStoreFile            = "vpnconnect.db"
)

// Config holds core node and client settings.
type Config struct {
	Core   *CoreConfig   `yaml:"core,omitempty"`
	Client *ClientConfig `yaml:"client,omitempty"`
	Log    LogConfig     `yaml:"log"`
}

// CoreConfig describes how to reach (and optionally launch) the core node.
type CoreConfig struct {
	Address              string   `yaml:"address"`
	NodeBinary           string   `yaml:"node_binary"`
	NodeArgs             []string `yaml:"node_args"`
	PollIntervalMs       int      `yaml:"poll_interval_ms"`
	BootstrapTimeoutSec  int      `yaml:"bootstrap_timeout_sec"`
	ConnectTimeoutSec    int      `yaml:"connect_timeout_sec"`
	DisconnectTimeoutSec int      `yaml:"disconnect_timeout_sec"`
	RequestTimeoutSec    int      `yaml:"request_timeout_sec"`
	HealthCheckSec       int      `yaml:"health_check_sec"`
	HealthCheckFailures  int      `yaml:"health_check_failures"`
}

// ClientConfig is used by the local controller process.
type ClientConfig struct {
	Listen           string   `yaml:"listen"`
	DataDir          string   `yaml:"data_dir"`
	ServiceType      string   `yaml:"service_type"`
	NATCompatibility string   `yaml:"nat_compatibility"`
	STUNServers      []string `yaml:"stun_servers"`
	UsagePath        string   `yaml:"usage_path"`
}

// LogConfig controls process logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Core == nil {
		return fmt.Errorf("config must contain a core section")
	}
	if cfg.Core.Address == "" {
		return fmt.Errorf("core.address is required")
	}
	if cfg.Client != nil && cfg.Client.DataDir == "" {
		return fmt.Errorf("client.data_dir is required")
	}
	if cfg.Client != nil && cfg.Client.ServiceType == "" {
		return fmt.Errorf("client.service_type is required")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.Address == "" {
		cfg.Core.Address = DefaultCoreAddress
	}
	if cfg.Core.PollIntervalMs == 0 {
		cfg.Core.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.Core.BootstrapTimeoutSec == 0 {
		cfg.Core.BootstrapTimeoutSec = DefaultBootstrapTimeoutSec
	}
	if cfg.Core.ConnectTimeoutSec == 0 {
		cfg.Core.ConnectTimeoutSec = DefaultConnectTimeoutSec
	}
	if cfg.Core.DisconnectTimeoutSec == 0 {
		cfg.Core.DisconnectTimeoutSec = DefaultDisconnectTimeoutSec
	}
	if cfg.Core.RequestTimeoutSec == 0 {
		cfg.Core.RequestTimeoutSec = DefaultRequestTimeoutSec
	}
	if cfg.Core.HealthCheckSec == 0 {
		cfg.Core.HealthCheckSec = DefaultHealthCheckSec
	}
	if cfg.Core.HealthCheckFailures == 0 {
		cfg.Core.HealthCheckFailures = DefaultHealthCheckFailures
	}

	if cfg.Client != nil {
		if cfg.Client.Listen == "" {
			cfg.Client.Listen = DefaultListen
		}
		if cfg.Client.DataDir == "" {
			if home, err := os.UserHomeDir(); err == nil {
				cfg.Client.DataDir = filepath.Join(home, DefaultDataDirName)
			}
		}
		if cfg.Client.ServiceType == "" {
			cfg.Client.ServiceType = DefaultServiceType
		}
		if cfg.Client.NATCompatibility == "" {
			cfg.Client.NATCompatibility = DefaultNATCompatibility
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// StorePath is the favourites/settings database location.
func (c ClientConfig) StorePath() string {
	return filepath.Join(c.DataDir, DefaultStoreFile)
}

// PollInterval is the status/statistics polling period.
func (c CoreConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BootstrapTimeout bounds node startup.
func (c CoreConfig) BootstrapTimeout() time.Duration {
	return time.Duration(c.BootstrapTimeoutSec) * time.Second
}

// ConnectTimeout bounds a single connect request.
func (c CoreConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// DisconnectTimeout bounds a single disconnect request.
func (c CoreConfig) DisconnectTimeout() time.Duration {
	return time.Duration(c.DisconnectTimeoutSec) * time.Second
}

// HealthCheckInterval is the period of core node health checks; negative disables them.
func (c CoreConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckSec) * time.Second
}

// RequestTimeout bounds auxiliary requests (identity, exchange rate, balance).
func (c CoreConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
