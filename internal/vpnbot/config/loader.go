package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables.
// YAML files take precedence, then ENV variables override.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	// Search paths in order of priority
	l.v.AddConfigPath("/etc/vpn-bot")
	l.v.AddConfigPath("$HOME/.vpn-bot")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("VPN_BOT")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	// Config file is optional; defaults and ENV cover the rest
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	l.v.SetDefault("service.shutdown_timeout", "30s")

	l.v.SetDefault("db.path", "./data/vpnbot.db")
	l.v.SetDefault("db.max_open_conns", 25)
	l.v.SetDefault("db.max_idle_conns", 5)
	l.v.SetDefault("db.conn_max_lifetime", 300)

	l.v.SetDefault("ssh.port", 22)
	l.v.SetDefault("ssh.user", "root")
	l.v.SetDefault("ssh.dial_timeout", "10s")
	l.v.SetDefault("ssh.command_timeout", "30s")
	l.v.SetDefault("ssh.retry_attempts", 3)
	l.v.SetDefault("ssh.retry_backoff", "1s")
	l.v.SetDefault("ssh.breaker_threshold", 5)
	l.v.SetDefault("ssh.breaker_reset_timeout", "30s")

	l.v.SetDefault("wireguard.config_path", "/etc/wireguard/wg0.conf")
	l.v.SetDefault("wireguard.interface", "wg0")
	l.v.SetDefault("wireguard.client_ip_start", "10.0.0.2")
	l.v.SetDefault("wireguard.client_ip_end", "10.0.0.254")
	l.v.SetDefault("wireguard.client_mask_bits", 24)
	l.v.SetDefault("wireguard.dns_servers", []string{"1.1.1.1", "8.8.8.8"})
	l.v.SetDefault("wireguard.keepalive_seconds", 25)

	l.v.SetDefault("payment.price_per_day", 10)
	l.v.SetDefault("payment.methods", []string{"card", "qiwi"})
	l.v.SetDefault("payment.expiry", "30m")
	l.v.SetDefault("payment.min_days", 1)
	l.v.SetDefault("payment.max_days", 365)

	l.v.SetDefault("reaper.interval", "1h")
	l.v.SetDefault("reaper.error_backoff", "1m")

	l.v.SetDefault("provision.pending_timeout", "15m")
	l.v.SetDefault("provision.reconcile_interval", "6h")
}

// LoadWithPath loads configuration from a specific file path
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	return loader.Load()
}
