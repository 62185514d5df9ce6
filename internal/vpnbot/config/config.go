package config

import (
	"fmt"
	"net"
	"time"
)

// Config defines the configuration for the key vending service.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	WireGuard WireGuardConfig `mapstructure:"wireguard"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Provision ProvisionConfig `mapstructure:"provision"`
}

// ServiceConfig defines service-level configuration options.
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DBConfig defines the database configuration.
type DBConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// SSHConfig defines how to reach the gateway host.
type SSHConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`

	BreakerThreshold    int           `mapstructure:"breaker_threshold"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
}

// WireGuardConfig defines the gateway's WireGuard layout and the client
// address pool.
type WireGuardConfig struct {
	ConfigPath       string   `mapstructure:"config_path"`
	Interface        string   `mapstructure:"interface"`
	EndpointHost     string   `mapstructure:"endpoint_host"`
	ClientIPStart    string   `mapstructure:"client_ip_start"`
	ClientIPEnd      string   `mapstructure:"client_ip_end"`
	ClientMaskBits   int      `mapstructure:"client_mask_bits"`
	DNSServers       []string `mapstructure:"dns_servers"`
	KeepaliveSeconds int      `mapstructure:"keepalive_seconds"`
}

// PaymentConfig defines pricing and accepted payment methods.
type PaymentConfig struct {
	PricePerDay int           `mapstructure:"price_per_day"`
	Methods     []string      `mapstructure:"methods"`
	Expiry      time.Duration `mapstructure:"expiry"`
	MinDays     int           `mapstructure:"min_days"`
	MaxDays     int           `mapstructure:"max_days"`
}

// ReaperConfig defines the expiry reaper loop timings.
type ReaperConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// ProvisionConfig defines provisioning-specific settings.
type ProvisionConfig struct {
	PendingTimeout    time.Duration `mapstructure:"pending_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// Validate validates the configuration for correctness and completeness
func (c *Config) Validate() error {
	if c.SSH.Host == "" {
		return fmt.Errorf("ssh.host is required (set VPN_BOT_SSH_HOST env var)")
	}
	if c.SSH.PrivateKeyPath == "" {
		return fmt.Errorf("ssh.private_key_path is required")
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh.port: %d", c.SSH.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", c.Log.Format)
	}

	if c.WireGuard.Interface == "" {
		return fmt.Errorf("wireguard.interface is required")
	}
	if c.WireGuard.ConfigPath == "" {
		return fmt.Errorf("wireguard.config_path is required")
	}
	start := net.ParseIP(c.WireGuard.ClientIPStart)
	if start == nil || start.To4() == nil {
		return fmt.Errorf("invalid wireguard.client_ip_start: %s", c.WireGuard.ClientIPStart)
	}
	end := net.ParseIP(c.WireGuard.ClientIPEnd)
	if end == nil || end.To4() == nil {
		return fmt.Errorf("invalid wireguard.client_ip_end: %s", c.WireGuard.ClientIPEnd)
	}
	if c.WireGuard.ClientMaskBits < 0 || c.WireGuard.ClientMaskBits > 32 {
		return fmt.Errorf("invalid wireguard.client_mask_bits: %d", c.WireGuard.ClientMaskBits)
	}
	if c.WireGuard.KeepaliveSeconds < 0 {
		return fmt.Errorf("invalid wireguard.keepalive_seconds: %d", c.WireGuard.KeepaliveSeconds)
	}

	if c.Payment.PricePerDay <= 0 {
		return fmt.Errorf("payment.price_per_day must be positive, got %d", c.Payment.PricePerDay)
	}
	if c.Payment.MinDays <= 0 || c.Payment.MaxDays < c.Payment.MinDays {
		return fmt.Errorf("invalid payment day bounds: min=%d max=%d", c.Payment.MinDays, c.Payment.MaxDays)
	}

	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper.interval must be positive")
	}
	if c.Reaper.ErrorBackoff <= 0 {
		return fmt.Errorf("reaper.error_backoff must be positive")
	}

	if c.Provision.PendingTimeout <= 0 {
		return fmt.Errorf("provision.pending_timeout must be positive")
	}

	return nil
}
