// Package config provides configuration management for the relay and
// bridge client. Supports TOML configuration files with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// validateDirectoryWritable checks that dir exists (creating it if
// necessary) and that a file can be written inside it.
func validateDirectoryWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all relay/bridge configuration.
type Config struct {
	Auth       AuthConfig       `toml:"auth"`
	Channels   ChannelsConfig   `toml:"channels"`
	Enterprise EnterpriseConfig `toml:"enterprise"`
	Network    NetworkConfig    `toml:"network"`
	Relay      RelayConfig      `toml:"relay"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Logging    LoggingConfig    `toml:"logging"`
}

// AuthConfig holds credential-issuing configuration.
type AuthConfig struct {
	JWTSecret                   string `toml:"jwt_secret" env:"JWT_SECRET"`
	JWTAlgorithm                string `toml:"jwt_algorithm"`
	JWTExpiryHours               int    `toml:"jwt_expiry_hours"`
	PairingSessionExpiryMinutes int    `toml:"pairing_session_expiry_minutes"`
}

// MobileChannelConfig holds the Mobile Gateway's listener configuration.
type MobileChannelConfig struct {
	Enabled           bool   `toml:"enabled"`
	WebSocketPort     int    `toml:"websocket_port"`
	TLSEnabled        bool   `toml:"tls_enabled"`
	TLSCertPath       string `toml:"tls_cert_path"`
	TLSKeyPath        string `toml:"tls_key_path"`
	MaxConnections    int    `toml:"max_connections"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
}

// ChannelsConfig groups per-channel listener configuration.
type ChannelsConfig struct {
	Mobile MobileChannelConfig `toml:"mobile"`
}

// EnterpriseConfig holds the hardening features an enterprise deployment
// turns on: rate limiting, audit logging, and IP allowlisting.
type EnterpriseConfig struct {
	RateLimitEnabled               bool     `toml:"rate_limit_enabled"`
	RateLimitRequestsPerMinute     int      `toml:"rate_limit_requests_per_minute"`
	RateLimitBlockDurationSeconds  int      `toml:"rate_limit_block_duration_seconds"`
	AuditLogEnabled                bool     `toml:"audit_log_enabled"`
	AuditLogPath                   string   `toml:"audit_log_path"`
	AuditMaxFileSizeMB             int      `toml:"audit_max_file_size_mb"`
	AuditMaxFiles                  int      `toml:"audit_max_files"`
	IPWhitelistEnabled              bool     `toml:"ip_whitelist_enabled"`
	IPWhitelist                    []string `toml:"ip_whitelist"`
}

// NetworkConfig holds cross-cutting network policy.
type NetworkConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// RelayConfig holds relay-process (server-side) configuration.
type RelayConfig struct {
	PublicURL      string `toml:"public_url" env:"RELAY_PUBLIC_URL"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
	MetricsPort    int    `toml:"metrics_port"`
	Port           int    `toml:"port" env:"PORT"`
}

// BridgeConfig holds operator-side bridge-client configuration.
type BridgeConfig struct {
	RelayURL                       string `toml:"relay_url"`
	BridgeToken                    string `toml:"bridge_token" env:"BRIDGE_TOKEN"`
	ReconnectInitialBackoffSeconds int    `toml:"reconnect_initial_backoff_seconds"`
	ReconnectMaxBackoffSeconds     int    `toml:"reconnect_max_backoff_seconds"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
	Output string `toml:"output" env:"LOG_OUTPUT"`
	File   string `toml:"file" env:"LOG_FILE"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Auth: AuthConfig{
			JWTSecret:                   "",
			JWTAlgorithm:                "HS256",
			JWTExpiryHours:               720,
			PairingSessionExpiryMinutes: 5,
		},
		Channels: ChannelsConfig{
			Mobile: MobileChannelConfig{
				Enabled:           true,
				WebSocketPort:     8443,
				TLSEnabled:        true,
				TLSCertPath:       filepath.Join(homeDir, ".mobilebridge", "relay.crt"),
				TLSKeyPath:        filepath.Join(homeDir, ".mobilebridge", "relay.key"),
				MaxConnections:    100,
				HeartbeatInterval: 30,
			},
		},
		Enterprise: EnterpriseConfig{
			RateLimitEnabled:              true,
			RateLimitRequestsPerMinute:    60,
			RateLimitBlockDurationSeconds: 300,
			AuditLogEnabled:               true,
			AuditLogPath:                  filepath.Join(homeDir, ".mobilebridge", "audit.log"),
			AuditMaxFileSizeMB:            100,
			AuditMaxFiles:                 10,
			IPWhitelistEnabled:            false,
			IPWhitelist:                   []string{},
		},
		Network: NetworkConfig{
			AllowedOrigins: []string{},
		},
		Relay: RelayConfig{
			PublicURL:      "",
			MetricsEnabled: true,
			MetricsPort:    9090,
			Port:           8443,
		},
		Bridge: BridgeConfig{
			RelayURL:                       "",
			BridgeToken:                    "",
			ReconnectInitialBackoffSeconds: 5,
			ReconnectMaxBackoffSeconds:     30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File:   "",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check.
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		"./config.toml",
		filepath.Join(homeDir, ".mobilebridge", "config.toml"),
		filepath.Join("/etc", "mobilebridge", "config.toml"),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Channels.Mobile.Enabled {
		if c.Channels.Mobile.WebSocketPort <= 0 {
			return fmt.Errorf("%w: channels.mobile.websocket_port must be positive", ErrInvalidConfig)
		}
		if c.Channels.Mobile.MaxConnections <= 0 {
			return fmt.Errorf("%w: channels.mobile.max_connections must be positive", ErrInvalidConfig)
		}
		if c.Channels.Mobile.HeartbeatInterval <= 0 {
			return fmt.Errorf("%w: channels.mobile.heartbeat_interval must be positive", ErrInvalidConfig)
		}
		if c.Channels.Mobile.TLSEnabled {
			if c.Channels.Mobile.TLSCertPath == "" || c.Channels.Mobile.TLSKeyPath == "" {
				return fmt.Errorf("%w: tls_cert_path and tls_key_path are required when tls_enabled", ErrInvalidConfig)
			}
		}
	}

	if c.Enterprise.AuditLogEnabled {
		if c.Enterprise.AuditLogPath == "" {
			return fmt.Errorf("%w: enterprise.audit_log_path is required when audit_log_enabled", ErrInvalidConfig)
		}
		if err := validateDirectoryWritable(filepath.Dir(c.Enterprise.AuditLogPath)); err != nil {
			return fmt.Errorf("%w: audit log directory: %w", ErrInvalidConfig, err)
		}
	}

	if c.Enterprise.RateLimitEnabled && c.Enterprise.RateLimitRequestsPerMinute <= 0 {
		return fmt.Errorf("%w: enterprise.rate_limit_requests_per_minute must be positive", ErrInvalidConfig)
	}

	if c.Auth.JWTExpiryHours <= 0 {
		return fmt.Errorf("%w: auth.jwt_expiry_hours must be positive", ErrInvalidConfig)
	}
	if c.Auth.PairingSessionExpiryMinutes <= 0 {
		return fmt.Errorf("%w: auth.pairing_session_expiry_minutes must be positive", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrInvalidConfig)
	}

	return nil
}

// JWTExpiry returns the configured JWT lifetime as a Duration.
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.Auth.JWTExpiryHours) * time.Hour
}

// PairingSessionExpiry returns the configured pairing session lifetime.
func (c *Config) PairingSessionExpiry() time.Duration {
	return time.Duration(c.Auth.PairingSessionExpiryMinutes) * time.Minute
}

// HeartbeatInterval returns the mobile channel's heartbeat interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Channels.Mobile.HeartbeatInterval) * time.Second
}
