// Package config handles loading, validating, and saving the daemon
// configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saagar210/Echolocate/internal/db"
)

// Config represents the complete daemon configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Monitor configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Alerts configuration
	Alerts AlertsConfig `yaml:"alerts" json:"alerts"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// User to run as (for privilege dropping)
	User string `yaml:"user" json:"user"`

	// Group to run as
	Group string `yaml:"group" json:"group"`

	// Enable daemon mode (fork to background)
	Daemonize bool `yaml:"daemonize" json:"daemonize"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ScanningConfig holds probe and sweep settings
type ScanningConfig struct {
	// Number of concurrent ping probes during a sweep
	PingConcurrency int `yaml:"ping_concurrency" json:"ping_concurrency"`

	// Per-host ping timeout
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout"`

	// Number of concurrent TCP connect probes per host
	PortConcurrency int `yaml:"port_concurrency" json:"port_concurrency"`

	// Per-port connect timeout
	PortTimeout time.Duration `yaml:"port_timeout" json:"port_timeout"`

	// Banner read timeout after a successful connect
	BannerTimeout time.Duration `yaml:"banner_timeout" json:"banner_timeout"`

	// Port set to probe: "top100" or "top1000"
	PortSet string `yaml:"port_set" json:"port_set"`

	// Reverse DNS lookup timeout
	ResolveTimeout time.Duration `yaml:"resolve_timeout" json:"resolve_timeout"`

	// Enable mDNS hostname discovery
	EnableMDNS bool `yaml:"enable_mdns" json:"enable_mdns"`

	// Overall scan deadline
	MaxScanTimeout time.Duration `yaml:"max_scan_timeout" json:"max_scan_timeout"`
}

// MonitorConfig holds continuous monitoring settings
type MonitorConfig struct {
	// Start the monitor loop when the daemon starts
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Delay between monitor cycles
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Scheduled full scans, cron syntax
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// ScheduleConfig declares a cron-scheduled scan
type ScheduleConfig struct {
	Name           string `yaml:"name" json:"name"`
	CronExpression string `yaml:"cron" json:"cron"`
	ScanKind       string `yaml:"scan_kind" json:"scan_kind"`
	Enabled        bool   `yaml:"enabled" json:"enabled"`
}

// AlertsConfig holds alert delivery settings
type AlertsConfig struct {
	// Enable desktop notifications
	DesktopNotifications bool `yaml:"desktop_notifications" json:"desktop_notifications"`

	// Webhook URL for alert delivery, empty disables
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`

	// Webhook request timeout
	WebhookTimeout time.Duration `yaml:"webhook_timeout" json:"webhook_timeout"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Enable TLS
	TLS TLSConfig `yaml:"tls" json:"tls"`

	// API key for authentication
	APIKey string `yaml:"api_key" json:"api_key"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
}

// TLSConfig holds TLS settings
type TLSConfig struct {
	// Enable TLS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Certificate file path
	CertFile string `yaml:"cert_file" json:"cert_file"`

	// Private key file path
	KeyFile string `yaml:"key_file" json:"key_file"`

	// CA certificate file (for client authentication)
	CAFile string `yaml:"ca_file" json:"ca_file"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	// Enable CORS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Allowed methods
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`

	// Allowed headers
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/echolocate.pid",
			WorkDir:         "/var/lib/echolocate",
			User:            "",
			Group:           "",
			Daemonize:       false,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			PingConcurrency: 32,
			PingTimeout:     3 * time.Second,
			PortConcurrency: 64,
			PortTimeout:     500 * time.Millisecond,
			BannerTimeout:   1 * time.Second,
			PortSet:         "top100",
			ResolveTimeout:  2 * time.Second,
			EnableMDNS:      true,
			MaxScanTimeout:  10 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled:  false,
			Interval: 60 * time.Second,
		},
		Alerts: AlertsConfig{
			DesktopNotifications: true,
			WebhookURL:           "",
			WebhookTimeout:       5 * time.Second,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8080,
			TLS: TLSConfig{
				Enabled:  false,
				CertFile: "",
				KeyFile:  "",
				CAFile:   "",
			},
			APIKey: "",
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stdout",
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.Scanning.PingConcurrency <= 0 {
		return fmt.Errorf("ping concurrency must be positive")
	}
	if c.Scanning.PortConcurrency <= 0 {
		return fmt.Errorf("port concurrency must be positive")
	}
	if c.Scanning.PingTimeout <= 0 {
		return fmt.Errorf("ping timeout must be positive")
	}
	if c.Scanning.PortTimeout <= 0 {
		return fmt.Errorf("port timeout must be positive")
	}

	validPortSets := map[string]bool{
		"top100":  true,
		"top1000": true,
	}
	if !validPortSets[c.Scanning.PortSet] {
		return fmt.Errorf("invalid port set: %s", c.Scanning.PortSet)
	}

	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive when monitor is enabled")
	}
	for _, schedule := range c.Monitor.Schedules {
		if schedule.Name == "" {
			return fmt.Errorf("schedule name is required")
		}
		if schedule.CronExpression == "" {
			return fmt.Errorf("schedule %s: cron expression is required", schedule.Name)
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("API port must be between 1 and 65535")
		}
		if c.API.ListenAddr == "" {
			return fmt.Errorf("API listen address is required when API is enabled")
		}
	}

	if c.API.TLS.Enabled {
		if c.API.TLS.CertFile == "" {
			return fmt.Errorf("TLS certificate file is required when TLS is enabled")
		}
		if c.API.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabaseConfig returns the database configuration
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// IsDaemonMode returns true if running in daemon mode
func (c *Config) IsDaemonMode() bool {
	return c.Daemon.Daemonize
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}

// GetLogOutput returns the log output destination
func (c *Config) GetLogOutput() string {
	return c.Logging.Output
}
