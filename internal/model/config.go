// Package model defines the data structures for Warden's configuration,
// enumerations, and shared persisted records.
package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Quality    QualityConfig    `yaml:"quality"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Sla        SlaConfig        `yaml:"sla"`
	Notify     NotifyConfig     `yaml:"notify"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type QualityConfig struct {
	// CollectionDir holds accepted test artifacts; IntakeDir receives new ones.
	CollectionDir string `yaml:"collection_dir"`
	IntakeDir     string `yaml:"intake_dir"`

	// ExecChecks enables interpreter-backed syntax/collection checks.
	ExecChecks           bool   `yaml:"exec_checks"`
	PythonBin            string `yaml:"python_bin"`
	CollectionTimeoutSec int    `yaml:"collection_timeout_sec"`

	CacheSize   int `yaml:"cache_size"`
	CacheTTLSec int `yaml:"cache_ttl_sec"`
}

type QuarantineConfig struct {
	Root                string `yaml:"root"`
	MaxRecoveryAttempts int    `yaml:"max_recovery_attempts"`
}

type MonitorConfig struct {
	CollectIntervalMin int `yaml:"collect_interval_min"`
	TrendWindowDays    int `yaml:"trend_window_days"`
}

type SlaConfig struct {
	SweepIntervalMin    int `yaml:"sweep_interval_min"`
	RecoveryIntervalMin int `yaml:"recovery_interval_min"`
}

type NotifyConfig struct {
	LogEnabled     bool   `yaml:"log_enabled"`
	WebhookURL     string `yaml:"webhook_url"`
	WebhookTimeout int    `yaml:"webhook_timeout_sec"`
	DesktopEnabled bool   `yaml:"desktop_enabled"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills zero-valued fields with operational defaults.
func (c *Config) ApplyDefaults() {
	if c.Quality.CollectionDir == "" {
		c.Quality.CollectionDir = "collection"
	}
	if c.Quality.IntakeDir == "" {
		c.Quality.IntakeDir = "intake"
	}
	if c.Quality.PythonBin == "" {
		c.Quality.PythonBin = "python3"
	}
	if c.Quality.CollectionTimeoutSec <= 0 {
		c.Quality.CollectionTimeoutSec = 30
	}
	if c.Quality.CacheSize <= 0 {
		c.Quality.CacheSize = 1000
	}
	if c.Quality.CacheTTLSec <= 0 {
		c.Quality.CacheTTLSec = 300
	}
	if c.Quarantine.Root == "" {
		c.Quarantine.Root = "quarantine"
	}
	if c.Quarantine.MaxRecoveryAttempts <= 0 {
		c.Quarantine.MaxRecoveryAttempts = 3
	}
	if c.Monitor.CollectIntervalMin <= 0 {
		c.Monitor.CollectIntervalMin = 60
	}
	if c.Monitor.TrendWindowDays <= 0 {
		c.Monitor.TrendWindowDays = 7
	}
	if c.Sla.SweepIntervalMin <= 0 {
		c.Sla.SweepIntervalMin = 5
	}
	if c.Sla.RecoveryIntervalMin <= 0 {
		c.Sla.RecoveryIntervalMin = 30
	}
	if c.Notify.WebhookTimeout <= 0 {
		c.Notify.WebhookTimeout = 10
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LoadConfig reads warden.yaml from the given path and applies defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
