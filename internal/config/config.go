// Package config loads and live-reloads the service configuration.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the server listen port when none is configured.
	DefaultPort = 8765
	// DefaultKeepDays is the log retention horizon.
	DefaultKeepDays = 7
	// DefaultReportTime is the daily report time of day.
	DefaultReportTime = "08:00"
)

// Config is the shared configuration for the agent and the server. A single
// file serves both roles; each binary reads the fields it needs.
type Config struct {
	// Device is the identity string, "name" or "name#address".
	Device string `yaml:"device"`
	// ServerHost is the server to dial (agent) or the bind address (server).
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`
	// Token is the pre-shared secret for envelope signing.
	Token string `yaml:"token"`
	// LogDirs are the watched log root directories.
	LogDirs []string `yaml:"log_dirs"`
	// ReportTime is the daily report time of day, "HH:MM".
	ReportTime string `yaml:"report_time"`
	// KeepDays is the retention horizon; older log files are deleted on scan.
	KeepDays int `yaml:"log_keep_days"`
	// PushURL and PushUIDs configure the outbound push notifier.
	PushURL  string   `yaml:"push_url"`
	PushUIDs []string `yaml:"push_uids"`
	// HTMLDir and HTMLURL enable publishing rendered reports as static files.
	HTMLDir string `yaml:"html_dir"`
	HTMLURL string `yaml:"html_url"`
	// RegistryPath is where the server persists the device/task registry.
	RegistryPath string `yaml:"registry_path"`
}

// Parse decodes and validates a configuration document, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("config: device is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("config: token is required")
	}
	if cfg.ServerHost == "" {
		cfg.ServerHost = "localhost"
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultPort
	}
	if cfg.KeepDays == 0 {
		cfg.KeepDays = DefaultKeepDays
	}
	if cfg.ReportTime == "" {
		cfg.ReportTime = DefaultReportTime
	}
	if _, err := time.Parse("15:04", cfg.ReportTime); err != nil {
		return nil, fmt.Errorf("config: invalid report_time %q: %w", cfg.ReportTime, err)
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = "logwarden-registry.yaml"
	}
	return &cfg, nil
}

// Loader re-reads a config file when its modification time changes, so edits
// take effect at the next cycle without a restart.
type Loader struct {
	path  string
	mu    sync.Mutex
	mtime time.Time
	cfg   *Config
}

// NewLoader creates a loader for the given path. Nothing is read until the
// first Load call.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load returns the current configuration, re-reading the file only when its
// mtime has changed. A file that fails to re-parse keeps the last good
// snapshot and returns the error.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := os.Stat(l.path)
	if err != nil {
		if l.cfg != nil {
			return l.cfg, fmt.Errorf("failed to stat config: %w", err)
		}
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}
	if l.cfg != nil && st.ModTime().Equal(l.mtime) {
		return l.cfg, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if l.cfg != nil {
			return l.cfg, fmt.Errorf("failed to read config: %w", err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		if l.cfg != nil {
			return l.cfg, err
		}
		return nil, err
	}
	l.cfg = cfg
	l.mtime = st.ModTime()
	return cfg, nil
}
