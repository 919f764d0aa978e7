package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Daemon   DaemonConfig  `yaml:"daemon"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Pairing  PairingConfig `yaml:"pairing"`
	LogLevel string        `yaml:"log_level"`
}

// DaemonConfig holds flicd connection and supervision settings.
type DaemonConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Spawn controls whether a bundled flicd is started when none is
	// running. Set false to use a system-managed daemon.
	Spawn     bool   `yaml:"spawn"`
	BinaryDir string `yaml:"binary_dir"`
	DBPath    string `yaml:"db_path"`
}

// GatewayConfig holds smart home gateway settings.
type GatewayConfig struct {
	URL string `yaml:"url"`
}

// PairingConfig holds pairing timing settings.
type PairingConfig struct {
	ScanTimeoutSeconds    int `yaml:"scan_timeout_seconds"`
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "flic-adapter")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := filepath.Join(DefaultConfigDir(), "data")

	return &Config{
		Daemon: DaemonConfig{
			Host:      "127.0.0.1",
			Port:      5551,
			Spawn:     true,
			BinaryDir: filepath.Join(dataDir, "bin"),
			DBPath:    filepath.Join(dataDir, "flic.sqlite3"),
		},
		Gateway: GatewayConfig{
			URL: "ws://127.0.0.1:8080/things",
		},
		Pairing: PairingConfig{
			ScanTimeoutSeconds:    60,
			ConnectTimeoutSeconds: 30,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Daemon.BinaryDir = expandTilde(cfg.Daemon.BinaryDir)
	cfg.Daemon.DBPath = expandTilde(cfg.Daemon.DBPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Daemon.Host == "" {
		return fmt.Errorf("daemon.host must not be empty")
	}

	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be in 1..65535, got %d", c.Daemon.Port)
	}

	if c.Daemon.Spawn {
		if c.Daemon.BinaryDir == "" {
			return fmt.Errorf("daemon.binary_dir must not be empty when daemon.spawn is enabled")
		}
		if c.Daemon.DBPath == "" {
			return fmt.Errorf("daemon.db_path must not be empty when daemon.spawn is enabled")
		}
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url must not be empty")
	}
	if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
		return fmt.Errorf("gateway.url must be a ws:// or wss:// URL, got %q", c.Gateway.URL)
	}

	if c.Pairing.ScanTimeoutSeconds <= 0 {
		return fmt.Errorf("pairing.scan_timeout_seconds must be > 0")
	}

	if c.Pairing.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("pairing.connect_timeout_seconds must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config file to the default
// path if none exists yet. Returns the written path, or "" if a config
// file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	content := append([]byte("# flic-adapter configuration\n"), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level string to a slog.Level.
// Unknown values fall back to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
