// Package config loads the wheelguard daemon configuration.
//
// Loading starts from DefaultConfig and overlays only the fields present in
// the YAML file, so a file that sets limits.high_torque_nm alone keeps every
// other default. The raw file is validated against an embedded JSON schema
// before it is decoded.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/monitor"
	"github.com/ppiankov/wheelguard/internal/policy"
)

// ServerConfig holds the listener addresses.
type ServerConfig struct {
	// Listen is the gRPC operator API address.
	Listen string `yaml:"listen" json:"listen"`
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// StorageConfig holds the on-disk locations.
type StorageConfig struct {
	AuditLog       string        `yaml:"audit_log" json:"audit_log"`
	FaultDB        string        `yaml:"fault_db" json:"fault_db"`
	FaultRetention time.Duration `yaml:"fault_retention" json:"fault_retention"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the complete daemon configuration.
type Config struct {
	Limits    policy.Limits    `yaml:"limits" json:"limits"`
	Interlock interlock.Config `yaml:"interlock" json:"interlock"`
	Loop      monitor.Config   `yaml:"loop" json:"loop"`
	Server    ServerConfig     `yaml:"server" json:"server"`
	Storage   StorageConfig    `yaml:"storage" json:"storage"`
	Log       LogConfig        `yaml:"log" json:"log"`
}

// DefaultListen is the gRPC address used when none is configured.
const DefaultListen = "127.0.0.1:9741"

// DefaultDir returns ~/.wheelguard, or a temp directory when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "wheelguard")
	}
	return filepath.Join(home, ".wheelguard")
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "wheelguard.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	dir := DefaultDir()
	return &Config{
		Limits:    policy.DefaultLimits(),
		Interlock: interlock.DefaultConfig(),
		Loop:      monitor.DefaultConfig(),
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		Storage: StorageConfig{
			AuditLog:       filepath.Join(dir, "safety.jsonl"),
			FaultDB:        filepath.Join(dir, "faults.db"),
			FaultRetention: 90 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the limits and the interlock timing.
func (c *Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if c.Interlock.ComboHoldDuration >= interlock.ChallengeWindow {
		return fmt.Errorf("interlock: combo_hold (%s) must be shorter than the %s challenge window",
			c.Interlock.ComboHoldDuration, interlock.ChallengeWindow)
	}
	if c.Interlock.HandsOffTimeout < 0 || c.Interlock.MinFaultDwell < 0 {
		return errors.New("interlock: durations must not be negative")
	}
	if c.Server.Listen == "" {
		return errors.New("server: listen address is required")
	}
	return nil
}

// Hash returns "sha256:<hex>" of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Load reads the config at path and returns it with the SHA-256 of the
// raw file. An empty path means DefaultPath. A missing file yields the
// defaults and the hash of empty input.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), Hash(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, Hash(data), nil
}

// Parse validates data against the schema and overlays it on the defaults.
func Parse(data []byte) (*Config, error) {
	if err := ValidateWithSchema(data); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
