package director

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon settings that locate configuration, services and state
type Config struct {
	// ProviderDir holds one definition file per provider
	ProviderDir string `yaml:"provider_dir" validate:"required"`
	// SettingsFile holds the general settings (run-level aliases, initial run level)
	SettingsFile string `yaml:"settings_file" validate:"required"`
	// ServiceDir is where providers publish services
	ServiceDir string `yaml:"service_dir" validate:"required"`
	// ServiceCheck is "dir" (a path below ServiceDir) or "supervise" (a running runsv service)
	ServiceCheck string `yaml:"service_check" validate:"oneof=dir supervise"`
	// StateDir receives the re-exec checkpoint
	StateDir string `yaml:"state_dir" validate:"required"`
	// ProcRoot is the procfs mount point
	ProcRoot string `yaml:"proc_root" validate:"required"`
	// PollInterval is how often watched processes are probed
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=1ms"`
	// ConfigDebounce coalesces configuration file events
	ConfigDebounce time.Duration `yaml:"config_debounce" validate:"gte=0"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat is text or json
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
	// MetricsAddr serves Prometheus metrics when set
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// ConfigError reports which stage of loading a Config failed
type ConfigError struct {
	// Stage is "read", "decode" or "validate"
	Stage string
	// Path is the file being loaded
	Path string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Stage, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DefaultConfig returns the settings used when no file overrides them
func DefaultConfig() Config {
	return Config{
		ProviderDir:    "/etc/director/providers",
		SettingsFile:   "/etc/director/director.yaml",
		ServiceDir:     DefaultServiceDir,
		ServiceCheck:   ServiceCheckDir,
		StateDir:       DefaultStateDir,
		ProcRoot:       "/proc",
		PollInterval:   DefaultPollInterval,
		ConfigDebounce: DefaultConfigDebounce,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// LoadConfig reads a YAML config file over the defaults and validates the result.
// An empty path validates and returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, &ConfigError{Stage: "read", Path: path, Err: err}
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return cfg, &ConfigError{Stage: "decode", Path: path, Err: err}
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &ConfigError{Stage: "validate", Path: path, Err: err}
	}
	return cfg, nil
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// CheckpointPath is the file the re-exec checkpoint is written to
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.StateDir, "checkpoint")
}
