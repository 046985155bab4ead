package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"

	"token_swap/internal/domain"

	"gopkg.in/yaml.v3"
)

// DefaultDeploymentID is the fixed key the settlement records are stored under.
const DefaultDeploymentID = "swap_state"

// Config holds all application settings.
// LoadConfig reads the YAML file first, then lets environment variables
// override the deployment-specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Deployment struct {
		ID string `yaml:"id"`
	} `yaml:"deployment"`

	Storage struct {
		Path string `yaml:"path"` // Empty: per-user config dir
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"` // Empty: stderr only
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Metrics struct {
		Listen string `yaml:"listen"` // Empty: metrics endpoint disabled
	} `yaml:"metrics"`

	Sequencer struct {
		InboxSize int    `yaml:"inbox_size"`
		DumpPath  string `yaml:"dump_path"`
	} `yaml:"sequencer"`
}

// DefaultConfig returns the built-in defaults, without environment overrides.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadDefaults is the configuration used when no file is present: the
// built-in defaults with the same environment overrides LoadConfig applies.
func LoadDefaults() (*Config, error) {
	cfg := DefaultConfig()
	overrideWithEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)

	// Environment wins over the file
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "swapd"
	}
	if cfg.Deployment.ID == "" {
		cfg.Deployment.ID = DefaultDeploymentID
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = "swapd.log"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
	if cfg.Sequencer.InboxSize == 0 {
		cfg.Sequencer.InboxSize = 1024
	}
	if cfg.Sequencer.DumpPath == "" {
		cfg.Sequencer.DumpPath = "panic_dump.json"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Deployment.ID) == "" {
		return &domain.ConfigError{Field: "deployment.id", Err: errors.New("must not be empty")}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return &domain.ConfigError{Field: "logging", Err: errors.New("rotation limits must not be negative")}
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return &domain.ConfigError{Field: "metrics.listen", Err: err}
		}
	}

	if c.Sequencer.InboxSize < 0 {
		return &domain.ConfigError{Field: "sequencer.inbox_size", Err: errors.New("must be positive")}
	}

	return nil
}

// overrideWithEnv replaces values when the matching environment variable is set.
func overrideWithEnv(cfg *Config) {
	if id := os.Getenv("SWAP_DEPLOYMENT_ID"); id != "" {
		cfg.Deployment.ID = id
	}
	if path := os.Getenv("SWAP_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if level := os.Getenv("SWAP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if listen := os.Getenv("SWAP_METRICS_LISTEN"); listen != "" {
		cfg.Metrics.Listen = listen
	}
}
