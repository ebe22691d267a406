// ABOUTME: Configuration loading and parsing for the quotechat clients.
// ABOUTME: YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Client   ClientConfig   `yaml:"client"`
	Database DatabaseConfig `yaml:"database"`
	Delays   DelaysConfig   `yaml:"delays"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BackendConfig points at the quoting backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// ClientConfig holds client identification and download settings.
type ClientConfig struct {
	// UserAgent is recorded by the backend on session creation.
	UserAgent string `yaml:"user_agent"`
	// DownloadDir is where policy PDFs are saved. Defaults to the working
	// directory.
	DownloadDir string `yaml:"download_dir"`
}

// DatabaseConfig holds the local recent-session database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DelaysConfig holds the presentation delays. Each may be set to "0s" to
// disable; leaving one unset keeps its default.
type DelaysConfig struct {
	TypingReveal time.Duration `yaml:"-"`
	Settlement   time.Duration `yaml:"-"`
	Completion   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TypingRevealRaw string `yaml:"typing_reveal"`
	SettlementRaw   string `yaml:"settlement"`
	CompletionRaw   string `yaml:"completion"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 30 * time.Second,
		},
		Client: ClientConfig{
			UserAgent: "quotechat/1.0",
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath(),
		},
		Delays: DelaysConfig{
			TypingReveal: 500 * time.Millisecond,
			Settlement:   2 * time.Second,
			Completion:   1500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file and returns a parsed Config layered over
// the defaults. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns defaults.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// DefaultPath returns the XDG location of the config file.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "quotechat.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "quotechat", "config.yaml")
}

// DefaultDatabasePath returns the XDG location of the recent-session
// database.
func DefaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "quotechat.db"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "quotechat", "sessions.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty raws keep the defaults so "0s" can explicitly disable a delay.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.request_timeout", cfg.Backend.RequestTimeoutRaw, &cfg.Backend.RequestTimeout},
		{"delays.typing_reveal", cfg.Delays.TypingRevealRaw, &cfg.Delays.TypingReveal},
		{"delays.settlement", cfg.Delays.SettlementRaw, &cfg.Delays.Settlement},
		{"delays.completion", cfg.Delays.CompletionRaw, &cfg.Delays.Completion},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
