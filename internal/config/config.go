// Package config loads the cloesce.yaml project configuration.
//
// Values are resolved in order: defaults, the YAML file (with ${VAR}
// expansion), then CLOESCE_* environment variables. Command line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "cloesce.yaml"

// Config is the project configuration.
type Config struct {
	Project string       `yaml:"project"`
	Source  SourceConfig `yaml:"source"`
	Output  OutputConfig `yaml:"output"`
	Watch   WatchConfig  `yaml:"watch"`
	Logging LogConfig    `yaml:"logging"`
}

// SourceConfig selects the packages the extractor reads.
type SourceConfig struct {
	Dir      string   `yaml:"dir"`
	Patterns []string `yaml:"patterns"`
}

// OutputConfig names the generated artifacts.
type OutputConfig struct {
	IDL    string `yaml:"idl"`
	Schema string `yaml:"schema"`
}

// WatchConfig tunes extract --watch.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads the file at path. A missing file is an error unless path is
// DefaultPath, in which case defaults and the environment apply.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies CLOESCE_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOESCE_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("CLOESCE_SOURCE_DIR"); v != "" {
		cfg.Source.Dir = v
	}
	if v := os.Getenv("CLOESCE_SOURCE_PATTERNS"); v != "" {
		cfg.Source.Patterns = splitList(v)
	}
	if v := os.Getenv("CLOESCE_OUTPUT_IDL"); v != "" {
		cfg.Output.IDL = v
	}
	if v := os.Getenv("CLOESCE_OUTPUT_SCHEMA"); v != "" {
		cfg.Output.Schema = v
	}
	if v := os.Getenv("CLOESCE_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Debounce = d
		}
	}
	if v := os.Getenv("CLOESCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CLOESCE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Source.Dir == "" {
		cfg.Source.Dir = "."
	}
	if len(cfg.Source.Patterns) == 0 {
		cfg.Source.Patterns = []string{"./..."}
	}
	if cfg.Output.IDL == "" {
		cfg.Output.IDL = ".generated/cidl.json"
	}
	if cfg.Output.Schema == "" {
		cfg.Output.Schema = ".generated/schema.sql"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 200 * time.Millisecond
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}

// Logger returns a slog logger writing to w as configured.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
