// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/dagnode"
	"github.com/bureau-foundation/carextract/lib/extract"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BUREAU_CAR_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for bureau-car.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Extract configures the extraction engine.
	Extract ExtractConfig `yaml:"extract"`

	// Reader configures archive decoding limits.
	Reader ReaderConfig `yaml:"reader"`

	// Logging configures the command logger.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Extract *ExtractOverrides `yaml:"extract,omitempty"`
	Reader  *ReaderConfig     `yaml:"reader,omitempty"`
	Logging *LoggingConfig    `yaml:"logging,omitempty"`
}

// ExtractConfig configures the extraction engine.
type ExtractConfig struct {
	// Workers bounds concurrent file writes. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Verify checks every block against its identifier before use.
	// Default: true
	Verify bool `yaml:"verify"`

	// Strict aborts on integrity and size mismatches instead of
	// skipping the affected file.
	// Default: false (development), true (production)
	Strict bool `yaml:"strict"`

	// DefaultName is the file name for an archive whose root is a
	// single file.
	// Default: file
	DefaultName string `yaml:"default_name"`

	// MaxDepth bounds DAG nesting.
	// Default: 512
	MaxDepth int `yaml:"max_depth"`

	// Output is the destination used when a command is given none.
	// Supports ${VAR} expansion.
	Output string `yaml:"output"`
}

// ExtractOverrides mirrors ExtractConfig with pointer booleans, so an
// override can set verify or strict to false.
type ExtractOverrides struct {
	Workers     int    `yaml:"workers,omitempty"`
	Verify      *bool  `yaml:"verify,omitempty"`
	Strict      *bool  `yaml:"strict,omitempty"`
	DefaultName string `yaml:"default_name,omitempty"`
	MaxDepth    int    `yaml:"max_depth,omitempty"`
	Output      string `yaml:"output,omitempty"`
}

// ReaderConfig configures archive decoding limits.
type ReaderConfig struct {
	// MaxFrameSize bounds a single block frame in bytes.
	// Default: 32 MiB
	MaxFrameSize int64 `yaml:"max_frame_size"`

	// MaxHeaderSize bounds the archive header in bytes.
	// Default: 32 MiB
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// LoggingConfig configures the command logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is one of auto, text, json. Auto selects text on a
	// terminal and JSON otherwise.
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Extract: ExtractConfig{
			Verify:      true,
			DefaultName: extract.DefaultName,
			MaxDepth:    extract.DefaultMaxDepth,
		},
		Reader: ReaderConfig{
			MaxFrameSize:  car.DefaultMaxFrameSize,
			MaxHeaderSize: car.DefaultMaxHeaderSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the BUREAU_CAR_CONFIG environment
// variable. It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your bureau-car config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the stripped document decodes
		// through the same struct tags.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: mismatches abort.
		if overrides == nil {
			strict := true
			overrides = &ConfigOverrides{
				Extract: &ExtractOverrides{Strict: &strict},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Extract != nil {
		if overrides.Extract.Workers != 0 {
			c.Extract.Workers = overrides.Extract.Workers
		}
		if overrides.Extract.Verify != nil {
			c.Extract.Verify = *overrides.Extract.Verify
		}
		if overrides.Extract.Strict != nil {
			c.Extract.Strict = *overrides.Extract.Strict
		}
		if overrides.Extract.DefaultName != "" {
			c.Extract.DefaultName = overrides.Extract.DefaultName
		}
		if overrides.Extract.MaxDepth != 0 {
			c.Extract.MaxDepth = overrides.Extract.MaxDepth
		}
		if overrides.Extract.Output != "" {
			c.Extract.Output = overrides.Extract.Output
		}
	}

	if overrides.Reader != nil {
		if overrides.Reader.MaxFrameSize != 0 {
			c.Reader.MaxFrameSize = overrides.Reader.MaxFrameSize
		}
		if overrides.Reader.MaxHeaderSize != 0 {
			c.Reader.MaxHeaderSize = overrides.Reader.MaxHeaderSize
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Extract.Output = expandVars(c.Extract.Output, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Extract.Workers < 0 {
		errs = append(errs, fmt.Errorf("extract.workers must not be negative"))
	}
	if c.Extract.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("extract.max_depth must be at least 1"))
	}
	if err := dagnode.ValidateName(c.Extract.DefaultName); err != nil {
		errs = append(errs, fmt.Errorf("extract.default_name: %w", err))
	}

	if c.Reader.MaxFrameSize < 1 {
		errs = append(errs, fmt.Errorf("reader.max_frame_size must be positive"))
	}
	if c.Reader.MaxHeaderSize < 1 {
		errs = append(errs, fmt.Errorf("reader.max_header_size must be positive"))
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel returns the configured level. Validate rejects unknown
// names; an unvalidated unknown name yields info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ExtractOptions returns extraction options for mode carrying the
// configured engine and reader settings. The caller fills in the
// pattern or target and the logger.
func (c *Config) ExtractOptions(mode extract.Mode) extract.Options {
	return extract.Options{
		Mode:        mode,
		Verify:      c.Extract.Verify,
		Strict:      c.Extract.Strict,
		Workers:     c.Extract.Workers,
		DefaultName: c.Extract.DefaultName,
		MaxDepth:    c.Extract.MaxDepth,
		ReaderOptions: []car.ReaderOption{
			car.WithMaxFrameSize(c.Reader.MaxFrameSize),
			car.WithMaxHeaderSize(c.Reader.MaxHeaderSize),
		},
	}
}
