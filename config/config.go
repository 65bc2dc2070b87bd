// Package config loads linepipe settings from flags, environment and
// an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is a prefix of environment variables, e.g.
// LINEPIPE_PLUGIN_DIR for plugin_dir.
const EnvPrefix = "LINEPIPE"

// legacyTypewriterDelay is a delay in microseconds.
const legacyTypewriterDelay = "TYPEWRITER_DELAY_US"

// Config holds all settings.
type Config struct {
	// PluginDir is scanned for <name>.so shared objects.
	PluginDir string `mapstructure:"plugin_dir"`
	// OutputDir and LogFile define where the logger plugin appends lines.
	OutputDir string `mapstructure:"output_dir"`
	LogFile   string `mapstructure:"log_file"`
	// TypewriterDelay is a pause between characters of typewriter plugin.
	TypewriterDelay time.Duration `mapstructure:"typewriter_delay"`
	LogLevel        string        `mapstructure:"log_level"`
	// MetricsAddr enables prometheus endpoint if not empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		PluginDir:       "build/plugins",
		OutputDir:       "output",
		LogFile:         "pipeline.log",
		TypewriterDelay: 100 * time.Millisecond,
		LogLevel:        "info",
	}
}

// SetDefaults registers defaults and environment binding in v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()
	v.SetDefault("plugin_dir", defaults.PluginDir)
	v.SetDefault("output_dir", defaults.OutputDir)
	v.SetDefault("log_file", defaults.LogFile)
	v.SetDefault("typewriter_delay", defaults.TypewriterDelay)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads config file if it's set and unmarshals settings.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := applyLegacyEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honours TYPEWRITER_DELAY_US unless delay is set
// explicitly.
func applyLegacyEnv(v *viper.Viper) error {
	s, ok := os.LookupEnv(legacyTypewriterDelay)
	if !ok || v.InConfig("typewriter_delay") {
		return nil
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_TYPEWRITER_DELAY"); ok {
		return nil
	}
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil || us < 0 {
		return fmt.Errorf("invalid %s value %q", legacyTypewriterDelay, s)
	}
	v.Set("typewriter_delay", time.Duration(us)*time.Microsecond)
	return nil
}

// Validate checks settings.
func (c *Config) Validate() error {
	var errs []error
	if c.TypewriterDelay < 0 {
		errs = append(errs, fmt.Errorf("typewriter_delay must not be negative: %v", c.TypewriterDelay))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFile == "" {
		errs = append(errs, errors.New("log_file must not be empty"))
	}
	return errors.Join(errs...)
}
