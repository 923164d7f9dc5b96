package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	TargetName        string        `yaml:"target_name" default:"MIO GLOBAL"`
	MotorDelay        time.Duration `yaml:"motor_delay" default:"10ms"`
	PowerPollInterval time.Duration `yaml:"power_poll_interval" default:"2s"`
	EventBuffer       int           `yaml:"event_buffer" default:"128"`
	LogLevel          string        `yaml:"log_level" default:"info"`
	Color             string        `yaml:"color" default:"auto"`
	Output            string        `yaml:"output" default:"text"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.TargetName == "":
		return errors.New("target_name must not be empty")
	case c.MotorDelay < 0:
		return fmt.Errorf("motor_delay must not be negative, got %s", c.MotorDelay)
	case c.PowerPollInterval <= 0:
		return fmt.Errorf("power_poll_interval must be positive, got %s", c.PowerPollInterval)
	case c.EventBuffer <= 0:
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}

	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color must be auto, always or never, got %q", c.Color)
	}

	switch c.Output {
	case "text", "json":
	default:
		return fmt.Errorf("output must be text or json, got %q", c.Output)
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// NewLogger creates a configured logger instance writing to out
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if out != nil {
		logger.SetOutput(out)
	}

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
