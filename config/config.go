// Package config - Loads the crowd risk configuration from YAML, .env files and the environment.
package config

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-crowdrisk/capture"
	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/nvr-ai/go-crowdrisk/onnx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CROWDRISK_"

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// StoreConfig locates the incident database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Config is the complete application configuration.
type Config struct {
	Source    capture.Config            `yaml:"source"`
	Detector  onnx.Config               `yaml:"detector"`
	Pipeline  controller.PipelineConfig `yaml:"pipeline"`
	Store     StoreConfig               `yaml:"store"`
	Session   controller.SessionConfig  `yaml:"session"`
	LogLevel  string                    `yaml:"log_level"`
	LogFormat string                    `yaml:"log_format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Source:    capture.DefaultConfig(),
		Detector:  onnx.DefaultConfig(),
		Pipeline:  controller.DefaultPipelineConfig(),
		Store:     StoreConfig{Path: "crowd_monitoring.db"},
		Session:   controller.DefaultSessionConfig(),
		LogLevel:  "info",
		LogFormat: LogFormatConsole,
	}
}

// Load builds the configuration in layers: defaults, then the YAML file at
// path (skipped when empty), then the environment. envFiles are loaded into
// the environment first with godotenv; variables already set win, and a
// missing file is ignored.
//
// Arguments:
//   - path: Optional YAML file.
//   - envFiles: Optional .env files.
//
// Returns:
//   - Config: The merged, validated configuration.
//   - error: An error if a file cannot be parsed or the result is invalid.
//
// @example
// cfg, err := config.Load("crowdrisk.yaml", ".env")
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return Config{}, errors.Wrapf(err, "load env file %s", file)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Source.Kind = capture.Kind(getEnv("SOURCE_KIND", string(c.Source.Kind)))
	c.Source.Device = getEnvAsInt("SOURCE_DEVICE", c.Source.Device)
	c.Source.Path = getEnv("SOURCE_PATH", c.Source.Path)
	c.Source.Width = getEnvAsInt("SOURCE_WIDTH", c.Source.Width)
	c.Source.Height = getEnvAsInt("SOURCE_HEIGHT", c.Source.Height)

	c.Detector.Backend = onnx.Backend(getEnv("DETECTOR_BACKEND", string(c.Detector.Backend)))
	c.Detector.Layout = onnx.Layout(getEnv("DETECTOR_LAYOUT", string(c.Detector.Layout)))
	c.Detector.ModelPath = getEnv("MODEL_PATH", c.Detector.ModelPath)
	c.Detector.ConfigPath = getEnv("MODEL_CONFIG_PATH", c.Detector.ConfigPath)
	c.Detector.SharedLibraryPath = getEnv("ORT_LIBRARY_PATH", c.Detector.SharedLibraryPath)
	c.Detector.Provider = onnx.Provider(getEnv("ORT_PROVIDER", string(c.Detector.Provider)))
	c.Detector.ConfidenceThreshold = getEnvAsFloat32("CONFIDENCE", c.Detector.ConfidenceThreshold)

	c.Pipeline.Tracker = controller.TrackerKind(getEnv("TRACKER", string(c.Pipeline.Tracker)))
	c.Store.Path = getEnv("DB_PATH", c.Store.Path)
	c.Session.MaxConsecutiveReadFailures = getEnvAsInt("MAX_READ_FAILURES", c.Session.MaxConsecutiveReadFailures)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks the parts of the configuration that do not touch the
// filesystem. Source and detector files are checked when they are opened.
func (c Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return errors.Wrap(err, "pipeline")
	}
	if c.Store.Path == "" {
		return errors.New("store path must not be empty")
	}
	if c.Session.IncidentQueueSize < 1 {
		return errors.Errorf("incident_queue_size must be positive, got %d", c.Session.IncidentQueueSize)
	}
	if c.Session.MaxConsecutiveReadFailures < 0 {
		return errors.Errorf("max_consecutive_read_failures must not be negative, got %d", c.Session.MaxConsecutiveReadFailures)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatConsole:
	default:
		return errors.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Logger builds the application logger writing to w.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.LogFormat == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}
