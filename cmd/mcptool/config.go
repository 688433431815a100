package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/observability"
)

// Config is the mcptool configuration file layout.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`

	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	AllowedOrigins    []string      `yaml:"allowed_origins"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type AuthConfig struct {
	BearerTokens []CredentialConfig `yaml:"bearer_tokens"`
	APIKeys      []CredentialConfig `yaml:"api_keys"`
}

// CredentialConfig binds one secret to a principal.
type CredentialConfig struct {
	Secret string   `yaml:"secret"`
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Scopes []string `yaml:"scopes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	Exporter   string            `yaml:"exporter"`
	Endpoint   string            `yaml:"endpoint"`
	Headers    map[string]string `yaml:"headers"`
	Insecure   bool              `yaml:"insecure"`
	SampleRate float64           `yaml:"sample_rate"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:              "mcptool",
			Version:           version,
			Listen:            ":8000",
			Path:              "/mcp/v1/mcp",
			SessionTTL:        30 * time.Minute,
			HeartbeatInterval: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{Exporter: "none", SampleRate: 0.1},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns
// the defaults untouched.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

func (c Config) buildLogger() (logging.Logger, error) {
	var formatter logging.Formatter
	switch c.Log.Format {
	case "", "text":
		formatter = logging.NewTextFormatter()
	case "json":
		formatter = logging.NewJSONFormatter()
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	logger := logging.New(os.Stderr, formatter)
	switch c.Log.Level {
	case "debug":
		logger.SetLevel(logging.LevelDebug)
	case "", "info":
		logger.SetLevel(logging.LevelInfo)
	case "warn", "warning":
		logger.SetLevel(logging.LevelWarn)
	case "error":
		logger.SetLevel(logging.LevelError)
	default:
		return nil, fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return logger, nil
}

func (c Config) tracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    c.Server.Name,
		ServiceVersion: c.Server.Version,
		Exporter:       observability.ExporterKind(c.Tracing.Exporter),
		Endpoint:       c.Tracing.Endpoint,
		Headers:        c.Tracing.Headers,
		Insecure:       c.Tracing.Insecure,
		SampleRate:     c.Tracing.SampleRate,
	}
}
