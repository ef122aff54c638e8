package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string `yaml:"port"          env:"PORT"          envDefault:"3001"`
	Environment  string `yaml:"environment"   env:"ENVIRONMENT"   envDefault:"development"`
	LogLevel     string `yaml:"log_level"     env:"LOG_LEVEL"     envDefault:"info"`
	StoreDSN     string `yaml:"store_dsn"     env:"STORE_DSN"     envDefault:"sqlite://./database.db"`
	CORSOrigin   string `yaml:"cors_origin"   env:"CORS_ORIGIN"   envDefault:"http://localhost:3000"`
	RedisURL     string `yaml:"redis_url"     env:"REDIS_URL"`
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`

	// The API key is only ever held in memory.
	OpenRouterAPIKey  string        `yaml:"-"                   env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string        `yaml:"openrouter_base_url" env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	ModelName         string        `yaml:"model_name"          env:"MODEL_NAME"          envDefault:"google/gemini-2.5-flash"`
	SiteURL           string        `yaml:"site_url"            env:"SITE_URL"            envDefault:"http://localhost:3000"`
	SiteName          string        `yaml:"site_name"           env:"SITE_NAME"           envDefault:"MicroSim Family"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"         env:"LLM_TIMEOUT"         envDefault:"120s"`
	ActTimeout        time.Duration `yaml:"act_timeout"         env:"ACT_TIMEOUT"         envDefault:"2m"`
}

// Load reads the optional YAML file at path, then applies environment
// variables on top. Defaults fill whatever neither source set.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{SetDefaultsForZeroValuesOnly: true}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("port is required")
	}
	if !strings.Contains(c.StoreDSN, "://") {
		return fmt.Errorf("store DSN %q must include a scheme", c.StoreDSN)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("llm timeout must be positive")
	}
	if c.ActTimeout <= 0 {
		return fmt.Errorf("act timeout must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
