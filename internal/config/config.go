package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/promptlift/internal/cache/redis"
	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/metrics"
	"github.com/davidbz/promptlift/internal/observability"
	"github.com/davidbz/promptlift/internal/provider/openai"
	"github.com/davidbz/promptlift/internal/registry"
)

const (
	// ProviderOpenAI selects the OpenAI-compatible backend.
	ProviderOpenAI = "openai"
	// ProviderEcho selects the in-process echo backend.
	ProviderEcho = "echo"
)

// Config represents the gateway configuration. It is read once at startup
// and never mutated afterwards.
type Config struct {
	Server   ServerConfig
	CORS     CORSConfig
	Backend  BackendConfig
	Expander domain.ExpanderConfig
	Models   registry.Config
	Log      observability.LogConfig
	Metrics  metrics.Config
	Cache    redis.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int   `env:"SERVER_PORT"             envDefault:"8080"`
	ReadTimeout     int   `env:"SERVER_READ_TIMEOUT"     envDefault:"30"`
	WriteTimeout    int   `env:"SERVER_WRITE_TIMEOUT"    envDefault:"0"`
	ShutdownTimeout int   `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15"`
	MaxBodyBytes    int64 `env:"SERVER_MAX_BODY_BYTES"   envDefault:"1048576"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"false"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// BackendConfig selects and configures the completion backend.
type BackendConfig struct {
	Provider string `env:"BACKEND_PROVIDER" envDefault:"openai"`
	OpenAI   openai.Config
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	Server   *ServerConfig
	CORS     *CORSConfig
	Backend  *BackendConfig
	Expander *domain.ExpanderConfig
	Models   *registry.Config
	Log      *observability.LogConfig
	Metrics  *metrics.Config
	Cache    *redis.Config
}

// Load loads environment files and parses configuration.
func Load() (*Config, error) {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration that would make the process unusable.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case ProviderOpenAI:
		if c.Backend.OpenAI.APIKey == "" {
			return errors.New("BACKEND_API_KEY is required for the openai provider")
		}
	case ProviderEcho:
	default:
		return fmt.Errorf("unknown backend provider %q", c.Backend.Provider)
	}

	if err := c.Expander.Validate(); err != nil {
		return err
	}

	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	return nil
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Backend,
		&cfg.Expander,
		&cfg.Models,
		&cfg.Log,
		&cfg.Metrics,
		&cfg.Cache,
	}
}
