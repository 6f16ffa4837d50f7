package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Config is the process configuration, parsed from the environment.
// A .env file is loaded first when present (ignored in production
// deployments where the environment is injected directly).
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	Port        int    `env:"PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL"`
	TablePrefix string `env:"TABLE_PREFIX"`

	// LLM configuration
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"anthropic"`
	DefaultModel    string `env:"DEFAULT_MODEL" envDefault:"claude-sonnet-4-5-20250929"`
	MaxTokens       int    `env:"MAX_TOKENS" envDefault:"8192"`

	// Orchestration limits
	MaxTurns        int           `env:"MAX_TURNS" envDefault:"25"`
	MaxSpeakRetries int           `env:"MAX_SPEAK_RETRIES" envDefault:"3"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`

	// Response cache
	CacheDir    string        `env:"CACHE_DIR" envDefault:".codeloom/cache"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"72h"`
	IgnoreCache bool          `env:"IGNORE_CACHE" envDefault:"false"`

	// Project
	ProjectRoot     string   `env:"PROJECT_ROOT" envDefault:"."`
	ToolManifest    string   `env:"TOOL_MANIFEST" envDefault:"tools.yaml"`
	AllowedCommands []string `env:"ALLOWED_COMMANDS" envSeparator:"," envDefault:"ls,cat,git,go"`

	// Logging
	LogDir      string `env:"LOG_DIR" envDefault:".codeloom/logs"`
	MaxLogFiles int    `env:"MAX_LOG_FILES" envDefault:"10"`
}

// Load reads the environment into a Config. The .env file is optional.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.TablePrefix == "" {
		cfg.TablePrefix = tablePrefix(cfg.Environment)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the constraints the env tag defaults cannot express.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment, validation.In("dev", "test", "prod")),
		validation.Field(&c.DefaultProvider, validation.In("anthropic", "openai")),
		validation.Field(&c.MaxTurns, validation.Min(1)),
		validation.Field(&c.MaxSpeakRetries, validation.Min(1)),
	)
}

// tablePrefix keeps dev and test data apart in a shared database.
// Production uses the unprefixed tables owned by the versioned
// migrations.
func tablePrefix(environment string) string {
	switch environment {
	case "prod":
		return ""
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}
