// Package config loads server settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr           string   `env:"ADDR" envDefault:":8080"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	LogDev         bool     `env:"LOG_DEV" envDefault:"false"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"game.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	LLM LLM

	HumanTurnTimeout   time.Duration `env:"HUMAN_TURN_TIMEOUT" envDefault:"60s"`
	TypingDelayPerChar time.Duration `env:"TYPING_DELAY_PER_CHAR" envDefault:"100ms"`
	TypingDelayMin     time.Duration `env:"TYPING_DELAY_MIN" envDefault:"200ms"`
	TypingDelayMax     time.Duration `env:"TYPING_DELAY_MAX" envDefault:"2400ms"`
}

type LLM struct {
	BaseURL            string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey             string        `env:"LLM_API_KEY"`
	SpeakerModel       string        `env:"LLM_MODEL_SPEAKER" envDefault:"gpt-4o-mini"`
	JudgeModel         string        `env:"LLM_MODEL_JUDGE" envDefault:"gpt-4o-mini"`
	Timeout            time.Duration `env:"LLM_TIMEOUT" envDefault:"15s"`
	MaxRetries         int           `env:"LLM_MAX_RETRIES" envDefault:"2"`
	SpeakerMaxTokens   int           `env:"LLM_MAX_TOKENS_SPEAKER" envDefault:"128"`
	JudgeMaxTokens     int           `env:"LLM_MAX_TOKENS_JUDGE" envDefault:"128"`
	SpeakerTemperature float64       `env:"LLM_TEMPERATURE_SPEAKER" envDefault:"0.9"`
	JudgeTemperature   float64       `env:"LLM_TEMPERATURE_JUDGE" envDefault:"0.2"`
}

// Load reads dotenvPath if it exists, then parses and validates the
// environment. Variables already set win over the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for sqlite")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if c.HumanTurnTimeout <= 0 {
		return errors.New("HUMAN_TURN_TIMEOUT must be positive")
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return errors.New("LLM_MAX_RETRIES must not be negative")
	}
	if c.TypingDelayMin < 0 || c.TypingDelayPerChar < 0 {
		return errors.New("typing delays must not be negative")
	}
	if c.TypingDelayMin > c.TypingDelayMax {
		return errors.New("TYPING_DELAY_MIN must not exceed TYPING_DELAY_MAX")
	}
	return nil
}
