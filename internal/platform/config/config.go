// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/fwintner/marketpulse/internal/domain"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`

	// Subjects is the fixed, ordered set of tracked commodities.
	Subjects       string `env:"SUBJECTS" default:"Wheat,Corn,Soybeans,Sugar,Coffee,Cotton"`
	DefaultContext string `env:"DEFAULT_CONTEXT" default:"domestic"`

	// RefreshInterval is the background scheduler period: one subject is
	// refreshed per interval regardless of how many are tracked.
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" default:"45s"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" default:"90s"`

	MaxWebSocketClients int `env:"MAX_WEBSOCKET_CLIENTS" default:"100"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if len(cfg.SubjectList()) == 0 {
		return fmt.Errorf("SUBJECTS must name at least one commodity")
	}
	if _, err := domain.ParseAnalysisContext(cfg.DefaultContext); err != nil {
		return fmt.Errorf("DEFAULT_CONTEXT: %w", err)
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	return nil
}

// SubjectList parses the comma-separated subject set, preserving order and
// dropping empty entries.
func (c *Config) SubjectList() []domain.Subject {
	parts := strings.Split(c.Subjects, ",")
	subjects := make([]domain.Subject, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		subjects = append(subjects, domain.Subject(p))
	}
	return subjects
}
