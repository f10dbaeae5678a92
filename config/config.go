package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/clipforge/governor/internal/service"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Governed service credentials, checked for shape at startup and
	// watched by the secret scanner afterwards.
	ServiceKeys map[service.Identity]string

	// Governance
	Thresholds      service.Table
	AlertWebhookURL string // empty means log-only alerts

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // admission checks per worker per minute, default: 300
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		ServiceKeys: map[service.Identity]string{
			service.TextGeneration:    os.Getenv("ANTHROPIC_API_KEY"),
			service.TextGenerationAlt: os.Getenv("OPENAI_API_KEY"),
			service.SpeechSynthesis:   os.Getenv("ELEVENLABS_API_KEY"),
			service.AvatarVideo:       os.Getenv("HEYGEN_API_KEY"),
			service.SpeechToText:      os.Getenv("WHISPER_API_KEY"),
		},
		AlertWebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	// Threshold table: built-in defaults, optional JSON override.
	cfg.Thresholds = service.DefaultTable()
	if path := os.Getenv("THRESHOLDS_PATH"); path != "" {
		table, err := service.LoadTable(path)
		if err != nil {
			return nil, err
		}
		cfg.Thresholds = table
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold table: %w", err)
	}

	// Rate Limiting Default
	rpmStr := getEnv("DEFAULT_RATE_LIMIT_RPM", "300")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
