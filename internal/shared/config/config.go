package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	AWSRegion   string

	CORSAllowOrigin []string
	WriteRate       float64
	WriteBurst      int

	QueueURL               string
	QueueVisibilitySeconds int
	ShutdownTimeout        time.Duration

	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	SweepSchedule    string
	SweepConcurrency int

	Pipeline Pipeline
}

// Load reads configuration from the environment, local env files, and the optional
// pipeline YAML file named by RADAR_PIPELINE_FILE.
func Load() (Config, error) {
	loadEnvFiles(".env", "cmd/.env")

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    normalizeEnv(getEnv("ENV", "dev")),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		AWSRegion:              getEnv("AWS_REGION", "us-east-1"),
		CORSAllowOrigin:        splitList(getEnv("CORS_ALLOW_ORIGIN", "http://localhost:5173")),
		WriteRate:              getEnvFloat("RADAR_WRITE_RATE_PER_SECOND", 1),
		WriteBurst:             getEnvInt("RADAR_WRITE_BURST", 5),
		QueueURL:               strings.TrimSpace(os.Getenv("RADAR_SQS_QUEUE_URL")),
		QueueVisibilitySeconds: getEnvInt("RADAR_SQS_VISIBILITY_TIMEOUT_SECONDS", 1200),
		ShutdownTimeout:        time.Duration(getEnvInt("RADAR_SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:            getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:          os.Getenv("OPENAI_BASE_URL"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:         getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		AnthropicBaseURL:       os.Getenv("ANTHROPIC_BASE_URL"),
		SweepSchedule:          getEnv("RADAR_SWEEP_SCHEDULE", "0 3 * * *"),
		SweepConcurrency:       getEnvInt("RADAR_SWEEP_CONCURRENCY", 4),
	}

	pipeline, err := LoadPipeline(os.Getenv("RADAR_PIPELINE_FILE"))
	if err != nil {
		return Config{}, err
	}
	cfg.Pipeline = pipeline

	if cfg.Env == "production" && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required in production")
	}
	return cfg, nil
}

// IsDevLike reports whether in-memory fallbacks are allowed.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
