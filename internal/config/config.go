package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the live translation relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool
	LogLevel       string
	LogPretty      bool

	// Speech-to-text provider (Deepgram realtime).
	DeepgramAPIKey string
	DeepgramModel  string

	// Translation provider (OpenAI-compatible chat completions).
	TranslateAPIKey     string
	TranslateBaseURL    string
	TranslateFastModel  string
	TranslateStyleModel string
	TranslateTimeout    time.Duration
	StyleMaxAge         time.Duration

	// Usage/user persistence; empty URL falls back to in-memory.
	DatabaseURL string

	// Transcriber timer windows.
	UsageTickInterval time.Duration
	KeepAliveInterval time.Duration
	PauseAutoClose    time.Duration

	// Per-client orchestrator state eviction.
	ClientTTL     time.Duration
	SweepInterval time.Duration
}

// Load reads environment variables and applies safe defaults.
// A .env file is honored when present, mirroring local dev setups.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":4000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "speakfluent"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		DeepgramAPIKey:   stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramModel:    envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		TranslateAPIKey:  stringsTrimSpace("GPT_API_KEY"),
		TranslateBaseURL: envOrDefault("TRANSLATE_BASE_URL", "https://api.openai.com/v1"),
		// Fast model for per-sentence translation, stronger model for style profiling.
		TranslateFastModel:  envOrDefault("TRANSLATE_FAST_MODEL", "gpt-4o-mini"),
		TranslateStyleModel: envOrDefault("TRANSLATE_STYLE_MODEL", "gpt-4o"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		TranslateTimeout:    15 * time.Second,
		StyleMaxAge:         60 * time.Second,
		UsageTickInterval:   time.Second,
		KeepAliveInterval:   5 * time.Second,
		PauseAutoClose:      50 * time.Second,
		ClientTTL:           5 * time.Minute,
		SweepInterval:       60 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TranslateTimeout, err = durationFromEnv("TRANSLATE_TIMEOUT", cfg.TranslateTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StyleMaxAge, err = durationFromEnv("STYLE_MAX_AGE", cfg.StyleMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.PauseAutoClose, err = durationFromEnv("PAUSE_AUTO_CLOSE", cfg.PauseAutoClose)
	if err != nil {
		return Config{}, err
	}
	cfg.ClientTTL, err = durationFromEnv("CLIENT_TTL", cfg.ClientTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("CLIENT_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogPretty, err = boolFromEnv("APP_LOG_PRETTY", cfg.LogPretty)
	if err != nil {
		return Config{}, err
	}

	if cfg.TranslateTimeout < time.Second {
		return Config{}, fmt.Errorf("TRANSLATE_TIMEOUT must be at least 1s")
	}
	if cfg.PauseAutoClose < cfg.KeepAliveInterval {
		return Config{}, fmt.Errorf("PAUSE_AUTO_CLOSE must be longer than the keep-alive interval")
	}
	if cfg.ClientTTL < cfg.SweepInterval {
		return Config{}, fmt.Errorf("CLIENT_TTL must be at least CLIENT_SWEEP_INTERVAL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
