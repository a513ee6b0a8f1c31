package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the emotion chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string

	JWTSecret      string
	AllowAnonymous bool

	SessionMaxTurns   int
	IdleTimeout       time.Duration
	SendBuffer        int
	HeartbeatInterval time.Duration
	StreamTimeout     time.Duration
	RecommendTimeout  time.Duration
	HistoryTurns      int
	MaxUserTextBytes  int
	SoftTimeoutTurns  int

	LeakGuardNGram    int
	LeakGuardMinMatch int
	LeakGuardMode     string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	LLMModel        string
	LLMBackupModels []string
	LLMMaxTokens    int
	LLMTemperature  float64
	RecommendModel  string

	PromptDir        string
	ActivityKeywords []string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "deepme"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		JWTSecret:        envTrimmed("JWT_SECRET"),

		ShutdownTimeout:   15 * time.Second,
		SessionMaxTurns:   20,
		IdleTimeout:       120 * time.Second,
		SendBuffer:        20,
		HeartbeatInterval: 15 * time.Second,
		StreamTimeout:     75 * time.Second,
		RecommendTimeout:  15 * time.Second,
		HistoryTurns:      8,
		MaxUserTextBytes:  8 * 1024,
		SoftTimeoutTurns:  3,

		LeakGuardNGram:    20,
		LeakGuardMinMatch: 3,
		LeakGuardMode:     envOrDefault("LEAK_GUARD_MODE", "mask"),

		OpenAIAPIKey:   envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:  envTrimmed("OPENAI_BASE_URL"),
		LLMModel:       envOrDefault("LLM_MODEL", "gpt-5-mini"),
		LLMMaxTokens:   800,
		LLMTemperature: 0.7,
		RecommendModel: envOrDefault("RECOMMEND_MODEL", "gpt-4o-mini"),

		PromptDir: envOrDefault("PROMPT_DIR", "resources"),
	}

	cfg.LLMBackupModels = splitCSV(envOrDefault("LLM_BACKUP_MODELS", "gpt-4o-mini,gpt-4o"))
	cfg.ActivityKeywords = splitCSV(os.Getenv("ACTIVITY_KEYWORDS"))

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleTimeout, err = durationFromEnv("WS_IDLE_TIMEOUT", cfg.IdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("WS_HEARTBEAT", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamTimeout, err = durationFromEnv("LLM_STREAM_TIMEOUT", cfg.StreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RecommendTimeout, err = durationFromEnv("RECOMMEND_TIMEOUT", cfg.RecommendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxTurns, err = intFromEnv("SESSION_MAX_TURNS", cfg.SessionMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.SendBuffer, err = intFromEnv("WS_SEND_BUFFER", cfg.SendBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryTurns, err = intFromEnv("WS_HISTORY_TURNS", cfg.HistoryTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUserTextBytes, err = intFromEnv("WS_MAX_USER_TEXT_LEN", cfg.MaxUserTextBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.SoftTimeoutTurns, err = intFromEnv("SOFT_TIMEOUT_TURNS", cfg.SoftTimeoutTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.LeakGuardNGram, err = intFromEnv("LEAK_GUARD_NGRAM", cfg.LeakGuardNGram)
	if err != nil {
		return Config{}, err
	}
	cfg.LeakGuardMinMatch, err = intFromEnv("LEAK_GUARD_MIN_MATCH", cfg.LeakGuardMinMatch)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnonymous, err = boolFromEnv("APP_ALLOW_ANONYMOUS", cfg.AllowAnonymous)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}

	// Keep the prompt context bounded regardless of how the env was set.
	if cfg.HistoryTurns < 5 {
		cfg.HistoryTurns = 5
	}
	if cfg.HistoryTurns > 10 {
		cfg.HistoryTurns = 10
	}

	if cfg.IdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("WS_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.SendBuffer <= 0 {
		return Config{}, fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if cfg.MaxUserTextBytes <= 0 {
		return Config{}, fmt.Errorf("WS_MAX_USER_TEXT_LEN must be positive")
	}
	if cfg.LeakGuardNGram < 4 {
		return Config{}, fmt.Errorf("LEAK_GUARD_NGRAM must be at least 4")
	}
	if cfg.LeakGuardMinMatch <= 0 {
		return Config{}, fmt.Errorf("LEAK_GUARD_MIN_MATCH must be positive")
	}
	switch cfg.LeakGuardMode {
	case "mask", "drop":
	default:
		return Config{}, fmt.Errorf("LEAK_GUARD_MODE must be mask or drop, got %q", cfg.LeakGuardMode)
	}
	if cfg.JWTSecret == "" && !cfg.AllowAnonymous {
		return Config{}, fmt.Errorf("JWT_SECRET is required unless APP_ALLOW_ANONYMOUS is set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
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
