package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/guardian/internal/escalation"
)

// Config contains all runtime settings for the guardian service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	LogLevel  string
	LogFormat string

	Backend        string
	LocalURL       string
	LocalModel     string
	HostedBaseURL  string
	HostedModel    string
	GoogleAPIKey   string
	BackendTimeout time.Duration
	BackendRPM     float64
	MemoryBuffer   int
	DefaultMode    escalation.Mode
	ProfilePath    string
	RedactLog      bool
	DatabaseURL    string
	RedisURL       string
	OTLPEndpoint   string
	VisionURL      string
	VisionModel    string

	LocalWhisperCLI       string
	LocalWhisperModelPath string
	LocalWhisperLanguage  string
	LocalWhisperThreads   int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "guardian"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		Backend:          strings.ToLower(envOrDefault("GUARDIAN_BACKEND", "local")),
		// Ollama serving gemma3n on the port the desktop app used.
		LocalURL:      envOrDefault("GUARDIAN_LOCAL_URL", "http://127.0.0.1:11502"),
		LocalModel:    envOrDefault("GUARDIAN_LOCAL_MODEL", "gemma3n:e2b"),
		HostedBaseURL: envOrDefault("GUARDIAN_HOSTED_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		HostedModel:   envOrDefault("GUARDIAN_HOSTED_MODEL", "gemma-3n-e2b-it"),
		GoogleAPIKey:  trimmedEnv("GOOGLE_API_KEY"),
		ProfilePath:   envOrDefault("GUARDIAN_PROFILE_PATH", "user_profile.json"),
		DatabaseURL:   trimmedEnv("DATABASE_URL"),
		RedisURL:      trimmedEnv("REDIS_URL"),
		OTLPEndpoint:  trimmedEnv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		VisionModel:   trimmedEnv("GUARDIAN_VISION_MODEL"),

		LocalWhisperCLI:       envOrDefault("LOCAL_WHISPER_CLI", "whisper-cli"),
		LocalWhisperModelPath: envOrDefault("LOCAL_WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		LocalWhisperLanguage:  envOrDefault("LOCAL_WHISPER_LANGUAGE", "en"),
		// 0 means "auto" (picked based on CPU count).
		LocalWhisperThreads: 0,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		BackendTimeout:           2 * time.Minute,
		MemoryBuffer:             6,
	}
	cfg.VisionURL = envOrDefault("GUARDIAN_VISION_URL", cfg.LocalURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("GUARDIAN_BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactLog, err = boolFromEnv("GUARDIAN_REDACT_LOG", false)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryBuffer, err = intFromEnv("GUARDIAN_MEMORY_BUFFER", cfg.MemoryBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.LocalWhisperThreads, err = intFromEnv("LOCAL_WHISPER_THREADS", cfg.LocalWhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendRPM, err = floatFromEnv("GUARDIAN_BACKEND_RPM", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMode, err = escalation.ParseMode(trimmedEnv("GUARDIAN_DEFAULT_MODE"))
	if err != nil {
		return Config{}, fmt.Errorf("GUARDIAN_DEFAULT_MODE: %w", err)
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("GUARDIAN_BACKEND_TIMEOUT must be positive")
	}
	if cfg.MemoryBuffer < 1 {
		return Config{}, fmt.Errorf("GUARDIAN_MEMORY_BUFFER must be at least 1")
	}
	if cfg.BackendRPM < 0 {
		return Config{}, fmt.Errorf("GUARDIAN_BACKEND_RPM must be >= 0")
	}
	if cfg.LocalWhisperThreads < 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_THREADS must be >= 0")
	}
	switch cfg.Backend {
	case "local", "mock":
	case "hosted":
		if cfg.GoogleAPIKey == "" {
			return Config{}, fmt.Errorf("GOOGLE_API_KEY is required when GUARDIAN_BACKEND=hosted")
		}
	default:
		return Config{}, fmt.Errorf("GUARDIAN_BACKEND must be local, hosted or mock, got %q", cfg.Backend)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
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
	v := strings.ToLower(trimmedEnv(key))
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
