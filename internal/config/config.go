package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AvatarModeDisabled = "disabled"
	AvatarModeMock     = "mock"
)

// Config contains all runtime settings for the realtime console service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         slog.Level
	TracingEnabled   bool

	OpenAIAPIKey      string
	RealtimeURL       string
	RealtimeModel     string
	ModelsURL         string
	ChannelLabel      string
	SignalingTimeout  time.Duration
	ICEServers        []string
	WelcomeMessage    string
	Instructions      string
	EventLogLimit     int
	LivenessEnabled   bool
	PollInterval      time.Duration
	IdleThreshold     time.Duration
	ContextURL        string
	AvatarMode        string
	AvatarRevealDelay time.Duration
	DatabaseURL       string
	CredentialName    string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "acolyte"),
		AllowAnyOrigin:   false,
		LogLevel:         slog.LevelInfo,
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		RealtimeURL:      envOrDefault("OPENAI_REALTIME_URL", "https://api.openai.com/v1/realtime"),
		RealtimeModel:    envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		ModelsURL:        envOrDefault("OPENAI_MODELS_URL", "https://api.openai.com/v1/models"),
		ChannelLabel:     envOrDefault("REALTIME_CHANNEL_LABEL", "oai-events"),
		ICEServers:       listFromEnv("REALTIME_ICE_SERVERS"),
		WelcomeMessage:   envOrDefault("SESSION_WELCOME_MESSAGE", "Welcome to the Acolyte Health Realtime Console! I'm ready to assist you."),
		Instructions:     stringsTrimSpace("SESSION_INSTRUCTIONS"),
		EventLogLimit:    500,
		LivenessEnabled:  true,
		ContextURL:       stringsTrimSpace("CONTEXT_URL"),
		AvatarMode:       strings.ToLower(envOrDefault("AVATAR_MODE", AvatarModeDisabled)),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		CredentialName:   envOrDefault("CREDENTIAL_NAME", "openai"),
		ShutdownTimeout:  15 * time.Second,
		SignalingTimeout: 30 * time.Second,
		// Reference idle policy: poll every 10s, reconnect after a minute idle.
		PollInterval:      10 * time.Second,
		IdleThreshold:     60 * time.Second,
		AvatarRevealDelay: 0,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = levelFromEnv("APP_LOG_LEVEL", cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.TracingEnabled, err = boolFromEnv("APP_TRACING_ENABLED", cfg.TracingEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.SignalingTimeout, err = durationFromEnv("REALTIME_SIGNALING_TIMEOUT", cfg.SignalingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EventLogLimit, err = intFromEnv("SESSION_EVENT_LOG_LIMIT", cfg.EventLogLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.LivenessEnabled, err = boolFromEnv("LIVENESS_ENABLED", cfg.LivenessEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("LIVENESS_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleThreshold, err = durationFromEnv("LIVENESS_IDLE_THRESHOLD", cfg.IdleThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AvatarRevealDelay, err = durationFromEnv("AVATAR_REVEAL_DELAY", cfg.AvatarRevealDelay)
	if err != nil {
		return Config{}, err
	}

	if cfg.SignalingTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_SIGNALING_TIMEOUT must be positive")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("LIVENESS_POLL_INTERVAL must be positive")
	}
	if cfg.IdleThreshold < cfg.PollInterval {
		return Config{}, fmt.Errorf("LIVENESS_IDLE_THRESHOLD must be >= LIVENESS_POLL_INTERVAL")
	}
	if cfg.EventLogLimit < 0 {
		return Config{}, fmt.Errorf("SESSION_EVENT_LOG_LIMIT must be >= 0")
	}
	if cfg.AvatarRevealDelay < 0 {
		return Config{}, fmt.Errorf("AVATAR_REVEAL_DELAY must be >= 0")
	}
	switch cfg.AvatarMode {
	case AvatarModeDisabled, AvatarModeMock:
	default:
		return Config{}, fmt.Errorf("AVATAR_MODE must be %q or %q", AvatarModeDisabled, AvatarModeMock)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(stringsTrimSpace(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
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

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return level, nil
}
