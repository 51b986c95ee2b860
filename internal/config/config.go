package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	MaxConcurrentAvatars      int
	AvatarTimeout             time.Duration
	ResetTimeoutOnActivity    bool
	PerformanceSampleInterval time.Duration
	HealthCheckInterval       time.Duration

	MaxTurnLatency time.Duration
	MinFrameRate   float64

	DefaultAvatarModel   string
	DefaultRenderQuality string
	DefaultVoiceID       string
	DefaultPersonaID     string
	DefaultLanguage      string

	TrackerQualityThreshold float64
	TrackerOptimalThreshold float64
	TrackerCheckInterval    time.Duration

	CaptureWidth  int
	CaptureHeight int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "mira"),
		LogLevel:             envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:       false,
		MaxConcurrentAvatars: 10,
		DefaultAvatarModel:   envOrDefault("AVATAR_DEFAULT_MODEL_ID", "mira-retail-01"),
		DefaultRenderQuality: envOrDefault("AVATAR_DEFAULT_QUALITY", "hd"),
		DefaultVoiceID:       envOrDefault("AVATAR_DEFAULT_VOICE_ID", "warm-female-01"),
		DefaultPersonaID:     envOrDefault("AVATAR_DEFAULT_PERSONA_ID", "concierge"),
		DefaultLanguage:      envOrDefault("AVATAR_DEFAULT_LANGUAGE", "en-US"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		// Sessions idle past this point are torn down unconditionally.
		AvatarTimeout:             5 * time.Minute,
		PerformanceSampleInterval: 5 * time.Second,
		HealthCheckInterval:       30 * time.Second,
		MaxTurnLatency:            4 * time.Second,
		MinFrameRate:              24,
		TrackerQualityThreshold:   0.7,
		TrackerOptimalThreshold:   0.9,
		TrackerCheckInterval:      500 * time.Millisecond,
		CaptureWidth:              1280,
		CaptureHeight:             720,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AvatarTimeout, err = durationFromEnv("AVATAR_TIMEOUT", cfg.AvatarTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ResetTimeoutOnActivity, err = boolFromEnv("AVATAR_TIMEOUT_RESET_ON_ACTIVITY", cfg.ResetTimeoutOnActivity); err != nil {
		return Config{}, err
	}
	if cfg.PerformanceSampleInterval, err = durationFromEnv("AVATAR_PERF_SAMPLE_INTERVAL", cfg.PerformanceSampleInterval); err != nil {
		return Config{}, err
	}
	if cfg.HealthCheckInterval, err = durationFromEnv("AVATAR_HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxTurnLatency, err = durationFromEnv("AVATAR_MAX_TURN_LATENCY", cfg.MaxTurnLatency); err != nil {
		return Config{}, err
	}
	if cfg.TrackerCheckInterval, err = durationFromEnv("TRACKER_CHECK_INTERVAL", cfg.TrackerCheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentAvatars, err = intFromEnv("AVATAR_MAX_CONCURRENT", cfg.MaxConcurrentAvatars); err != nil {
		return Config{}, err
	}
	if cfg.CaptureWidth, err = intFromEnv("CAPTURE_WIDTH", cfg.CaptureWidth); err != nil {
		return Config{}, err
	}
	if cfg.CaptureHeight, err = intFromEnv("CAPTURE_HEIGHT", cfg.CaptureHeight); err != nil {
		return Config{}, err
	}
	if cfg.MinFrameRate, err = floatFromEnv("AVATAR_MIN_FRAME_RATE", cfg.MinFrameRate); err != nil {
		return Config{}, err
	}
	if cfg.TrackerQualityThreshold, err = floatFromEnv("TRACKER_QUALITY_THRESHOLD", cfg.TrackerQualityThreshold); err != nil {
		return Config{}, err
	}
	if cfg.TrackerOptimalThreshold, err = floatFromEnv("TRACKER_OPTIMAL_THRESHOLD", cfg.TrackerOptimalThreshold); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if cfg.MaxConcurrentAvatars <= 0 {
		return Config{}, fmt.Errorf("AVATAR_MAX_CONCURRENT must be positive")
	}
	if cfg.AvatarTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("AVATAR_TIMEOUT must be at least 5s")
	}
	if cfg.TrackerQualityThreshold <= 0 || cfg.TrackerQualityThreshold > 1 {
		return Config{}, fmt.Errorf("TRACKER_QUALITY_THRESHOLD must be in (0,1]")
	}
	if cfg.TrackerOptimalThreshold <= 0 || cfg.TrackerOptimalThreshold > 1 {
		return Config{}, fmt.Errorf("TRACKER_OPTIMAL_THRESHOLD must be in (0,1]")
	}
	if cfg.TrackerOptimalThreshold < cfg.TrackerQualityThreshold {
		return Config{}, fmt.Errorf("TRACKER_OPTIMAL_THRESHOLD must be >= TRACKER_QUALITY_THRESHOLD")
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

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
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
