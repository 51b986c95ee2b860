package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MaxConcurrentAvatars != 10 {
		t.Fatalf("MaxConcurrentAvatars = %d, want %d", cfg.MaxConcurrentAvatars, 10)
	}
	if cfg.AvatarTimeout != 5*time.Minute {
		t.Fatalf("AvatarTimeout = %v, want %v", cfg.AvatarTimeout, 5*time.Minute)
	}
	if cfg.TrackerQualityThreshold != 0.7 || cfg.TrackerOptimalThreshold != 0.9 {
		t.Fatalf("tracker thresholds = %v/%v, want 0.7/0.9", cfg.TrackerQualityThreshold, cfg.TrackerOptimalThreshold)
	}
	if cfg.TrackerCheckInterval != 500*time.Millisecond {
		t.Fatalf("TrackerCheckInterval = %v, want %v", cfg.TrackerCheckInterval, 500*time.Millisecond)
	}
	if cfg.ResetTimeoutOnActivity {
		t.Fatalf("ResetTimeoutOnActivity = true, want false default")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("AVATAR_MAX_CONCURRENT", "3")
	t.Setenv("AVATAR_TIMEOUT", "90s")
	t.Setenv("AVATAR_TIMEOUT_RESET_ON_ACTIVITY", "true")
	t.Setenv("TRACKER_OPTIMAL_THRESHOLD", "0.95")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.MaxConcurrentAvatars != 3 {
		t.Fatalf("MaxConcurrentAvatars = %d, want %d", cfg.MaxConcurrentAvatars, 3)
	}
	if cfg.AvatarTimeout != 90*time.Second {
		t.Fatalf("AvatarTimeout = %v, want %v", cfg.AvatarTimeout, 90*time.Second)
	}
	if !cfg.ResetTimeoutOnActivity {
		t.Fatalf("ResetTimeoutOnActivity = false, want true")
	}
	if cfg.TrackerOptimalThreshold != 0.95 {
		t.Fatalf("TrackerOptimalThreshold = %v, want %v", cfg.TrackerOptimalThreshold, 0.95)
	}
}

func TestLoadRejectsShortTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AVATAR_TIMEOUT", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted AVATAR_TIMEOUT below minimum")
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TRACKER_QUALITY_THRESHOLD", "0.9")
	t.Setenv("TRACKER_OPTIMAL_THRESHOLD", "0.5")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted optimal threshold below quality threshold")
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AVATAR_TIMEOUT_RESET_ON_ACTIVITY", "sometimes")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted malformed bool")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_ALLOW_ANY_ORIGIN",
		"AVATAR_MAX_CONCURRENT",
		"AVATAR_TIMEOUT",
		"AVATAR_TIMEOUT_RESET_ON_ACTIVITY",
		"AVATAR_PERF_SAMPLE_INTERVAL",
		"AVATAR_HEALTH_CHECK_INTERVAL",
		"AVATAR_MAX_TURN_LATENCY",
		"AVATAR_MIN_FRAME_RATE",
		"AVATAR_DEFAULT_MODEL_ID",
		"AVATAR_DEFAULT_QUALITY",
		"AVATAR_DEFAULT_VOICE_ID",
		"AVATAR_DEFAULT_PERSONA_ID",
		"AVATAR_DEFAULT_LANGUAGE",
		"TRACKER_QUALITY_THRESHOLD",
		"TRACKER_OPTIMAL_THRESHOLD",
		"TRACKER_CHECK_INTERVAL",
		"CAPTURE_WIDTH",
		"CAPTURE_HEIGHT",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
