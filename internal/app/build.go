// Package app assembles the avatar service: configuration, capability
// providers, the session manager, positioning, capture and the HTTP API.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/avatar"
	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
	"github.com/luminalabs/mira/internal/config"
	"github.com/luminalabs/mira/internal/httpapi"
	"github.com/luminalabs/mira/internal/observability"
	"github.com/luminalabs/mira/internal/store"
	"github.com/luminalabs/mira/internal/vision"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Manager *avatar.Manager
	Tracker *vision.Tracker
	Capture *vision.FrameCapture
	Bus     *bus.Bus
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (sessions, tracker goroutines, DB pool).
	Cleanup func(ctx context.Context) error
}

// Build wires the whole service. Capability providers are the simulated
// implementations; swapping in real rendering, speech or dialogue backends
// is a matter of passing different avatar.Providers here.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	signals := bus.New()

	summaryStore, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("summary store init failed: %w", err)
	}

	providers := avatar.Providers{
		Rendering: capability.NewMockRendering(),
		Speech:    capability.NewMockSpeech(),
		Dialogue:  capability.NewMockDialogue(),
	}

	manager := avatar.NewManager(avatar.Options{
		MaxConcurrentAvatars:      cfg.MaxConcurrentAvatars,
		AvatarTimeout:             cfg.AvatarTimeout,
		ResetTimeoutOnActivity:    cfg.ResetTimeoutOnActivity,
		PerformanceSampleInterval: cfg.PerformanceSampleInterval,
		HealthCheckInterval:       cfg.HealthCheckInterval,
		DefaultConfig: avatar.SessionConfig{
			Rendering: capability.RenderConfig{
				ModelID: cfg.DefaultAvatarModel,
				Quality: cfg.DefaultRenderQuality,
			},
			Speech: capability.SpeechConfig{
				Language:   cfg.DefaultLanguage,
				SampleRate: 16000,
			},
			Dialogue: capability.DialogueConfig{
				PersonaID: cfg.DefaultPersonaID,
				Locale:    cfg.DefaultLanguage,
			},
			Voice: capability.VoiceConfig{
				VoiceID:      cfg.DefaultVoiceID,
				SpeakingRate: 1.0,
			},
		},
		Thresholds: avatar.PerformanceThresholds{
			MaxLatency: cfg.MaxTurnLatency,
			MinFPS:     cfg.MinFrameRate,
		},
	}, signals, metrics, summaryStore, log)

	if err := manager.Initialize(providers); err != nil {
		_ = summaryStore.Close()
		return nil, fmt.Errorf("avatar manager init failed: %w", err)
	}

	tracker := vision.NewTracker(vision.TrackerConfig{
		QualityThreshold: cfg.TrackerQualityThreshold,
		OptimalThreshold: cfg.TrackerOptimalThreshold,
		CheckInterval:    cfg.TrackerCheckInterval,
	}, signals, metrics, log)

	video := capability.NewMockVideoSource(cfg.CaptureWidth, cfg.CaptureHeight)
	capture := vision.NewFrameCapture(video, signals, log)
	capture.Start()

	if err := tracker.Start(video, capability.NewMockFaceDetector()); err != nil {
		_ = summaryStore.Close()
		return nil, fmt.Errorf("tracker start failed: %w", err)
	}

	api := httpapi.New(cfg, manager, providers.Speech, signals, metrics, log)

	cleanup := func(ctx context.Context) error {
		var errs []string
		tracker.Stop()
		capture.Stop()
		if err := manager.Shutdown(ctx); err != nil {
			errs = append(errs, err.Error())
		}
		if err := summaryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Manager: manager,
		Tracker: tracker,
		Capture: capture,
		Bus:     signals,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}
