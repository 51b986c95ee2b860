package capability

import (
	"context"
	"time"
)

// AvatarHandle is the opaque reference a rendering provider returns for one
// live avatar instance.
type AvatarHandle string

// RenderConfig selects the avatar model and render quality for a session.
type RenderConfig struct {
	ModelID    string `json:"model_id,omitempty"`
	Quality    string `json:"quality,omitempty"`
	Background string `json:"background,omitempty"`
	FrameRate  int    `json:"frame_rate,omitempty"`
}

// PlayOptions controls a single animation playback.
type PlayOptions struct {
	// Duration sizes the playback to the synthesized audio it accompanies.
	Duration time.Duration
	Loop     bool
}

// RenderingProvider is the avatar rendering capability.
type RenderingProvider interface {
	HealthReporter

	CreateAvatar(ctx context.Context, cfg RenderConfig) (AvatarHandle, error)
	DestroyAvatar(ctx context.Context, h AvatarHandle) error
	StartRendering(ctx context.Context, h AvatarHandle, cfg RenderConfig) error
	StopRendering(ctx context.Context, h AvatarHandle) error
	PlayAnimation(ctx context.Context, h AvatarHandle, cue string, opts PlayOptions) error
	UpdateExpression(ctx context.Context, h AvatarHandle, emotion string, intensity float64) error
	SynchronizeLipSync(ctx context.Context, h AvatarHandle, audio []byte) error
}
