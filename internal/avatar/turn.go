package avatar

import (
	"context"
	"fmt"
	"time"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
	"github.com/luminalabs/mira/internal/input"
	"github.com/luminalabs/mira/internal/response"
)

const (
	gestureFallbackConfidence = 0.8
	cameraFallbackConfidence  = 0.9
)

// NormalizedInput is the turn loop's view of one input envelope after
// modality-specific normalization.
type NormalizedInput struct {
	Kind       input.Kind `json:"kind"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
}

// TurnResult is the product of one full conversational turn.
type TurnResult struct {
	NormalizedInput NormalizedInput   `json:"normalized_input"`
	AvatarResponse  response.Response `json:"avatar_response"`
	ResponseTime    time.Duration     `json:"response_time"`
}

// ProcessInput runs one conversational turn: normalize the envelope, send
// it to the dialogue capability, select emotion and animation, synthesize
// speech, and cue playback plus lip-sync sized to the synthesized audio.
//
// If the session is ended while the turn's provider calls are in flight,
// the turn completes against the providers but its result is discarded: no
// registry, metric or lifecycle writes happen and the call returns
// ErrSessionNotFound.
func (m *Manager) ProcessInput(ctx context.Context, sessionID string, env input.Envelope) (TurnResult, error) {
	if err := m.requireInit(); err != nil {
		return TurnResult{}, err
	}
	start := time.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return TurnResult{}, ErrSessionNotFound
	}
	// Any input attempt counts as activity, including rejected kinds.
	m.touchLocked(s)
	switch env.Kind {
	case input.KindText, input.KindVoice, input.KindGesture, input.KindCamera:
	default:
		m.mu.Unlock()
		return TurnResult{}, fmt.Errorf("%w: %q", ErrUnsupportedInputKind, env.Kind)
	}
	if s.Status != StatusReady && s.Status != StatusActive {
		status := s.Status
		m.mu.Unlock()
		return TurnResult{}, fmt.Errorf("%w: session is %s", ErrPreconditionFailed, status)
	}
	if s.Conversation == "" {
		m.mu.Unlock()
		return TurnResult{}, fmt.Errorf("%w: no conversation handle", ErrPreconditionFailed)
	}
	userID := s.UserID
	avatarH := s.Avatar
	streamH := s.SpeechStream
	convH := s.Conversation
	voiceCfg := s.Config.Voice
	m.mu.Unlock()

	norm, err := m.normalizeInput(ctx, streamH, env)
	if err != nil {
		return TurnResult{}, err
	}

	dialogueStart := time.Now()
	result, err := m.providers.Dialogue.ProcessMessage(ctx, convH, capability.Message{Content: norm.Text})
	if err != nil {
		return TurnResult{}, m.failTurn("dialogue", "process_message", err)
	}
	m.stages.Observe("dialogue", msSince(dialogueStart))

	resp := m.generator.Generate(ctx, avatarH, result.Response, userID)

	synthStart := time.Now()
	synth, err := m.providers.Speech.SynthesizeSpeech(ctx, resp.Text, voiceCfg)
	if err != nil {
		return TurnResult{}, m.failTurn("speech", "synthesize", err)
	}
	speechLatency := time.Since(synthStart)
	m.stages.Observe("synthesis", msSince(synthStart))

	animStart := time.Now()
	if err := m.providers.Rendering.PlayAnimation(ctx, avatarH, resp.Animation, capability.PlayOptions{Duration: synth.Duration}); err != nil {
		return TurnResult{}, m.failTurn("rendering", "play_animation", err)
	}
	m.stages.Observe("animation", msSince(animStart))

	lipStart := time.Now()
	if err := m.providers.Rendering.SynchronizeLipSync(ctx, avatarH, synth.AudioData); err != nil {
		return TurnResult{}, m.failTurn("rendering", "lip_sync", err)
	}
	m.stages.Observe("lipsync", msSince(lipStart))

	elapsed := time.Since(start)
	m.stages.Observe("turn_total", float64(elapsed.Milliseconds()))

	// Commit. A concurrent EndSession wins: the completed turn is discarded.
	m.mu.Lock()
	s, ok = m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		m.stages.ObserveIndicator("turn_discarded")
		return TurnResult{}, ErrSessionNotFound
	}
	s.Metrics.ResponseTime = elapsed
	s.Metrics.SpeechLatency = speechLatency
	s.Metrics.Turns++
	s.Metrics.Engagement = engagementScore(s.Metrics.Turns)
	s.State.Animation = resp.Animation
	s.State.Emotion = resp.Emotion
	s.State.Speaking = true
	m.touchLocked(s)
	m.appendEventLocked(s, "input_processed", map[string]any{
		"kind":             string(env.Kind),
		"response_time_ms": elapsed.Milliseconds(),
	})
	m.totalTurns++
	m.totalTurnTime += elapsed
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveTurnResponseTime(elapsed)
	}
	m.countEvent("input_processed")
	m.publish(bus.SignalInputProcessed, map[string]any{
		"session_id":       sessionID,
		"kind":             string(env.Kind),
		"response_time_ms": elapsed.Milliseconds(),
	})
	return TurnResult{
		NormalizedInput: norm,
		AvatarResponse:  resp,
		ResponseTime:    elapsed,
	}, nil
}

func (m *Manager) normalizeInput(ctx context.Context, streamH capability.SpeechStreamHandle, env input.Envelope) (NormalizedInput, error) {
	norm := NormalizedInput{Kind: env.Kind, Source: env.Source}

	switch env.Kind {
	case input.KindText:
		if env.Text == "" {
			return NormalizedInput{}, fmt.Errorf("%w: empty text", ErrPreconditionFailed)
		}
		norm.Text = env.Text
		norm.Confidence = 1.0
		if norm.Source == "" {
			norm.Source = "text-input"
		}

	case input.KindVoice:
		// The input processor may already have transcribed the audio; raw
		// buffered audio goes through the session's recognition stream.
		if env.Text != "" {
			norm.Text = env.Text
			norm.Confidence = env.Confidence
			break
		}
		if streamH == "" {
			return NormalizedInput{}, fmt.Errorf("%w: no speech stream", ErrPreconditionFailed)
		}
		tr, err := m.providers.Speech.ProcessSpeechStream(ctx, streamH, env.Audio)
		if err != nil {
			return NormalizedInput{}, m.failTurn("speech", "process_stream", err)
		}
		norm.Text = tr.Transcript
		norm.Confidence = tr.Confidence
		if norm.Source == "" {
			norm.Source = "speech-service"
		}

	case input.KindGesture:
		norm.Text = env.Text
		norm.Confidence = env.Confidence
		if norm.Confidence == 0 {
			norm.Confidence = gestureFallbackConfidence
		}

	case input.KindCamera:
		norm.Text = env.Text
		norm.Confidence = env.Confidence
		if norm.Confidence == 0 {
			norm.Confidence = cameraFallbackConfidence
		}
	}

	return norm, nil
}

func (m *Manager) failTurn(provider, op string, cause error) error {
	if m.metrics != nil {
		m.metrics.ProviderErrors.WithLabelValues(provider, op).Inc()
	}
	m.log.Warn().Err(cause).Str("provider", provider).Str("op", op).Msg("turn step failed")
	return providerErr(provider, op, cause)
}

func engagementScore(turns int) float64 {
	score := 0.2 + 0.08*float64(turns)
	if score > 1 {
		return 1
	}
	return score
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
