package capability

import (
	"context"
	"time"
)

// SpeechStreamHandle is the opaque reference for one live recognition stream.
type SpeechStreamHandle string

// SpeechConfig selects recognition settings for a session.
type SpeechConfig struct {
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	// APIKey is carried so per-session overrides can reach a real provider.
	// It is stripped from any session view returned to callers.
	APIKey string `json:"api_key,omitempty"`
}

// VoiceConfig selects the synthesis voice.
type VoiceConfig struct {
	VoiceID      string  `json:"voice_id,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
}

// Transcription is one recognition result for a buffered audio payload.
type Transcription struct {
	Transcript string
	Confidence float64
}

// Synthesis is the product of one text-to-speech call.
type Synthesis struct {
	AudioData []byte
	Duration  time.Duration
}

// TranscriptionEventType distinguishes streaming recognition events.
type TranscriptionEventType string

const (
	TranscriptionPartial   TranscriptionEventType = "partial"
	TranscriptionCommitted TranscriptionEventType = "committed"
	TranscriptionError     TranscriptionEventType = "error"
)

// TranscriptionEvent is one streaming recognition event.
type TranscriptionEvent struct {
	Type       TranscriptionEventType
	Transcript string
	Confidence float64
	Detail     string
	Timestamp  int64
}

// SpeechProvider is the speech-to-text / text-to-speech capability.
type SpeechProvider interface {
	HealthReporter

	// StartSpeechRecognition opens a recognition stream for the session and
	// returns its handle plus the channel streaming transcription events.
	// The channel is closed when the stream is stopped.
	StartSpeechRecognition(ctx context.Context, sessionID string, cfg SpeechConfig) (SpeechStreamHandle, <-chan TranscriptionEvent, error)
	StopSpeechRecognition(ctx context.Context, h SpeechStreamHandle) error

	// ProcessSpeechStream recognizes one buffered audio payload synchronously.
	ProcessSpeechStream(ctx context.Context, h SpeechStreamHandle, audio []byte) (Transcription, error)

	SynthesizeSpeech(ctx context.Context, text string, voice VoiceConfig) (Synthesis, error)
}
