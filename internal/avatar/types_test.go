package avatar

import (
	"testing"

	"github.com/luminalabs/mira/internal/capability"
)

func TestMergeConfigFieldwiseOverride(t *testing.T) {
	def := SessionConfig{
		Rendering: capability.RenderConfig{ModelID: "base", Quality: "high", FrameRate: 30},
		Speech:    capability.SpeechConfig{Language: "en-US", SampleRate: 16000},
		Dialogue:  capability.DialogueConfig{PersonaID: "mira", Context: map[string]any{"tone": "warm", "mode": "demo"}},
		Voice:     capability.VoiceConfig{VoiceID: "v1", SpeakingRate: 1.0},
	}
	over := SessionConfig{
		Rendering: capability.RenderConfig{Quality: "low"},
		Speech:    capability.SpeechConfig{Language: "de-DE"},
		Dialogue:  capability.DialogueConfig{Context: map[string]any{"mode": "kiosk"}},
	}

	got := mergeConfig(def, over)

	if got.Rendering.ModelID != "base" || got.Rendering.Quality != "low" || got.Rendering.FrameRate != 30 {
		t.Fatalf("rendering = %+v, want base/low/30", got.Rendering)
	}
	if got.Speech.Language != "de-DE" || got.Speech.SampleRate != 16000 {
		t.Fatalf("speech = %+v, want de-DE/16000", got.Speech)
	}
	if got.Voice.VoiceID != "v1" || got.Voice.SpeakingRate != 1.0 {
		t.Fatalf("voice = %+v, want defaults kept", got.Voice)
	}
	if got.Dialogue.Context["tone"] != "warm" || got.Dialogue.Context["mode"] != "kiosk" {
		t.Fatalf("dialogue context = %v, want merged with override winning", got.Dialogue.Context)
	}
	// The merge must not mutate the shared defaults.
	if def.Dialogue.Context["mode"] != "demo" {
		t.Fatalf("defaults mutated: mode = %v", def.Dialogue.Context["mode"])
	}
}

func TestSanitizeStripsAPIKey(t *testing.T) {
	cfg := SessionConfig{Speech: capability.SpeechConfig{Language: "en-US", APIKey: "secret"}}
	got := cfg.sanitize()
	if got.Speech.APIKey != "" {
		t.Fatalf("APIKey = %q, want empty", got.Speech.APIKey)
	}
	if got.Speech.Language != "en-US" {
		t.Fatalf("Language = %q, want en-US", got.Speech.Language)
	}
}

func TestFlagOn(t *testing.T) {
	if !flagOn(nil) {
		t.Fatal("flagOn(nil) = false, want true")
	}
	off := false
	if flagOn(&off) {
		t.Fatal("flagOn(&false) = true, want false")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, tc := range []struct {
		status Status
		want   bool
	}{
		{StatusCreating, false},
		{StatusReady, false},
		{StatusActive, false},
		{StatusEnded, true},
		{StatusError, true},
	} {
		if got := tc.status.Terminal(); got != tc.want {
			t.Errorf("Terminal(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
