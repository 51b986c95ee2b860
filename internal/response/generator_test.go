package response

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
)

func TestSelectEmotion(t *testing.T) {
	cases := []struct {
		name string
		d    capability.DialogueResponse
		want string
	}{
		{"explicit sentiment wins", capability.DialogueResponse{Content: "sorry", Sentiment: "Joy"}, "joy"},
		{"apology keyword", capability.DialogueResponse{Content: "I'm sorry for the trouble"}, "sorrow"},
		{"apologize keyword", capability.DialogueResponse{Content: "We apologize for the delay"}, "sorrow"},
		{"gratitude keyword", capability.DialogueResponse{Content: "Thank you for waiting!"}, "joy"},
		{"great keyword", capability.DialogueResponse{Content: "That looks GREAT"}, "joy"},
		{"plain text", capability.DialogueResponse{Content: "hello"}, "neutral"},
		{"empty", capability.DialogueResponse{}, "neutral"},
	}
	for _, tc := range cases {
		if got := SelectEmotion(tc.d); got != tc.want {
			t.Fatalf("%s: SelectEmotion() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestGenerateMapsEmotionToAnimation(t *testing.T) {
	rendering := capability.NewMockRendering()
	g := NewGenerator(rendering, bus.New(), zerolog.Nop())

	resp := g.Generate(context.Background(), "avatar-1", capability.DialogueResponse{
		Content:   "Welcome back!",
		Sentiment: "joy",
	}, "u1")

	if resp.Emotion != "joy" || resp.Animation != "joyful-gesture" {
		t.Fatalf("selection = %s/%s, want joy/joyful-gesture", resp.Emotion, resp.Animation)
	}
	if resp.Text != "Welcome back!" || resp.User != "u1" {
		t.Fatalf("response = %+v, want text and user preserved", resp)
	}
	if len(rendering.Animations) != 1 || rendering.Animations[0] != "joyful-gesture" {
		t.Fatalf("Animations = %v, want [joyful-gesture]", rendering.Animations)
	}
}

func TestGenerateUnknownEmotionFallsBack(t *testing.T) {
	g := NewGenerator(capability.NewMockRendering(), bus.New(), zerolog.Nop())

	resp := g.Generate(context.Background(), "avatar-1", capability.DialogueResponse{
		Content:   "hm",
		Sentiment: "perplexed",
	}, "u1")

	if resp.Emotion != "perplexed" {
		t.Fatalf("Emotion = %q, want sentiment passed through", resp.Emotion)
	}
	if resp.Animation != DefaultAnimation {
		t.Fatalf("Animation = %q, want %q", resp.Animation, DefaultAnimation)
	}
}

func TestGeneratePlaybackFailureStillReturnsSelection(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var errSignals []bus.Signal
	b.Subscribe(bus.SignalResponseError, func(s bus.Signal) {
		mu.Lock()
		defer mu.Unlock()
		errSignals = append(errSignals, s)
	})

	rendering := capability.NewMockRendering()
	rendering.FailPlay = errors.New("renderer offline")
	g := NewGenerator(rendering, b, zerolog.Nop())

	resp := g.Generate(context.Background(), "avatar-1", capability.DialogueResponse{Content: "hi"}, "u1")
	if resp.Animation != DefaultAnimation || resp.Emotion != "neutral" {
		t.Fatalf("selection = %+v, want neutral default despite playback failure", resp)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errSignals) != 1 {
		t.Fatalf("response error signals = %d, want 1", len(errSignals))
	}
	if src, _ := errSignals[0].Data["source"].(string); src != "generate" {
		t.Fatalf("signal source = %q, want generate", src)
	}
}
