// Package response selects the emotion and animation cue for a dialogue
// reply and cues playback on the rendering capability.
package response

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
)

// DefaultAnimation is used when no animation is mapped for an emotion.
const DefaultAnimation = "neutral-talking"

// Response is the generator's output for one dialogue reply.
type Response struct {
	Text      string `json:"text"`
	Animation string `json:"animation"`
	Emotion   string `json:"emotion"`
	User      string `json:"user"`
}

// Generator maps dialogue output to emotion and animation cues.
type Generator struct {
	rendering  capability.RenderingProvider
	bus        *bus.Bus
	log        zerolog.Logger
	animations map[string]string
}

func NewGenerator(rendering capability.RenderingProvider, b *bus.Bus, log zerolog.Logger) *Generator {
	return &Generator{
		rendering: rendering,
		bus:       b,
		log:       log.With().Str("component", "response").Logger(),
		animations: map[string]string{
			"neutral":  DefaultAnimation,
			"joy":      "joyful-gesture",
			"sorrow":   "sorrowful-nod",
			"anger":    "stern-posture",
			"surprise": "surprised-lean",
		},
	}
}

// Generate picks the emotion and animation for the dialogue reply and cues
// playback on the avatar as a side effect. Playback failure surfaces as a
// response-error signal; the selection itself is still returned.
func (g *Generator) Generate(ctx context.Context, avatar capability.AvatarHandle, d capability.DialogueResponse, user string) Response {
	emotion := SelectEmotion(d)
	animation, ok := g.animations[emotion]
	if !ok {
		animation = DefaultAnimation
	}

	if err := g.rendering.PlayAnimation(ctx, avatar, animation, capability.PlayOptions{}); err != nil {
		g.log.Warn().Err(err).Str("animation", animation).Msg("animation playback failed")
		if g.bus != nil {
			g.bus.Publish(bus.SignalResponseError, map[string]any{
				"source":    "generate",
				"animation": animation,
				"error":     err.Error(),
			})
		}
	}

	return Response{
		Text:      d.Content,
		Animation: animation,
		Emotion:   emotion,
		User:      user,
	}
}

// SelectEmotion applies the selection priority: explicit sentiment label
// first, then keyword fallback, then neutral.
func SelectEmotion(d capability.DialogueResponse) string {
	if s := strings.TrimSpace(d.Sentiment); s != "" {
		return strings.ToLower(s)
	}

	text := strings.ToLower(d.Content)
	switch {
	case strings.Contains(text, "sorry"), strings.Contains(text, "apologize"):
		return "sorrow"
	case strings.Contains(text, "thank you"), strings.Contains(text, "great"):
		return "joy"
	default:
		return "neutral"
	}
}
