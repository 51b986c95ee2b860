package avatar

import (
	"time"

	"github.com/luminalabs/mira/internal/capability"
)

// Status is the session state machine position. creating -> ready -> active
// -> ended, with error reachable from any non-terminal status. ended and
// error are terminal; terminal sessions are treated as absent.
type Status string

const (
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusError    Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusEnded || s == StatusError }

// SessionConfig is the merged per-session configuration. It is immutable
// after creation.
type SessionConfig struct {
	Rendering capability.RenderConfig   `json:"rendering"`
	Speech    capability.SpeechConfig   `json:"speech"`
	Dialogue  capability.DialogueConfig `json:"dialogue"`
	Voice     capability.VoiceConfig    `json:"voice"`
}

// mergeConfig overlays caller-supplied values onto defaults; caller keys win
// field-wise wherever the override is non-zero.
func mergeConfig(def, over SessionConfig) SessionConfig {
	out := def

	if over.Rendering.ModelID != "" {
		out.Rendering.ModelID = over.Rendering.ModelID
	}
	if over.Rendering.Quality != "" {
		out.Rendering.Quality = over.Rendering.Quality
	}
	if over.Rendering.Background != "" {
		out.Rendering.Background = over.Rendering.Background
	}
	if over.Rendering.FrameRate != 0 {
		out.Rendering.FrameRate = over.Rendering.FrameRate
	}

	if over.Speech.Language != "" {
		out.Speech.Language = over.Speech.Language
	}
	if over.Speech.SampleRate != 0 {
		out.Speech.SampleRate = over.Speech.SampleRate
	}
	if over.Speech.APIKey != "" {
		out.Speech.APIKey = over.Speech.APIKey
	}

	if over.Dialogue.PersonaID != "" {
		out.Dialogue.PersonaID = over.Dialogue.PersonaID
	}
	if over.Dialogue.Locale != "" {
		out.Dialogue.Locale = over.Dialogue.Locale
	}
	if len(over.Dialogue.Context) > 0 {
		merged := make(map[string]any, len(def.Dialogue.Context)+len(over.Dialogue.Context))
		for k, v := range def.Dialogue.Context {
			merged[k] = v
		}
		for k, v := range over.Dialogue.Context {
			merged[k] = v
		}
		out.Dialogue.Context = merged
	}

	if over.Voice.VoiceID != "" {
		out.Voice.VoiceID = over.Voice.VoiceID
	}
	if over.Voice.SpeakingRate != 0 {
		out.Voice.SpeakingRate = over.Voice.SpeakingRate
	}

	return out
}

// sanitize strips secrets from a config before it leaves the manager.
func (c SessionConfig) sanitize() SessionConfig {
	c.Speech.APIKey = ""
	return c
}

// LiveState tracks what the session is doing right now.
type LiveState struct {
	Rendering          bool   `json:"rendering"`
	Listening          bool   `json:"listening"`
	Speaking           bool   `json:"speaking"`
	ConversationActive bool   `json:"conversation_active"`
	Animation          string `json:"animation,omitempty"`
	Emotion            string `json:"emotion,omitempty"`
}

// Metrics holds the rolling per-session performance observations.
type Metrics struct {
	FrameRate     float64       `json:"frame_rate"`
	SpeechLatency time.Duration `json:"speech_latency"`
	ResponseTime  time.Duration `json:"response_time"`
	Engagement    float64       `json:"engagement"`
	Turns         int           `json:"turns"`
	Uptime        time.Duration `json:"uptime"`
}

// LifecycleEvent is one immutable entry in a session's append-only log.
type LifecycleEvent struct {
	Name    string         `json:"name"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// session is the live registry record. It is owned by the Manager; all
// mutation happens under the manager lock.
type session struct {
	ID             string
	UserID         string
	Status         Status
	CreatedAt      time.Time
	LastActivityAt time.Time
	Config         SessionConfig

	Avatar       capability.AvatarHandle
	SpeechStream capability.SpeechStreamHandle
	Conversation capability.ConversationHandle

	State   LiveState
	Metrics Metrics
	Events  []LifecycleEvent

	timeout *time.Timer
}

// View is the sanitized session snapshot returned to callers.
type View struct {
	ID             string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	Config         SessionConfig `json:"config"`
	State          LiveState     `json:"state"`
	Metrics        Metrics       `json:"metrics"`
}

func (s *session) view() View {
	return View{
		ID:             s.ID,
		UserID:         s.UserID,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		Config:         s.Config.sanitize(),
		State:          s.State,
		Metrics:        s.Metrics,
	}
}

// TeardownDiagnostic records one swallowed failure from best-effort
// teardown, so partial-teardown outcomes stay observable.
type TeardownDiagnostic struct {
	Capability string `json:"capability"`
	Op         string `json:"op"`
	Error      string `json:"error"`
}

// Summary is the terminal record built when a session is torn down. It is
// retained by id so repeated EndSession calls stay idempotent.
type Summary struct {
	SessionID    string               `json:"session_id"`
	UserID       string               `json:"user_id"`
	Status       Status               `json:"status"`
	Reason       string               `json:"reason"`
	StartedAt    time.Time            `json:"started_at"`
	EndedAt      time.Time            `json:"ended_at"`
	Duration     time.Duration        `json:"duration"`
	FinalState   LiveState            `json:"final_state"`
	FinalMetrics Metrics              `json:"final_metrics"`
	Events       []LifecycleEvent     `json:"events"`
	Diagnostics  []TeardownDiagnostic `json:"diagnostics,omitempty"`
}

// InteractionConfig selects which interaction channels StartInteraction
// enables. Nil flags default to enabled.
type InteractionConfig struct {
	Rendering    *bool `json:"rendering,omitempty"`
	Listening    *bool `json:"listening,omitempty"`
	Conversation *bool `json:"conversation,omitempty"`
}

func flagOn(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}

// StateUpdate is a partial live-state mutation; zero fields are untouched.
type StateUpdate struct {
	Animation  string `json:"animation,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
	VoiceState string `json:"voice_state,omitempty"` // listening, speaking or idle
}

// HealthReport aggregates manager and provider health for one health tick.
type HealthReport struct {
	Status              string                       `json:"status"`
	LiveSessions        int                          `json:"live_sessions"`
	Capacity            int                          `json:"capacity"`
	TotalSessions       int64                        `json:"total_sessions"`
	AverageResponseTime time.Duration                `json:"average_response_time"`
	Providers           map[string]capability.Health `json:"providers"`
}
