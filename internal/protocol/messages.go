package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientText       MessageType = "client_text"
	TypeClientGesture    MessageType = "client_gesture"
	TypeClientCamera     MessageType = "client_camera"
	TypeClientControl    MessageType = "client_control"
	TypeTurnResult       MessageType = "turn_result"
	TypeGuidanceEvent    MessageType = "guidance_event"
	TypeFrameCaptured    MessageType = "frame_captured"
	TypeSessionEvent     MessageType = "session_event"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries buffered PCM audio. Chunks accumulate until one
// arrives with Commit set, which closes the utterance and runs a turn.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Commit      bool        `json:"commit"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientGesture struct {
	Type       MessageType    `json:"type"`
	SessionID  string         `json:"session_id"`
	Text       string         `json:"text,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

type ClientCamera struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"` // start_listening, stop_listening, end_session
}

type TurnResult struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	Input          any         `json:"input"`
	Response       any         `json:"response"`
	ResponseTimeMS int64       `json:"response_time_ms"`
}

type GuidanceEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	Score   float64     `json:"score"`
	Optimal bool        `json:"optimal"`
}

type FrameCaptured struct {
	Type       MessageType `json:"type"`
	JPEGBase64 string      `json:"jpeg_base64"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	TSMs       int64       `json:"ts_ms"`
}

type SessionEvent struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientGesture:
		var msg ClientGesture
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_gesture")
		}
		return msg, nil
	case TypeClientCamera:
		var msg ClientCamera
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_camera")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
