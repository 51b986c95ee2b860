// Package input normalizes heterogeneous user input (typed text, streamed
// voice, camera and gesture data) into a single envelope type consumed by
// the session turn loop.
package input

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
)

// Kind identifies the input modality.
type Kind string

const (
	KindText    Kind = "text"
	KindVoice   Kind = "voice"
	KindGesture Kind = "gesture"
	KindCamera  Kind = "camera"
)

// Envelope is the normalized representation of one unit of user input. It
// is consumed immediately by the turn loop and not retained.
type Envelope struct {
	Kind       Kind           `json:"kind"`
	SessionID  string         `json:"session_id,omitempty"`
	Text       string         `json:"text,omitempty"`
	Audio      []byte         `json:"audio,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Source     string         `json:"source"`
}

// Processor bridges raw input to envelopes. Voice input proxies the speech
// capability's stream lifecycle; streamed transcription results come back
// out as voice envelopes on Envelopes().
type Processor struct {
	log    zerolog.Logger
	bus    *bus.Bus
	speech capability.SpeechProvider

	mu      sync.Mutex
	streams map[string]capability.SpeechStreamHandle
	closed  bool

	envelopes chan Envelope
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewProcessor(speech capability.SpeechProvider, b *bus.Bus, log zerolog.Logger) *Processor {
	return &Processor{
		log:       log.With().Str("component", "input").Logger(),
		bus:       b,
		speech:    speech,
		streams:   make(map[string]capability.SpeechStreamHandle),
		envelopes: make(chan Envelope, 64),
		done:      make(chan struct{}),
	}
}

// Envelopes streams every normalized envelope the processor produces.
func (p *Processor) Envelopes() <-chan Envelope { return p.envelopes }

// ProcessTextInput validates and normalizes typed text.
func (p *Processor) ProcessTextInput(sessionID, text string) error {
	if text == "" {
		err := fmt.Errorf("text input must be a non-empty string")
		p.emitError(sessionID, "text", err)
		return err
	}
	p.emit(Envelope{
		Kind:       KindText,
		SessionID:  sessionID,
		Text:       text,
		Confidence: 1.0,
		Source:     "text-input",
	})
	return nil
}

// ProcessCameraInput passes camera payloads through unchanged. Richer frame
// analysis would land here.
func (p *Processor) ProcessCameraInput(sessionID string, data map[string]any) {
	p.emit(Envelope{
		Kind:      KindCamera,
		SessionID: sessionID,
		Data:      data,
		Source:    "camera-input",
	})
}

// StartVoiceInput opens a recognition stream for the session and re-emits
// committed transcripts as voice envelopes. Provider failures surface as
// input-error signals, never as panics to the caller.
func (p *Processor) StartVoiceInput(ctx context.Context, sessionID string, cfg capability.SpeechConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speech provider panic: %v", r)
			p.emitError(sessionID, "voice", err)
		}
	}()

	p.mu.Lock()
	if _, ok := p.streams[sessionID]; ok {
		p.mu.Unlock()
		p.log.Debug().Str("session_id", sessionID).Msg("voice input already running")
		return nil
	}
	p.mu.Unlock()

	handle, events, err := p.speech.StartSpeechRecognition(ctx, sessionID, cfg)
	if err != nil {
		p.emitError(sessionID, "voice", err)
		return err
	}

	p.mu.Lock()
	p.streams[sessionID] = handle
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pumpTranscriptions(sessionID, events)
	return nil
}

// StopVoiceInput closes the session's recognition stream, if any.
func (p *Processor) StopVoiceInput(ctx context.Context, sessionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speech provider panic: %v", r)
			p.emitError(sessionID, "voice", err)
		}
	}()

	p.mu.Lock()
	handle, ok := p.streams[sessionID]
	if ok {
		delete(p.streams, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	if err := p.speech.StopSpeechRecognition(ctx, handle); err != nil {
		p.emitError(sessionID, "voice", err)
		return err
	}
	return nil
}

// pumpTranscriptions forwards committed transcripts until the provider
// closes the stream or the processor is closed. The done channel covers
// providers whose stop call fails without closing the stream.
func (p *Processor) pumpTranscriptions(sessionID string, events <-chan capability.TranscriptionEvent) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			switch ev.Type {
			case capability.TranscriptionCommitted:
				p.emit(Envelope{
					Kind:       KindVoice,
					SessionID:  sessionID,
					Text:       ev.Transcript,
					Confidence: ev.Confidence,
					Source:     "speech-service",
				})
			case capability.TranscriptionError:
				p.emitError(sessionID, "voice", fmt.Errorf("speech stream: %s", ev.Detail))
			default:
				// Partials are guidance for the UI layer, not turn input.
			}
		}
	}
}

// Close stops all live streams and closes the envelope channel. Stream stop
// failures are logged; the done channel stops the pumps regardless, so Close
// always returns.
func (p *Processor) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	streams := make(map[string]capability.SpeechStreamHandle, len(p.streams))
	for id, h := range p.streams {
		streams[id] = h
	}
	p.streams = make(map[string]capability.SpeechStreamHandle)
	p.mu.Unlock()

	for id, h := range streams {
		if err := p.speech.StopSpeechRecognition(ctx, h); err != nil {
			p.log.Warn().Err(err).Str("session_id", id).Msg("stop recognition stream failed")
		}
	}
	close(p.done)
	p.wg.Wait()

	p.mu.Lock()
	close(p.envelopes)
	p.mu.Unlock()
}

func (p *Processor) emit(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.envelopes <- env:
	default:
		p.log.Warn().Str("session_id", env.SessionID).Str("kind", string(env.Kind)).
			Msg("envelope channel full, dropping input")
	}
}

func (p *Processor) emitError(sessionID, kind string, err error) {
	p.log.Warn().Err(err).Str("session_id", sessionID).Str("kind", kind).Msg("input error")
	if p.bus != nil {
		p.bus.Publish(bus.SignalInputError, map[string]any{
			"session_id": sessionID,
			"kind":       kind,
			"error":      err.Error(),
		})
	}
}
