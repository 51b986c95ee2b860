package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luminalabs/mira/internal/audio"
	"github.com/luminalabs/mira/internal/avatar"
	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/input"
	"github.com/luminalabs/mira/internal/protocol"
)

// handleSessionWS runs the realtime channel for one session: inbound text,
// audio, gesture and camera messages become conversational turns; guidance,
// capture and lifecycle signals stream back out.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.manager.GetStatus(sessionID); err != nil {
		s.respondManagerError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	proc := input.NewProcessor(s.speech, s.bus, s.log)
	outbound := make(chan any, 256)
	turns := make(chan input.Envelope, 64)

	subs := s.forwardSignals(sessionID, outbound)
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	turnsDone := make(chan struct{})
	go func() {
		defer close(turnsDone)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-proc.Envelopes():
				if !ok {
					return
				}
				s.runTurn(ctx, sessionID, env, outbound)
			case env := <-turns:
				s.runTurn(ctx, sessionID, env, outbound)
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var audioBuf []byte
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientText:
			if err := proc.ProcessTextInput(msg.SessionID, msg.Text); err != nil {
				s.enqueue(outbound, inputError(msg.SessionID, err))
			}
		case protocol.ClientAudioChunk:
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				s.enqueue(outbound, inputError(msg.SessionID, err))
				continue
			}
			audioBuf = append(audioBuf, pcm...)
			if msg.Commit {
				wav, err := audio.EncodeWAVPCM16LE(audioBuf, msg.SampleRate)
				utterance := audio.DurationPCM16(audioBuf, msg.SampleRate)
				audioBuf = nil
				if err != nil {
					s.enqueue(outbound, inputError(msg.SessionID, err))
					continue
				}
				s.log.Debug().Str("session_id", msg.SessionID).
					Dur("utterance", utterance).Msg("voice commit")
				env := input.Envelope{
					Kind:      input.KindVoice,
					SessionID: msg.SessionID,
					Audio:     wav,
					Source:    "ws-audio",
				}
				select {
				case turns <- env:
				case <-ctx.Done():
				}
			}
		case protocol.ClientGesture:
			env := input.Envelope{
				Kind:       input.KindGesture,
				SessionID:  msg.SessionID,
				Text:       msg.Text,
				Data:       msg.Data,
				Confidence: msg.Confidence,
				Source:     "ws-gesture",
			}
			select {
			case turns <- env:
			case <-ctx.Done():
			}
		case protocol.ClientCamera:
			proc.ProcessCameraInput(msg.SessionID, msg.Data)
		case protocol.ClientControl:
			s.handleControl(ctx, proc, msg, outbound)
		}

		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	proc.Close(closeCtx)
	closeCancel()
	<-turnsDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) handleControl(ctx context.Context, proc *input.Processor, msg protocol.ClientControl, outbound chan any) {
	switch msg.Action {
	case "start_listening":
		view, err := s.manager.GetStatus(msg.SessionID)
		if err != nil {
			s.enqueue(outbound, inputError(msg.SessionID, err))
			return
		}
		if err := proc.StartVoiceInput(ctx, msg.SessionID, view.Config.Speech); err != nil {
			s.enqueue(outbound, inputError(msg.SessionID, err))
		}
	case "stop_listening":
		if err := proc.StopVoiceInput(ctx, msg.SessionID); err != nil {
			s.enqueue(outbound, inputError(msg.SessionID, err))
		}
	case "end_session":
		if _, err := s.manager.EndSession(ctx, msg.SessionID); err != nil {
			s.enqueue(outbound, inputError(msg.SessionID, err))
		}
	default:
		s.enqueue(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: msg.SessionID,
			Code:      "unknown_control_action",
			Source:    "gateway",
			Detail:    msg.Action,
		})
	}
}

func (s *Server) runTurn(ctx context.Context, connSessionID string, env input.Envelope, outbound chan any) {
	id := env.SessionID
	if id == "" {
		id = connSessionID
	}

	result, err := s.manager.ProcessInput(ctx, id, env)
	if err != nil {
		s.enqueue(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: id,
			Code:      errorCode(err),
			Source:    "session",
			Retryable: retryable(err),
			Detail:    err.Error(),
		})
		return
	}

	s.enqueue(outbound, protocol.TurnResult{
		Type:           protocol.TypeTurnResult,
		SessionID:      id,
		Input:          result.NormalizedInput,
		Response:       result.AvatarResponse,
		ResponseTimeMS: result.ResponseTime.Milliseconds(),
	})
}

// forwardSignals mirrors positioning, capture and lifecycle signals for one
// session onto the websocket.
func (s *Server) forwardSignals(sessionID string, outbound chan any) []*bus.Subscription {
	var subs []*bus.Subscription

	subs = append(subs, s.bus.Subscribe(bus.SignalPositionGuidance, func(sig bus.Signal) {
		msg, _ := sig.Data["message"].(string)
		score, _ := sig.Data["score"].(float64)
		s.enqueue(outbound, protocol.GuidanceEvent{
			Type:    protocol.TypeGuidanceEvent,
			Message: msg,
			Score:   score,
		})
	}))

	subs = append(subs, s.bus.Subscribe(bus.SignalOptimalPosition, func(sig bus.Signal) {
		score, _ := sig.Data["score"].(float64)
		s.enqueue(outbound, protocol.GuidanceEvent{
			Type:    protocol.TypeGuidanceEvent,
			Message: "optimal",
			Score:   score,
			Optimal: true,
		})
	}))

	subs = append(subs, s.bus.Subscribe(bus.SignalFrameCaptured, func(sig bus.Signal) {
		artifact, _ := sig.Data["artifact"].([]byte)
		width, _ := sig.Data["width"].(int)
		height, _ := sig.Data["height"].(int)
		ts, _ := sig.Data["timestamp"].(time.Time)
		s.enqueue(outbound, protocol.FrameCaptured{
			Type:       protocol.TypeFrameCaptured,
			JPEGBase64: base64.StdEncoding.EncodeToString(artifact),
			Width:      width,
			Height:     height,
			TSMs:       ts.UnixMilli(),
		})
	}))

	lifecycle := []bus.SignalType{
		bus.SignalSessionCreated,
		bus.SignalInteractionStarted,
		bus.SignalStateUpdated,
		bus.SignalSessionEnded,
		bus.SignalServiceError,
	}
	subs = append(subs, s.bus.SubscribeMany(lifecycle, func(sig bus.Signal) {
		if id, _ := sig.Data["session_id"].(string); id != sessionID {
			return
		}
		s.enqueue(outbound, protocol.SessionEvent{
			Type:      protocol.TypeSessionEvent,
			SessionID: sessionID,
			Event:     string(sig.Type),
			Data:      sig.Data,
		})
	})...)

	return subs
}

// enqueue keeps websocket writes single-threaded; messages are dropped when
// the outbound queue is saturated.
func (s *Server) enqueue(outbound chan any, msg any) {
	select {
	case outbound <- msg:
	default:
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.WSMessages.WithLabelValues("drop_full", string(t)).Inc()
		}
	}
}

func inputError(sessionID string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "input_rejected",
		Source:    "input",
		Detail:    err.Error(),
	}
}

func errorCode(err error) string {
	_, code := statusForError(err)
	return code
}

func retryable(err error) bool {
	var provErr *avatar.ProviderError
	return errors.As(err, &provErr)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientGesture:
		return m.Type, true
	case protocol.ClientCamera:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TurnResult:
		return m.Type, true
	case protocol.GuidanceEvent:
		return m.Type, true
	case protocol.FrameCaptured:
		return m.Type, true
	case protocol.SessionEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
