// Package bus provides the in-process signal fan-out used by the avatar
// session core. Components publish typed signals; subscribers register
// explicit handlers, so delivery order per subscriber is the publish order.
package bus

import (
	"sync"
	"time"
)

// SignalType identifies a signal variant.
type SignalType string

const (
	// Session manager signals.
	SignalSessionCreated     SignalType = "session.created"
	SignalInteractionStarted SignalType = "session.interaction_started"
	SignalInputProcessed     SignalType = "session.input_processed"
	SignalStateUpdated       SignalType = "session.state_updated"
	SignalSessionEnded       SignalType = "session.ended"
	SignalServiceError       SignalType = "session.service_error"
	SignalHealthCheckFailed  SignalType = "session.health_check_failed"

	// Positioning tracker signals.
	SignalPositionUpdate   SignalType = "position.update"
	SignalPositionGuidance SignalType = "position.guidance"
	SignalOptimalPosition  SignalType = "position.optimal"
	SignalTrackerError     SignalType = "position.tracker_error"

	// Frame capture signals.
	SignalFrameCaptured SignalType = "capture.frame_captured"
	SignalCaptureError  SignalType = "capture.error"

	// Input processor signals.
	SignalInputError SignalType = "input.error"

	// Response generator signals.
	SignalResponseError SignalType = "response.error"
)

// Signal is a single published event.
type Signal struct {
	Type SignalType
	At   time.Time
	Data map[string]any
}

// Handler consumes signals. Handlers must not block; long work belongs in
// the subscriber's own goroutine.
type Handler func(Signal)

type handlerEntry struct {
	id int
	fn Handler
}

// Bus is a mutex-guarded pub/sub fan-out.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[SignalType][]handlerEntry
}

func New() *Bus {
	return &Bus{handlers: make(map[SignalType][]handlerEntry)}
}

// Subscription identifies one registered handler so it can be cancelled.
type Subscription struct {
	bus *Bus
	t   SignalType
	id  int
}

// Cancel removes the handler; it is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	entries := s.bus.handlers[s.t]
	for i, e := range entries {
		if e.id == s.id {
			s.bus.handlers[s.t] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	s.bus = nil
}

// Subscribe registers a handler for one signal type.
func (b *Bus) Subscribe(t SignalType, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[t] = append(b.handlers[t], handlerEntry{id: b.nextID, fn: h})
	return &Subscription{bus: b, t: t, id: b.nextID}
}

// SubscribeMany registers a handler for several signal types at once.
func (b *Bus) SubscribeMany(types []SignalType, h Handler) []*Subscription {
	subs := make([]*Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, b.Subscribe(t, h))
	}
	return subs
}

// Publish delivers the signal synchronously to every registered handler, in
// registration order.
func (b *Bus) Publish(t SignalType, data map[string]any) {
	s := Signal{Type: t, At: time.Now().UTC(), Data: data}

	b.mu.RLock()
	entries := b.handlers[t]
	handlers := make([]Handler, len(entries))
	for i, e := range entries {
		handlers[i] = e.fn
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(s)
	}
}
