package capability

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// MockRendering is an in-process rendering provider used in local mode and
// tests. It records calls and can be primed to fail specific operations.
type MockRendering struct {
	mu sync.Mutex

	FailCreate error
	FailPlay   error
	Health     Health

	nextID      int
	live        map[AvatarHandle]bool
	Animations  []string
	Expressions []string
	LipSyncs    int
	Destroyed   []AvatarHandle

	faults chan Fault
}

func NewMockRendering() *MockRendering {
	return &MockRendering{
		live:   make(map[AvatarHandle]bool),
		Health: Health{Status: HealthHealthy},
		faults: make(chan Fault, 16),
	}
}

func (m *MockRendering) ServiceFaults() <-chan Fault { return m.faults }

// InjectFault pushes an asynchronous provider fault, as a real provider
// would on an upstream disconnect.
func (m *MockRendering) InjectFault(f Fault) {
	f.Provider = "rendering"
	m.faults <- f
}

func (m *MockRendering) CreateAvatar(_ context.Context, _ RenderConfig) (AvatarHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return "", m.FailCreate
	}
	m.nextID++
	h := AvatarHandle(fmt.Sprintf("avatar-%d", m.nextID))
	m.live[h] = true
	return h, nil
}

func (m *MockRendering) DestroyAvatar(_ context.Context, h AvatarHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, h)
	m.Destroyed = append(m.Destroyed, h)
	return nil
}

func (m *MockRendering) StartRendering(_ context.Context, _ AvatarHandle, _ RenderConfig) error {
	return nil
}

func (m *MockRendering) StopRendering(_ context.Context, _ AvatarHandle) error { return nil }

func (m *MockRendering) PlayAnimation(_ context.Context, _ AvatarHandle, cue string, _ PlayOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPlay != nil {
		return m.FailPlay
	}
	m.Animations = append(m.Animations, cue)
	return nil
}

func (m *MockRendering) UpdateExpression(_ context.Context, _ AvatarHandle, emotion string, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Expressions = append(m.Expressions, emotion)
	return nil
}

func (m *MockRendering) SynchronizeLipSync(_ context.Context, _ AvatarHandle, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LipSyncs++
	return nil
}

func (m *MockRendering) ServiceHealth(_ context.Context) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Health, nil
}

// LiveAvatars reports how many avatar instances are currently allocated.
func (m *MockRendering) LiveAvatars() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// MockSpeech simulates streaming recognition and synthesis.
type MockSpeech struct {
	mu sync.Mutex

	FailStart      error
	FailSynthesize error
	Health         Health

	nextID  int
	streams map[SpeechStreamHandle]chan TranscriptionEvent
	Stopped []SpeechStreamHandle

	// Transcript is returned by ProcessSpeechStream for any audio payload.
	Transcript string
	Confidence float64
}

func NewMockSpeech() *MockSpeech {
	return &MockSpeech{
		streams:    make(map[SpeechStreamHandle]chan TranscriptionEvent),
		Health:     Health{Status: HealthHealthy},
		Transcript: "simulated voice input",
		Confidence: 0.92,
	}
}

func (m *MockSpeech) StartSpeechRecognition(_ context.Context, sessionID string, _ SpeechConfig) (SpeechStreamHandle, <-chan TranscriptionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailStart != nil {
		return "", nil, m.FailStart
	}
	m.nextID++
	h := SpeechStreamHandle(fmt.Sprintf("stream-%s-%d", sessionID, m.nextID))
	events := make(chan TranscriptionEvent, 64)
	m.streams[h] = events
	return h, events, nil
}

func (m *MockSpeech) StopSpeechRecognition(_ context.Context, h SpeechStreamHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if events, ok := m.streams[h]; ok {
		close(events)
		delete(m.streams, h)
	}
	m.Stopped = append(m.Stopped, h)
	return nil
}

// EmitTranscription pushes a streaming recognition event on an open stream.
func (m *MockSpeech) EmitTranscription(h SpeechStreamHandle, ev TranscriptionEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	events, ok := m.streams[h]
	if !ok {
		return false
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	events <- ev
	return true
}

func (m *MockSpeech) ProcessSpeechStream(_ context.Context, _ SpeechStreamHandle, audio []byte) (Transcription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(audio) == 0 {
		return Transcription{}, nil
	}
	return Transcription{Transcript: m.Transcript, Confidence: m.Confidence}, nil
}

func (m *MockSpeech) SynthesizeSpeech(_ context.Context, text string, _ VoiceConfig) (Synthesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSynthesize != nil {
		return Synthesis{}, m.FailSynthesize
	}
	// Deterministic duration so animation sizing is testable.
	return Synthesis{
		AudioData: []byte(text),
		Duration:  time.Duration(len(text)) * 20 * time.Millisecond,
	}, nil
}

func (m *MockSpeech) ServiceHealth(_ context.Context) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Health, nil
}

// MockDialogue echoes user messages through a configurable reply function.
type MockDialogue struct {
	mu sync.Mutex

	FailCreate  error
	FailProcess error
	Health      Health

	// Reply overrides the default canned response when set.
	Reply func(content string) DialogueResult

	nextID int
	open   map[ConversationHandle]bool
	Ended  []ConversationHandle
}

func NewMockDialogue() *MockDialogue {
	return &MockDialogue{
		open:   make(map[ConversationHandle]bool),
		Health: Health{Status: HealthHealthy},
	}
}

func (m *MockDialogue) CreateConversation(_ context.Context, userID string, _ DialogueConfig) (ConversationHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return "", m.FailCreate
	}
	m.nextID++
	h := ConversationHandle(fmt.Sprintf("conv-%s-%d", userID, m.nextID))
	m.open[h] = true
	return h, nil
}

func (m *MockDialogue) ProcessMessage(_ context.Context, h ConversationHandle, msg Message) (DialogueResult, error) {
	m.mu.Lock()
	reply := m.Reply
	failProcess := m.FailProcess
	open := m.open[h]
	m.mu.Unlock()

	if failProcess != nil {
		return DialogueResult{}, failProcess
	}
	if !open {
		return DialogueResult{}, fmt.Errorf("conversation %s is not open", h)
	}
	if reply != nil {
		return reply(msg.Content), nil
	}
	return DialogueResult{
		Response: DialogueResponse{Content: "You said: " + msg.Content},
	}, nil
}

func (m *MockDialogue) EndConversation(_ context.Context, h ConversationHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, h)
	m.Ended = append(m.Ended, h)
	return nil
}

func (m *MockDialogue) ServiceHealth(_ context.Context) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Health, nil
}

// MockFaceDetector replays a scripted sequence of detection results. Once
// the script is exhausted the last entry repeats.
type MockFaceDetector struct {
	mu     sync.Mutex
	script []detectResult
	idx    int
}

type detectResult struct {
	detections []Detection
	err        error
}

func NewMockFaceDetector() *MockFaceDetector { return &MockFaceDetector{} }

func (m *MockFaceDetector) QueueDetections(detections ...Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, detectResult{detections: detections})
}

func (m *MockFaceDetector) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, detectResult{err: err})
}

func (m *MockFaceDetector) Detect(_ context.Context, _ Frame) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) == 0 {
		return nil, nil
	}
	r := m.script[m.idx]
	if m.idx < len(m.script)-1 {
		m.idx++
	}
	return r.detections, r.err
}

// MockVideoSource serves a fixed-size solid frame.
type MockVideoSource struct {
	Width  int
	Height int
	Fail   error
}

func NewMockVideoSource(width, height int) *MockVideoSource {
	return &MockVideoSource{Width: width, Height: height}
}

func (m *MockVideoSource) CurrentFrame() (Frame, error) {
	if m.Fail != nil {
		return Frame{}, m.Fail
	}
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 48, A: 255})
		}
	}
	return Frame{Image: img}, nil
}

func (m *MockVideoSource) Resolution() (int, int) { return m.Width, m.Height }
