package vision

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
)

type signalRecorder struct {
	mu  sync.Mutex
	got []bus.Signal
}

func (r *signalRecorder) record(s bus.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func (r *signalRecorder) count(t bus.SignalType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.got {
		if s.Type == t {
			n++
		}
	}
	return n
}

func (r *signalRecorder) waitFor(t *testing.T, typ bus.SignalType) bus.Signal {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, s := range r.got {
			if s.Type == typ {
				r.mu.Unlock()
				return s
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("signal %s never observed", typ)
	return bus.Signal{}
}

func recordAll(b *bus.Bus, r *signalRecorder) {
	b.SubscribeMany([]bus.SignalType{
		bus.SignalPositionUpdate,
		bus.SignalPositionGuidance,
		bus.SignalOptimalPosition,
		bus.SignalTrackerError,
	}, r.record)
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestScore(t *testing.T) {
	cases := []struct {
		name string
		d    capability.Detection
		want float64
	}{
		{"centered", capability.Detection{Confidence: 0.95}, 0.95},
		{"one axis off", capability.Detection{Confidence: 0.95, Yaw: 15}, 0.76},
		{"two axes off", capability.Detection{Confidence: 0.95, Yaw: 15, Pitch: -15}, 0.608},
		{"all axes off", capability.Detection{Confidence: 1, Yaw: 11, Pitch: 11, Roll: 11}, 0.512},
		{"at the limit is not penalized", capability.Detection{Confidence: 0.9, Yaw: 10}, 0.9},
		{"clamped high", capability.Detection{Confidence: 1.5}, 1},
		{"clamped low", capability.Detection{Confidence: -0.1}, 0},
	}
	for _, tc := range cases {
		if got := Score(tc.d); !approx(got, tc.want) {
			t.Fatalf("%s: Score() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDirectionalGuidance(t *testing.T) {
	cases := []struct {
		d    capability.Detection
		want string
	}{
		{capability.Detection{Yaw: 15}, GuidanceTurnLeft},
		{capability.Detection{Yaw: -15}, GuidanceTurnRight},
		{capability.Detection{Pitch: 15}, GuidanceTiltDown},
		{capability.Detection{Pitch: -15}, GuidanceTiltUp},
		{capability.Detection{Roll: 12}, GuidanceLevelHead},
		{capability.Detection{Roll: -12}, GuidanceLevelHead},
		{capability.Detection{}, GuidanceGettingCloser},
		// Yaw wins over pitch and roll.
		{capability.Detection{Yaw: 15, Pitch: 20, Roll: 20}, GuidanceTurnLeft},
	}
	for _, tc := range cases {
		if got := directionalGuidance(tc.d); got != tc.want {
			t.Fatalf("directionalGuidance(%+v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestTrackerEmitsOptimalPosition(t *testing.T) {
	b := bus.New()
	rec := &signalRecorder{}
	recordAll(b, rec)

	detector := capability.NewMockFaceDetector()
	detector.QueueDetections(capability.Detection{Confidence: 0.95})

	tr := NewTracker(TrackerConfig{CheckInterval: 5 * time.Millisecond}, b, nil, zerolog.Nop())
	if err := tr.Start(capability.NewMockVideoSource(64, 48), detector); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	update := rec.waitFor(t, bus.SignalPositionUpdate)
	if score, _ := update.Data["score"].(float64); !approx(score, 0.95) {
		t.Fatalf("position update score = %v, want 0.95", score)
	}
	optimal := rec.waitFor(t, bus.SignalOptimalPosition)
	if score, _ := optimal.Data["score"].(float64); !approx(score, 0.95) {
		t.Fatalf("optimal score = %v, want 0.95", score)
	}
	guidance := rec.waitFor(t, bus.SignalPositionGuidance)
	if msg, _ := guidance.Data["message"].(string); msg != GuidanceHold {
		t.Fatalf("guidance = %q, want %q", msg, GuidanceHold)
	}
}

func TestTrackerDirectionalGuidanceBetweenThresholds(t *testing.T) {
	b := bus.New()
	rec := &signalRecorder{}
	recordAll(b, rec)

	// 0.95 * 0.8 = 0.76: above quality, below optimal.
	detector := capability.NewMockFaceDetector()
	detector.QueueDetections(capability.Detection{Confidence: 0.95, Yaw: 15})

	tr := NewTracker(TrackerConfig{CheckInterval: 5 * time.Millisecond}, b, nil, zerolog.Nop())
	if err := tr.Start(capability.NewMockVideoSource(64, 48), detector); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	guidance := rec.waitFor(t, bus.SignalPositionGuidance)
	if msg, _ := guidance.Data["message"].(string); msg != GuidanceTurnLeft {
		t.Fatalf("guidance = %q, want %q", msg, GuidanceTurnLeft)
	}
	if n := rec.count(bus.SignalOptimalPosition); n != 0 {
		t.Fatalf("optimal signals = %d, want 0 below optimal threshold", n)
	}
}

func TestTrackerMultipleFacesSuppressesPositionUpdate(t *testing.T) {
	b := bus.New()
	rec := &signalRecorder{}
	recordAll(b, rec)

	detector := capability.NewMockFaceDetector()
	detector.QueueDetections(
		capability.Detection{Confidence: 0.9},
		capability.Detection{Confidence: 0.8},
	)

	tr := NewTracker(TrackerConfig{CheckInterval: 5 * time.Millisecond}, b, nil, zerolog.Nop())
	if err := tr.Start(capability.NewMockVideoSource(64, 48), detector); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	guidance := rec.waitFor(t, bus.SignalPositionGuidance)
	if msg, _ := guidance.Data["message"].(string); msg != GuidanceMultipleFaces {
		t.Fatalf("guidance = %q, want %q", msg, GuidanceMultipleFaces)
	}
	if n := rec.count(bus.SignalPositionUpdate); n != 0 {
		t.Fatalf("position updates = %d, want 0 with multiple faces", n)
	}
}

func TestTrackerFailStopsOnDetectorError(t *testing.T) {
	b := bus.New()
	rec := &signalRecorder{}
	recordAll(b, rec)

	detector := capability.NewMockFaceDetector()
	detector.QueueError(errors.New("camera unplugged"))

	tr := NewTracker(TrackerConfig{CheckInterval: 5 * time.Millisecond}, b, nil, zerolog.Nop())
	if err := tr.Start(capability.NewMockVideoSource(64, 48), detector); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec.waitFor(t, bus.SignalTrackerError)

	deadline := time.Now().Add(2 * time.Second)
	for tr.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("tracker still running after detection failure")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A failed tracker can be restarted with fresh dependencies.
	fresh := capability.NewMockFaceDetector()
	fresh.QueueDetections(capability.Detection{Confidence: 0.95})
	if err := tr.Start(capability.NewMockVideoSource(64, 48), fresh); err != nil {
		t.Fatalf("Start() after fail-stop error = %v", err)
	}
	tr.Stop()
}

func TestTrackerStartValidation(t *testing.T) {
	tr := NewTracker(TrackerConfig{}, bus.New(), nil, zerolog.Nop())
	if err := tr.Start(nil, nil); err == nil {
		t.Fatalf("Start(nil, nil) error = nil, want dependency error")
	}

	detector := capability.NewMockFaceDetector()
	if err := tr.Start(capability.NewMockVideoSource(8, 8), detector); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()
	if err := tr.Start(capability.NewMockVideoSource(8, 8), detector); err != nil {
		t.Fatalf("second Start() = %v, want no-op nil", err)
	}

	tr.Stop()
	tr.Stop() // idempotent
	if tr.Running() {
		t.Fatalf("Running() = true after Stop")
	}
}
