// Package vision hosts the face-positioning guidance tracker and the
// optimal-frame capture that feed onboarding and photo-capture flows.
package vision

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
	"github.com/luminalabs/mira/internal/observability"
)

const (
	// poseAxisLimit is how far (degrees) any head-pose axis may stray
	// before it penalizes the positioning score.
	poseAxisLimit = 10.0
	// poseAxisPenalty is applied once per axis beyond the limit; penalties
	// stack multiplicatively across yaw, pitch and roll.
	poseAxisPenalty = 0.8
)

// Guidance messages emitted per tick.
const (
	GuidanceNoFace        = "no face detected"
	GuidanceMultipleFaces = "multiple faces detected"
	GuidanceHold          = "hold that position"
	GuidanceTurnLeft      = "turn your head slightly to the left"
	GuidanceTurnRight     = "turn your head slightly to the right"
	GuidanceTiltUp        = "tilt your head up slightly"
	GuidanceTiltDown      = "tilt your head down slightly"
	GuidanceLevelHead     = "level your head"
	GuidanceGettingCloser = "getting closer, hold steady"
	GuidanceMoveCloser    = "move closer and look directly at the camera"
)

var errTrackerDependencies = errors.New("tracker requires a video source and a face detector")

// TrackerConfig carries the tracker thresholds. Zero fields take defaults.
type TrackerConfig struct {
	QualityThreshold float64
	OptimalThreshold float64
	CheckInterval    time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = 0.7
	}
	if c.OptimalThreshold <= 0 {
		c.OptimalThreshold = 0.9
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 500 * time.Millisecond
	}
	return c
}

// Tracker polls face detection on a fixed interval, scores the positioning
// quality and emits guidance plus an optimal-position signal. Detection
// failures stop the tracker outright rather than emitting stale guidance.
type Tracker struct {
	cfg     TrackerConfig
	log     zerolog.Logger
	bus     *bus.Bus
	metrics *observability.Metrics

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	video    capability.VideoSource
	detector capability.FaceDetector
	wg       sync.WaitGroup
}

func NewTracker(cfg TrackerConfig, b *bus.Bus, metrics *observability.Metrics, log zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "tracker").Logger(),
		bus:     b,
		metrics: metrics,
	}
}

// Start begins the polling loop. Starting a running tracker is a logged
// no-op; missing dependencies are an error.
func (t *Tracker) Start(video capability.VideoSource, detector capability.FaceDetector) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.log.Debug().Msg("tracker already running")
		return nil
	}
	if video == nil || detector == nil {
		return errTrackerDependencies
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.video = video
	t.detector = detector
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.loop(ctx)
	t.log.Info().Dur("interval", t.cfg.CheckInterval).Msg("positioning tracker started")
	return nil
}

// Stop cancels the poll and clears the tracked video reference. Stopping a
// stopped tracker is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	t.running = false
	t.cancel = nil
	t.video = nil
	t.detector = nil
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.log.Info().Msg("positioning tracker stopped")
}

// Running reports whether the poll loop is live.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) loop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.tick(ctx) {
				// Fail-stop: detach without waiting on our own goroutine.
				t.mu.Lock()
				if t.running {
					t.running = false
					t.cancel = nil
					t.video = nil
					t.detector = nil
				}
				t.mu.Unlock()
				return
			}
		}
	}
}

// tick runs one detection pass. It reports false when the tracker must
// fail-stop.
func (t *Tracker) tick(ctx context.Context) bool {
	t.mu.Lock()
	video, detector := t.video, t.detector
	t.mu.Unlock()
	if video == nil || detector == nil {
		return false
	}

	frame, err := video.CurrentFrame()
	if err != nil {
		t.failStop("video_source", err)
		return false
	}
	detections, err := detector.Detect(ctx, frame)
	if err != nil {
		t.failStop("face_detection", err)
		return false
	}

	switch len(detections) {
	case 0:
		t.guide(GuidanceNoFace, 0)
		return true
	case 1:
	default:
		t.guide(GuidanceMultipleFaces, 0)
		return true
	}

	d := detections[0]
	score := Score(d)
	if t.metrics != nil {
		t.metrics.PositioningScore.Observe(score)
	}
	t.publish(bus.SignalPositionUpdate, map[string]any{
		"score":     score,
		"detection": d,
	})

	switch {
	case score >= t.cfg.OptimalThreshold:
		t.publish(bus.SignalOptimalPosition, map[string]any{"score": score})
		t.guide(GuidanceHold, score)
	case score >= t.cfg.QualityThreshold:
		t.guide(directionalGuidance(d), score)
	default:
		t.guide(GuidanceMoveCloser, score)
	}
	return true
}

func (t *Tracker) failStop(op string, err error) {
	t.log.Error().Err(err).Str("op", op).Msg("tracker stopping after detection failure")
	t.publish(bus.SignalTrackerError, map[string]any{
		"op":    op,
		"error": err.Error(),
	})
}

func (t *Tracker) guide(message string, score float64) {
	t.publish(bus.SignalPositionGuidance, map[string]any{
		"message": message,
		"score":   score,
	})
}

func (t *Tracker) publish(sig bus.SignalType, data map[string]any) {
	if t.bus != nil {
		t.bus.Publish(sig, data)
	}
}

// Score computes the positioning quality for a single detection: the
// detector confidence, multiplied by 0.8 for each pose axis beyond 10
// degrees, clamped to [0,1]. Penalties stack, so a face that is both turned
// and tilted scores confidence * 0.8 * 0.8.
func Score(d capability.Detection) float64 {
	score := d.Confidence
	for _, angle := range []float64{d.Yaw, d.Pitch, d.Roll} {
		if math.Abs(angle) > poseAxisLimit {
			score *= poseAxisPenalty
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// directionalGuidance picks the first applicable instruction, checking yaw,
// then pitch, then roll against the axis limit.
func directionalGuidance(d capability.Detection) string {
	switch {
	case d.Yaw > poseAxisLimit:
		return GuidanceTurnLeft
	case d.Yaw < -poseAxisLimit:
		return GuidanceTurnRight
	case d.Pitch > poseAxisLimit:
		return GuidanceTiltDown
	case d.Pitch < -poseAxisLimit:
		return GuidanceTiltUp
	case math.Abs(d.Roll) > poseAxisLimit:
		return GuidanceLevelHead
	default:
		return GuidanceGettingCloser
	}
}
