package vision

import (
	"bytes"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
)

// JPEG encode quality for captured frames.
const captureJPEGQuality = 95

// FrameCapture snapshots the current video frame whenever the positioning
// tracker signals an optimal position, and emits the encoded artifact.
type FrameCapture struct {
	log   zerolog.Logger
	bus   *bus.Bus
	video capability.VideoSource

	mu      sync.Mutex
	running bool
	sub     *bus.Subscription
}

func NewFrameCapture(video capability.VideoSource, b *bus.Bus, log zerolog.Logger) *FrameCapture {
	return &FrameCapture{
		log:   log.With().Str("component", "capture").Logger(),
		bus:   b,
		video: video,
	}
}

// Start subscribes to optimal-position signals. Starting a running capture
// is a no-op.
func (c *FrameCapture) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.sub = c.bus.Subscribe(bus.SignalOptimalPosition, func(bus.Signal) {
		c.capture()
	})
	c.running = true
	c.log.Info().Msg("frame capture armed")
}

// Stop unsubscribes. Stopping a stopped capture is a no-op.
func (c *FrameCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.sub.Cancel()
	c.sub = nil
	c.running = false
	c.log.Info().Msg("frame capture disarmed")
}

// Running reports whether the capture is armed.
func (c *FrameCapture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *FrameCapture) capture() {
	frame, err := c.video.CurrentFrame()
	if err != nil {
		c.fail("current_frame", err.Error())
		return
	}
	if frame.Image == nil {
		c.fail("current_frame", "video source returned an empty frame")
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: captureJPEGQuality}); err != nil {
		c.fail("encode", err.Error())
		return
	}

	width, height := c.video.Resolution()
	c.bus.Publish(bus.SignalFrameCaptured, map[string]any{
		"artifact":  buf.Bytes(),
		"width":     width,
		"height":    height,
		"timestamp": time.Now().UTC(),
	})
	c.log.Debug().Int("bytes", buf.Len()).Msg("optimal frame captured")
}

func (c *FrameCapture) fail(op, detail string) {
	c.log.Warn().Str("op", op).Str("detail", detail).Msg("frame capture failed")
	c.bus.Publish(bus.SignalCaptureError, map[string]any{
		"op":    op,
		"error": detail,
	})
}
