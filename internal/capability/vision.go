package capability

import (
	"context"
	"image"
)

// Frame is one video frame snapshot. Frames are read-only: the tracker and
// the frame capture both consume the same source and never mutate a frame.
type Frame struct {
	Image image.Image
}

// Detection is a single detected face with its head pose in degrees.
type Detection struct {
	Confidence float64 `json:"confidence"`
	Yaw        float64 `json:"yaw"`
	Pitch      float64 `json:"pitch"`
	Roll       float64 `json:"roll"`
}

// FaceDetector runs face detection against one frame.
type FaceDetector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// VideoSource exposes the current frame and the source's native resolution.
type VideoSource interface {
	CurrentFrame() (Frame, error)
	Resolution() (width, height int)
}
