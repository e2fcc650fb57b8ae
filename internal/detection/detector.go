package detection

import (
	"context"
	"errors"
	"fmt"

	"vigil/internal/media"
)

// Kind identifies a detector backend variant.
type Kind string

const (
	// KindWeapon is the weapon-specialized model.
	KindWeapon Kind = "weapon"
	// KindGeneric is the general-purpose COCO model.
	KindGeneric Kind = "generic"
)

// Detector is the interface all detection backends implement. Detect must be
// stateless per call and safe for concurrent use, so per-frame calls can be
// fanned out.
type Detector interface {
	// Name returns the detector identifier used in reports and API requests.
	Name() string

	// Kind returns the backend variant.
	Kind() Kind

	// IsHealthy reports whether the backend can currently serve requests.
	IsHealthy() bool

	// Detect runs inference on one frame and returns raw, unfiltered
	// detections tagged with the frame index and model name.
	Detect(ctx context.Context, frame *media.Frame) ([]Detection, error)

	// Close releases backend resources.
	Close() error
}

// ErrUnavailable means the backend cannot serve any frame; a job hitting it
// on every requested detector fails as a whole.
var ErrUnavailable = errors.New("detection backend unavailable")

// FrameError reports a single frame's detection failure. The frame is
// recorded as skipped and the job continues.
type FrameError struct {
	FrameIndex int
	Err        error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("detection failed on frame %d: %v", e.FrameIndex, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
