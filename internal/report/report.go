package report

import (
	"time"

	"vigil/internal/detection"
)

// FrameResult carries one frame's detector output (or its skip marker) into
// aggregation. The orchestrator delivers the full, index-ordered set for a
// job before a report is built; partial streams never yield a report.
type FrameResult struct {
	Index      int
	Detections []detection.Detection
	// SkipReason is non-empty when the frame failed detection and was
	// recorded as skipped.
	SkipReason string
}

// SkippedFrame records a frame the detectors could not process.
type SkippedFrame struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// LabelSummary aggregates retained detections of one label.
type LabelSummary struct {
	Count         int     `json:"count"`
	MaxConfidence float64 `json:"max_confidence"`
}

// Report is the canonical, immutable result of one job: deduplicated,
// confidence-thresholded detections plus per-label summaries.
type Report struct {
	JobID           string                  `json:"job_id"`
	Detections      []detection.Detection   `json:"detections"`
	Summary         map[string]LabelSummary `json:"summary"`
	SkippedFrames   []SkippedFrame          `json:"skipped_frames,omitempty"`
	FramesProcessed int                     `json:"frames_processed"`
	HasWeapon       bool                    `json:"has_weapon"`
	GeneratedAt     time.Time               `json:"generated_at"`
}
