package report

import (
	"reflect"
	"testing"

	"vigil/internal/detection"
)

func det(label string, conf float64, frame int, box detection.BBox) detection.Detection {
	return detection.Detection{Label: label, Confidence: conf, FrameIndex: frame, Box: box, Model: "weapon"}
}

func TestAggregateConfidenceFloor(t *testing.T) {
	a := NewAggregator(Options{ConfidenceFloor: 0.45, IoUThreshold: 0.45})
	rep := a.Aggregate("job1", []FrameResult{
		{Index: 0, Detections: []detection.Detection{
			det("pistol", 0.92, 0, detection.BBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}),
			det("pistol", 0.30, 0, detection.BBox{X: 0.6, Y: 0.6, W: 0.2, H: 0.2}),
			det("person", 0.45, 0, detection.BBox{X: 0.3, Y: 0.3, W: 0.3, H: 0.5}),
		}},
	})

	if len(rep.Detections) != 2 {
		t.Fatalf("got %d detections, want 2 (0.30 below floor)", len(rep.Detections))
	}
	if rep.FramesProcessed != 1 {
		t.Fatalf("FramesProcessed = %d, want 1", rep.FramesProcessed)
	}
	if !rep.HasWeapon {
		t.Fatal("HasWeapon = false with a retained pistol")
	}
	if s := rep.Summary["pistol"]; s.Count != 1 || s.MaxConfidence != 0.92 {
		t.Fatalf("pistol summary = %+v", s)
	}
	if s := rep.Summary["person"]; s.Count != 1 || s.MaxConfidence != 0.45 {
		t.Fatalf("person summary = %+v (floor is inclusive)", s)
	}
}

func TestAggregateDedup(t *testing.T) {
	a := NewAggregator(Options{ConfidenceFloor: 0.2, IoUThreshold: 0.45})

	overlap := detection.BBox{X: 0.10, Y: 0.10, W: 0.30, H: 0.30}
	shifted := detection.BBox{X: 0.12, Y: 0.10, W: 0.30, H: 0.30} // IoU ≈ 0.88 with overlap
	apart := detection.BBox{X: 0.60, Y: 0.60, W: 0.30, H: 0.30}

	rep := a.Aggregate("job1", []FrameResult{
		{Index: 0, Detections: []detection.Detection{
			det("knife", 0.70, 0, overlap),
			det("knife", 0.60, 0, apart),
		}},
		{Index: 1, Detections: []detection.Detection{
			det("knife", 0.90, 1, shifted),
			// Same box, different label: never merged with knife.
			det("person", 0.90, 1, shifted),
		}},
	})

	if len(rep.Detections) != 3 {
		t.Fatalf("got %d detections, want 3: %+v", len(rep.Detections), rep.Detections)
	}
	// The 0.90 knife wins its cluster over the 0.70 one.
	var confs []float64
	for _, d := range rep.Detections {
		if d.Label == "knife" {
			confs = append(confs, d.Confidence)
		}
	}
	if !reflect.DeepEqual(confs, []float64{0.60, 0.90}) {
		t.Fatalf("retained knife confidences = %v, want [0.60 0.90]", confs)
	}
	if s := rep.Summary["knife"]; s.Count != 2 || s.MaxConfidence != 0.90 {
		t.Fatalf("knife summary = %+v", s)
	}
}

func TestAggregateDedupEqualConfidence(t *testing.T) {
	a := NewAggregator(Options{ConfidenceFloor: 0.2, IoUThreshold: 0.45})

	box := detection.BBox{X: 0.10, Y: 0.10, W: 0.30, H: 0.30}
	rep := a.Aggregate("job1", []FrameResult{
		{Index: 0, Detections: []detection.Detection{det("gun", 0.80, 0, box)}},
		{Index: 5, Detections: []detection.Detection{det("gun", 0.80, 5, box)}},
	})

	if len(rep.Detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(rep.Detections))
	}
	if rep.Detections[0].FrameIndex != 0 {
		t.Fatalf("earlier frame should win the tie, got frame %d", rep.Detections[0].FrameIndex)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	a := NewAggregator(Options{ConfidenceFloor: 0.3, IoUThreshold: 0.45})

	frames := []FrameResult{
		{Index: 0, Detections: []detection.Detection{
			det("person", 0.50, 0, detection.BBox{X: 0.5, Y: 0.1, W: 0.2, H: 0.4}),
			det("gun", 0.88, 0, detection.BBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}),
		}},
		{Index: 1, SkipReason: "detection failed on frame 1: timeout"},
		{Index: 2, Detections: []detection.Detection{
			det("gun", 0.91, 2, detection.BBox{X: 0.7, Y: 0.7, W: 0.2, H: 0.2}),
		}},
	}

	first := a.Aggregate("job1", frames)
	second := a.Aggregate("job1", frames)

	if !reflect.DeepEqual(first.Detections, second.Detections) {
		t.Fatal("repeated aggregation produced different detection lists")
	}
	if !reflect.DeepEqual(first.Summary, second.Summary) {
		t.Fatal("repeated aggregation produced different summaries")
	}

	// Canonical order: frame ascending, then label lexicographic.
	order := make([][2]any, 0, len(first.Detections))
	for _, d := range first.Detections {
		order = append(order, [2]any{d.FrameIndex, d.Label})
	}
	want := [][2]any{{0, "gun"}, {0, "person"}, {2, "gun"}}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("detection order = %v, want %v", order, want)
	}
}

func TestAggregateSkippedFrames(t *testing.T) {
	a := NewAggregator(Options{ConfidenceFloor: 0.45, IoUThreshold: 0.45})

	rep := a.Aggregate("job1", []FrameResult{
		{Index: 2, SkipReason: "detection failed on frame 2: timeout"},
		{Index: 0, Detections: []detection.Detection{
			det("shotgun", 0.75, 0, detection.BBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}),
		}},
		{Index: 1, SkipReason: "detection failed on frame 1: timeout"},
	})

	if rep.FramesProcessed != 3 {
		t.Fatalf("FramesProcessed = %d, want 3", rep.FramesProcessed)
	}
	if len(rep.SkippedFrames) != 2 {
		t.Fatalf("got %d skipped frames, want 2", len(rep.SkippedFrames))
	}
	if rep.SkippedFrames[0].Index != 1 || rep.SkippedFrames[1].Index != 2 {
		t.Fatalf("skipped frames not ordered by index: %+v", rep.SkippedFrames)
	}
}

func TestAggregateEmpty(t *testing.T) {
	a := NewAggregator(Options{ConfidenceFloor: 0.45, IoUThreshold: 0.45})
	rep := a.Aggregate("job1", nil)

	if len(rep.Detections) != 0 || rep.HasWeapon || rep.FramesProcessed != 0 {
		t.Fatalf("empty input produced non-empty report: %+v", rep)
	}
	if rep.JobID != "job1" {
		t.Fatalf("JobID = %q", rep.JobID)
	}
}
