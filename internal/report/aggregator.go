package report

import (
	"sort"
	"time"

	"vigil/internal/detection"
)

// Options are the aggregation policy knobs.
type Options struct {
	// ConfidenceFloor drops detections below this confidence before dedup.
	ConfidenceFloor float64
	// IoUThreshold merges same-label detections whose boxes overlap above it.
	IoUThreshold float64
}

// Aggregator turns the complete per-frame detection stream of one job into a
// canonical Report. Output is deterministic for a fixed input stream, which
// is what makes re-export possible without re-running inference.
type Aggregator struct {
	opts Options
}

// NewAggregator creates an aggregator with the given policy.
func NewAggregator(opts Options) *Aggregator {
	return &Aggregator{opts: opts}
}

// Aggregate builds the report for jobID from the full, ordered frame stream.
func (a *Aggregator) Aggregate(jobID string, results []FrameResult) *Report {
	var skipped []SkippedFrame
	var candidates []detection.Detection

	for _, fr := range results {
		if fr.SkipReason != "" {
			skipped = append(skipped, SkippedFrame{Index: fr.Index, Reason: fr.SkipReason})
			continue
		}
		for _, d := range fr.Detections {
			if d.Confidence >= a.opts.ConfidenceFloor {
				candidates = append(candidates, d)
			}
		}
	}

	retained := a.dedup(candidates)

	// Canonical report order: frame index ascending, then label
	// lexicographic. Confidence and box fields break any remaining ties so
	// repeated runs produce identical reports.
	sort.Slice(retained, func(i, j int) bool {
		di, dj := retained[i], retained[j]
		if di.FrameIndex != dj.FrameIndex {
			return di.FrameIndex < dj.FrameIndex
		}
		if di.Label != dj.Label {
			return di.Label < dj.Label
		}
		if di.Confidence != dj.Confidence {
			return di.Confidence > dj.Confidence
		}
		if di.Box.X != dj.Box.X {
			return di.Box.X < dj.Box.X
		}
		return di.Box.Y < dj.Box.Y
	})

	summary := make(map[string]LabelSummary, len(retained))
	hasWeapon := false
	for _, d := range retained {
		s := summary[d.Label]
		s.Count++
		if d.Confidence > s.MaxConfidence {
			s.MaxConfidence = d.Confidence
		}
		summary[d.Label] = s
		if detection.IsWeaponLabel(d.Label) {
			hasWeapon = true
		}
	}

	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Index < skipped[j].Index })

	return &Report{
		JobID:           jobID,
		Detections:      retained,
		Summary:         summary,
		SkippedFrames:   skipped,
		FramesProcessed: len(results),
		HasWeapon:       hasWeapon,
		GeneratedAt:     time.Now().UTC(),
	}
}

// dedup collapses same-label detections whose boxes overlap above the IoU
// threshold, keeping the highest-confidence representative. On equal
// confidence the earlier frame wins.
func (a *Aggregator) dedup(candidates []detection.Detection) []detection.Detection {
	byLabel := make(map[string][]detection.Detection)
	labels := make([]string, 0)
	for _, d := range candidates {
		if _, ok := byLabel[d.Label]; !ok {
			labels = append(labels, d.Label)
		}
		byLabel[d.Label] = append(byLabel[d.Label], d)
	}
	sort.Strings(labels)

	retained := make([]detection.Detection, 0, len(candidates))
	for _, label := range labels {
		group := byLabel[label]
		sort.Slice(group, func(i, j int) bool {
			if group[i].Confidence != group[j].Confidence {
				return group[i].Confidence > group[j].Confidence
			}
			if group[i].FrameIndex != group[j].FrameIndex {
				return group[i].FrameIndex < group[j].FrameIndex
			}
			if group[i].Box.X != group[j].Box.X {
				return group[i].Box.X < group[j].Box.X
			}
			return group[i].Box.Y < group[j].Box.Y
		})

		kept := make([]detection.Detection, 0, len(group))
		for _, cand := range group {
			dup := false
			for _, k := range kept {
				if cand.Box.IoU(k.Box) > a.opts.IoUThreshold {
					dup = true
					break
				}
			}
			if !dup {
				kept = append(kept, cand)
			}
		}
		retained = append(retained, kept...)
	}
	return retained
}
