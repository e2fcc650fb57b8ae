package detection

import "strings"

// BBox is a bounding box in frame-normalized coordinates: x,y is the top-left
// corner, w,h the extent, all in [0,1].
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the normalized box area.
func (b BBox) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU computes intersection over union with another box. Two detections with
// IoU above the configured threshold are treated as the same object.
func (b BBox) IoU(o BBox) float64 {
	ix := max(b.X, o.X)
	iy := max(b.Y, o.Y)
	ix2 := min(b.X+b.W, o.X+o.W)
	iy2 := min(b.Y+b.H, o.Y+o.H)
	if ix2 <= ix || iy2 <= iy {
		return 0
	}
	inter := (ix2 - ix) * (iy2 - iy)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one raw detector result for one frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
	FrameIndex int     `json:"frame_index"`
	// TimeOffsetSec is the frame position in the source video, 0 for images.
	TimeOffsetSec float64 `json:"time_offset_sec"`
	// Model names the detector variant that produced this detection.
	Model string `json:"model"`
}

// weaponKeywords flags labels that indicate a weapon. A label matches when it
// contains any keyword, so "handgun" and "long_rifle" both count.
var weaponKeywords = []string{
	"gun", "pistol", "rifle", "knife", "handgun", "shotgun",
	"sword", "weapon", "firearm", "blade",
}

// IsWeaponLabel reports whether a detection label denotes a weapon class.
func IsWeaponLabel(label string) bool {
	l := strings.ToLower(label)
	for _, w := range weaponKeywords {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}
