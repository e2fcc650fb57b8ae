package media

import (
	"fmt"
	"strings"
	"time"
)

// Frame is a single decoded frame handed to the detectors. Data is always a
// JPEG or the original still-image payload; frames are not persisted.
type Frame struct {
	Index     int
	Timestamp time.Duration // position in the source media
	Data      []byte
	Width     int
	Height    int
}

// Kind classifies the source media.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

var videoExts = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
}

// KindForExt reports the media kind for a file extension, or an error for
// unsupported extensions.
func KindForExt(ext string) (Kind, error) {
	ext = strings.ToLower(ext)
	switch {
	case imageExts[ext]:
		return KindImage, nil
	case videoExts[ext]:
		return KindVideo, nil
	default:
		return "", &DecodeError{Reason: fmt.Sprintf("unsupported media extension %q", ext)}
	}
}

// DecodeError reports unreadable or unsupported source media. A job that hits
// one fails immediately without any detector calls.
type DecodeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode " + e.Path + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }
