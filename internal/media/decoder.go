package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decoder turns uploaded media files into frame sequences. Images yield
// exactly one frame; videos are sampled at SampleFPS up to MaxFrames frames.
type Decoder struct {
	SampleFPS  float64
	MaxFrames  int
	FFmpegPath string
}

// NewDecoder creates a decoder with the given sampling policy.
func NewDecoder(sampleFPS float64, maxFrames int, ffmpegPath string) *Decoder {
	if sampleFPS <= 0 {
		sampleFPS = 1.0
	}
	if maxFrames <= 0 {
		maxFrames = 60
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{SampleFPS: sampleFPS, MaxFrames: maxFrames, FFmpegPath: ffmpegPath}
}

// FrameSource is a finite, lazily produced frame sequence. It is consumed
// once; Next returns io.EOF after the last frame. Close releases any
// underlying process or file handle and is safe to call more than once.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// Open prepares a frame source for the file at path. Unsupported or
// unreadable media is rejected with a *DecodeError.
func (d *Decoder) Open(path string) (FrameSource, error) {
	kind, err := KindForExt(filepath.Ext(path))
	if err != nil {
		derr := err.(*DecodeError)
		derr.Path = path
		return nil, derr
	}

	switch kind {
	case KindImage:
		return d.openImage(path)
	default:
		return d.openVideo(path)
	}
}

func (d *Decoder) openImage(path string) (FrameSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "read failed", Err: err}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "not a decodable image", Err: err}
	}
	return &imageSource{frame: &Frame{
		Index:  0,
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}}, nil
}

type imageSource struct {
	frame *Frame
	done  bool
}

func (s *imageSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.frame, nil
}

func (s *imageSource) Close() error { return nil }

func (d *Decoder) openVideo(path string) (FrameSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &DecodeError{Path: path, Reason: "stat failed", Err: err}
	}

	// ffmpeg resamples the video to SampleFPS and emits raw MJPEG on stdout,
	// one JPEG per sampled frame.
	cmd := exec.Command(
		d.FFmpegPath,
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", d.SampleFPS),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "ffmpeg pipe failed", Err: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &DecodeError{Path: path, Reason: "ffmpeg start failed", Err: err}
	}

	return &videoSource{
		path:      path,
		cmd:       cmd,
		stderr:    &stderr,
		reader:    bufio.NewReaderSize(stdout, 256*1024),
		sampleFPS: d.SampleFPS,
		maxFrames: d.MaxFrames,
	}, nil
}

type videoSource struct {
	path      string
	cmd       *exec.Cmd
	stderr    *bytes.Buffer
	reader    *bufio.Reader
	sampleFPS float64
	maxFrames int
	index     int
	closed    bool
}

func (s *videoSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.index >= s.maxFrames {
		s.Close()
		return nil, io.EOF
	}

	data, err := readJPEG(s.reader)
	if err != nil {
		if err == io.EOF {
			// ffmpeg exiting without producing a single frame means the
			// container itself was unreadable.
			waitErr := s.Close()
			if s.index == 0 {
				return nil, &DecodeError{Path: s.path, Reason: ffmpegReason(s.stderr, waitErr), Err: waitErr}
			}
			return nil, io.EOF
		}
		s.Close()
		return nil, &DecodeError{Path: s.path, Reason: "mjpeg stream corrupted", Err: err}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.Close()
		return nil, &DecodeError{Path: s.path, Reason: "bad frame from ffmpeg", Err: err}
	}

	frame := &Frame{
		Index:     s.index,
		Timestamp: time.Duration(float64(s.index) / s.sampleFPS * float64(time.Second)),
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}
	s.index++
	return frame, nil
}

func (s *videoSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

func ffmpegReason(stderr *bytes.Buffer, waitErr error) string {
	if stderr != nil && stderr.Len() > 0 {
		lines := bytes.Split(bytes.TrimSpace(stderr.Bytes()), []byte{'\n'})
		return "ffmpeg: " + string(lines[len(lines)-1])
	}
	if waitErr != nil {
		return "ffmpeg: " + waitErr.Error()
	}
	return "ffmpeg produced no frames"
}

// readJPEG reads one JPEG image (SOI through EOI) from a concatenated MJPEG
// stream. Returns io.EOF when the stream is exhausted before a new image
// starts.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	// Seek start-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if b != 0xFF {
			continue
		}
		nxt, err := r.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if nxt == 0xD8 {
			break
		}
	}

	buf := bytes.NewBuffer([]byte{0xFF, 0xD8})
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
	}
}
