package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestDecoderOpenImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.png")
	writePNG(t, path, 32, 24)

	d := NewDecoder(1.0, 60, "ffmpeg")
	src, err := d.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	frame, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if frame.Index != 0 || frame.Width != 32 || frame.Height != 24 {
		t.Fatalf("frame = %+v", frame)
	}
	if len(frame.Data) == 0 {
		t.Fatal("frame carries no payload")
	}

	if _, err := src.Next(context.Background()); err != io.EOF {
		t.Fatalf("second Next err = %v, want io.EOF", err)
	}
}

func TestDecoderOpenImageCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDecoder(1.0, 60, "ffmpeg")
	_, err := d.Open(path)
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if derr.Path != path {
		t.Fatalf("DecodeError.Path = %q", derr.Path)
	}
}

func TestDecoderOpenUnsupportedExt(t *testing.T) {
	d := NewDecoder(1.0, 60, "ffmpeg")
	_, err := d.Open("/tmp/readme.txt")
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestDecoderOpenVideoMissingFile(t *testing.T) {
	d := NewDecoder(1.0, 60, "ffmpeg")
	_, err := d.Open(filepath.Join(t.TempDir(), "missing.mp4"))
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestDecoderCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.png")
	writePNG(t, path, 8, 8)

	d := NewDecoder(1.0, 60, "ffmpeg")
	src, err := d.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next err = %v, want context.Canceled", err)
	}
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadJPEGSplitsStream(t *testing.T) {
	first := encodeJPEG(t, 16, 16)
	second := encodeJPEG(t, 8, 8)
	stream := bufio.NewReader(bytes.NewReader(append(append([]byte{}, first...), second...)))

	got, err := readJPEG(stream)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(got)); err != nil {
		t.Fatalf("first split frame not decodable: %v", err)
	}

	got, err = readJPEG(stream)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("second split frame not decodable: %v", err)
	}
	if cfg.Width != 8 || cfg.Height != 8 {
		t.Fatalf("second frame is %dx%d, want 8x8", cfg.Width, cfg.Height)
	}

	if _, err := readJPEG(stream); err != io.EOF {
		t.Fatalf("exhausted stream err = %v, want io.EOF", err)
	}
}

func TestReadJPEGTruncated(t *testing.T) {
	full := encodeJPEG(t, 16, 16)
	truncated := full[:len(full)-4]

	stream := bufio.NewReader(bytes.NewReader(truncated))
	if _, err := readJPEG(stream); err != io.ErrUnexpectedEOF {
		t.Fatalf("truncated stream err = %v, want io.ErrUnexpectedEOF", err)
	}
}
