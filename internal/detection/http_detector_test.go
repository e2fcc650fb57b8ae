package detection

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vigil/internal/media"
)

func testFrame() *media.Frame {
	return &media.Frame{
		Index:     3,
		Timestamp: 3 * time.Second,
		Data:      []byte("jpegbytes"),
		Width:     640,
		Height:    480,
	}
}

func TestHTTPDetectorDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing frame file: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{
			Detections: []wireDetection{
				{Class: "pistol", Confidence: 0.91, BBox: []float64{64, 48, 320, 240}},
				{Class: "broken", Confidence: 0.5, BBox: []float64{1, 2}},
			},
			Count: 2,
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector("weapon", KindWeapon, srv.URL, time.Second)
	dets, err := d.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1 (malformed bbox dropped)", len(dets))
	}

	got := dets[0]
	if got.Label != "pistol" || got.Model != "weapon" || got.FrameIndex != 3 {
		t.Fatalf("detection metadata wrong: %+v", got)
	}
	if got.TimeOffsetSec != 3.0 {
		t.Fatalf("TimeOffsetSec = %v, want 3.0", got.TimeOffsetSec)
	}
	wantBox := BBox{X: 0.1, Y: 0.1, W: 0.4, H: 0.4}
	for _, pair := range [][2]float64{
		{got.Box.X, wantBox.X}, {got.Box.Y, wantBox.Y},
		{got.Box.W, wantBox.W}, {got.Box.H, wantBox.H},
	} {
		if math.Abs(pair[0]-pair[1]) > 1e-9 {
			t.Fatalf("normalized box = %+v, want %+v", got.Box, wantBox)
		}
	}
}

func TestHTTPDetectorDetectClampsBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{
			Detections: []wireDetection{
				{Class: "rifle", Confidence: 0.8, BBox: []float64{-10, -5, 700, 500}},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector("weapon", KindWeapon, srv.URL, time.Second)
	dets, err := d.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatal(err)
	}
	b := dets[0].Box
	if b.X < 0 || b.Y < 0 || b.W > 1 || b.H > 1 {
		t.Fatalf("box not clamped to [0,1]: %+v", b)
	}
}

func TestHTTPDetectorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d := NewHTTPDetector("weapon", KindWeapon, srv.URL, time.Second)
	_, err := d.Detect(context.Background(), testFrame())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// Transport failure must mark the cached health state down.
	if d.IsHealthy() {
		t.Fatal("detector still healthy after transport failure")
	}
}

func TestHTTPDetectorBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector("weapon", KindWeapon, srv.URL, time.Second)
	_, err := d.Detect(context.Background(), testFrame())
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("backend 500 is a frame failure, not unavailability: %v", err)
	}
}

func TestHTTPDetectorHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	d := NewHTTPDetector("weapon", KindWeapon, srv.URL, time.Second)
	if !d.IsHealthy() {
		t.Fatal("expected healthy backend")
	}

	// The result is cached, so flipping the backend is invisible until the
	// cache window passes.
	healthy = false
	if !d.IsHealthy() {
		t.Fatal("expected cached health result")
	}
}
