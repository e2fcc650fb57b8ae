package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"vigil/internal/media"
)

// requestThreshold is the confidence sent to the backend. It is deliberately
// low: the aggregation step applies the real configured floor, so the adapter
// returns raw detections.
const requestThreshold = 0.1

// HTTPDetector calls a remote inference service over HTTP. The service
// accepts a multipart-encoded frame on POST /detect and exposes GET /health.
// The loaded model lives in the remote process; this client is the immutable
// handle injected at construction and shared by all jobs.
type HTTPDetector struct {
	name     string
	kind     Kind
	endpoint string
	client   *http.Client

	mu          sync.Mutex
	healthy     bool
	lastChecked time.Time
}

// NewHTTPDetector creates a detector client for the given backend endpoint.
func NewHTTPDetector(name string, kind Kind, endpoint string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPDetector{
		name:     name,
		kind:     kind,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDetector) Name() string { return d.name }

func (d *HTTPDetector) Kind() Kind { return d.kind }

// IsHealthy checks the backend health endpoint. Results are cached for 30
// seconds to keep per-frame dispatch cheap.
func (d *HTTPDetector) IsHealthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.lastChecked) < 30*time.Second {
		return d.healthy
	}

	resp, err := d.client.Get(d.endpoint + "/health")
	d.lastChecked = time.Now()
	if err != nil {
		d.healthy = false
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	d.healthy = resp.StatusCode == http.StatusOK
	return d.healthy
}

// wireDetection mirrors the inference service response schema.
type wireDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
}

type wireResponse struct {
	Detections      []wireDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// Detect sends one frame to the backend and converts the pixel-space response
// to frame-normalized detections.
func (d *HTTPDetector) Detect(ctx context.Context, frame *media.Frame) ([]Detection, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if _, err := fw.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	w.WriteField("conf_threshold", fmt.Sprintf("%.2f", requestThreshold))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.markUnhealthy()
		return nil, fmt.Errorf("%s: %w: %v", d.name, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s returned status %d: %s", d.name, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", d.name, err)
	}

	return d.convert(frame, out.Detections), nil
}

func (d *HTTPDetector) convert(frame *media.Frame, wire []wireDetection) []Detection {
	dets := make([]Detection, 0, len(wire))
	for _, wd := range wire {
		if len(wd.BBox) < 4 || frame.Width <= 0 || frame.Height <= 0 {
			continue
		}
		fw, fh := float64(frame.Width), float64(frame.Height)
		box := BBox{
			X: clamp01(wd.BBox[0] / fw),
			Y: clamp01(wd.BBox[1] / fh),
			W: clamp01((wd.BBox[2] - wd.BBox[0]) / fw),
			H: clamp01((wd.BBox[3] - wd.BBox[1]) / fh),
		}
		dets = append(dets, Detection{
			Label:         wd.Class,
			Confidence:    wd.Confidence,
			Box:           box,
			FrameIndex:    frame.Index,
			TimeOffsetSec: frame.Timestamp.Seconds(),
			Model:         d.name,
		})
	}
	return dets
}

func (d *HTTPDetector) markUnhealthy() {
	d.mu.Lock()
	d.healthy = false
	d.lastChecked = time.Now()
	d.mu.Unlock()
}

// Close shuts down idle connections held by the HTTP client.
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ Detector = (*HTTPDetector)(nil)
