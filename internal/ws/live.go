// Package ws serves the live camera session: a client streams single frames
// over a WebSocket and receives detections for each one synchronously,
// without going through the job pipeline or history.
package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vigil/internal/detection"
	"vigil/internal/media"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  256 * 1024, // base64 encoded JPEG frames
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FrameMessage is one client frame submission.
type FrameMessage struct {
	FrameB64 string `json:"frame_b64"`
}

// ResultMessage is the detection response for one frame.
type ResultMessage struct {
	Type       string                `json:"type"` // "detections" or "error"
	Detections []detection.Detection `json:"detections,omitempty"`
	Count      int                   `json:"count"`
	HasWeapon  bool                  `json:"has_weapon"`
	Error      string                `json:"error,omitempty"`
}

// LiveHandler upgrades connections and runs the frame/response loop.
type LiveHandler struct {
	registry *detection.Registry
	floor    float64
	logger   *slog.Logger
}

// NewLiveHandler creates a live session handler. floor is the confidence
// threshold applied to responses.
func NewLiveHandler(registry *detection.Registry, floor float64, logger *slog.Logger) *LiveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveHandler{registry: registry, floor: floor, logger: logger}
}

// ServeHTTP upgrades the request and serves frames until the client
// disconnects.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	h.logger.Info("live session opened", "remote", r.RemoteAddr)
	conn.SetReadLimit(16 * 1024 * 1024)

	index := 0
	for {
		var msg FrameMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("live session read", "err", err)
			}
			return
		}

		resp := h.processFrame(r.Context(), msg, index)
		index++

		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(resp); err != nil {
			h.logger.Warn("live session write", "err", err)
			return
		}
	}
}

func (h *LiveHandler) processFrame(ctx context.Context, msg FrameMessage, index int) ResultMessage {
	data, err := base64.StdEncoding.DecodeString(msg.FrameB64)
	if err != nil {
		return ResultMessage{Type: "error", Error: "invalid base64 frame"}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ResultMessage{Type: "error", Error: "frame is not a decodable image"}
	}

	frame := &media.Frame{Index: index, Data: data, Width: cfg.Width, Height: cfg.Height}

	var dets []detection.Detection
	hasWeapon := false
	for _, d := range h.registry.All() {
		if !d.IsHealthy() {
			continue
		}
		out, err := d.Detect(ctx, frame)
		if err != nil {
			h.logger.Warn("live detection failed", "detector", d.Name(), "err", err)
			continue
		}
		for _, det := range out {
			if det.Confidence < h.floor {
				continue
			}
			dets = append(dets, det)
			if detection.IsWeaponLabel(det.Label) {
				hasWeapon = true
			}
		}
	}

	return ResultMessage{Type: "detections", Detections: dets, Count: len(dets), HasWeapon: hasWeapon}
}
