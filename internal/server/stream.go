package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// PreviewInterval is the minimum time between two encoded preview frames,
// about 15 FPS.
const PreviewInterval = 66 * time.Millisecond

// Preview keeps the latest capture frame as JPEG. It is fed from the
// capture loop, so the camera is only read once.
type Preview struct {
	interval time.Duration
	mu       sync.RWMutex
	jpeg     []byte
	seq      uint64
	encoded  time.Time
}

// NewPreview creates a Preview that encodes at most one frame per interval.
func NewPreview(interval time.Duration) *Preview {
	return &Preview{interval: interval}
}

// Update encodes frame when the interval has elapsed. It does not keep the Mat.
func (p *Preview) Update(frame *gocv.Mat) {
	if frame == nil || frame.Empty() {
		return
	}

	p.mu.RLock()
	due := time.Since(p.encoded) >= p.interval
	p.mu.RUnlock()
	if !due {
		return
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	p.Set(data)
}

// Set stores an already encoded JPEG.
func (p *Preview) Set(jpeg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jpeg = jpeg
	p.seq++
	p.encoded = time.Now()
}

// Latest returns the latest JPEG and its sequence number. The sequence is
// 0 before the first frame.
func (p *Preview) Latest() ([]byte, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jpeg, p.seq
}

// StreamHandler serves MJPEG frames from the capture preview.
type StreamHandler struct {
	preview *Preview
}

// NewStreamHandler creates a new StreamHandler over preview.
func NewStreamHandler(preview *Preview) *StreamHandler {
	return &StreamHandler{preview: preview}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		data, seq := h.preview.Latest()
		if seq == sent {
			time.Sleep(h.preview.interval)
			continue
		}
		sent = seq

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
