// Package capture runs configured frame grabbers. Each channel owns one
// acquisition session and pulls frames from it on its own goroutine.
package capture

import (
	"encoding/json"
	"time"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
)

// ChannelStatus represents the current state of one channel
type ChannelStatus struct {
	ChannelID   string               `json:"channel_id"`
	SessionID   string               `json:"session_id,omitempty"`
	Driver      string               `json:"driver"`
	Device      string               `json:"device"`
	State       string               `json:"state,omitempty"`
	IsRunning   bool                 `json:"is_running"`
	IsCapturing bool                 `json:"is_capturing"`
	RingBuffers int                  `json:"ring_buffers"`
	Geometry    *acquire.Geometry    `json:"geometry,omitempty"`
	DropCount   uint64               `json:"drop_count"`
	Latency     *Latency             `json:"latency,omitempty"`
	Stats       *acquire.EngineStats `json:"stats,omitempty"`
	StreamStart *time.Time           `json:"stream_start,omitempty"`
	LastFrame   *FrameInfo           `json:"last_frame,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Latency is the range of delay between acquisition and delivery.
type Latency struct {
	Min time.Duration `json:"-"`
	Max time.Duration `json:"-"`
}

// MarshalJSON reports the bounds in milliseconds.
func (l Latency) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MinMs float64 `json:"min_ms"`
		MaxMs float64 `json:"max_ms"`
	}{
		MinMs: float64(l.Min) / float64(time.Millisecond),
		MaxMs: float64(l.Max) / float64(time.Millisecond),
	})
}

// FrameInfo describes the most recently delivered frame.
type FrameInfo struct {
	Offset    uint32        `json:"offset"`
	Size      int           `json:"size"`
	Timestamp time.Duration `json:"timestamp_ns"`
	Duration  time.Duration `json:"duration_ns"`
	Dropped   uint32        `json:"dropped"`
	ZeroCopy  bool          `json:"zero_copy"`
	Received  time.Time     `json:"received"`
}
