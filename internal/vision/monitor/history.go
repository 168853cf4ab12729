package monitor

import (
	"sync"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/fusion"
	"github.com/vlasvlasvlas/cupdance/internal/vision/match"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
)

// AngleSample is one row of cup-angle history.
type AngleSample struct {
	TimestampNanos int64
	Angles         [vision.CupCount]float64
	States         [vision.CupCount]vision.CupTrackState
}

// History buffers the live output stream for the debug endpoints. It is
// an output sink; the pipeline pushes into it and the web handlers read
// from it. Old samples are evicted ring-buffer style.
type History struct {
	mu       sync.Mutex
	capacity int
	samples  []AngleSample
	events   []match.Event
	latest   *fusion.Snapshot
	trail    memory.Trail
	silenced bool
}

// NewHistory creates a history buffer holding up to capacity samples.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 2048
	}
	return &History{capacity: capacity}
}

// PublishState records the latest snapshot and appends an angle sample.
func (h *History) PublishState(snap *fusion.Snapshot, trail memory.Trail) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = snap
	h.trail = trail
	h.silenced = false

	var s AngleSample
	s.TimestampNanos = snap.TimestampNanos
	for i, cup := range snap.Cups {
		s.Angles[i] = cup.Angle
		s.States[i] = cup.State
	}
	h.samples = append(h.samples, s)
	if len(h.samples) > h.capacity {
		h.samples = h.samples[len(h.samples)-h.capacity:]
	}
}

// PublishEvent appends a match event, keeping the most recent hundred.
func (h *History) PublishEvent(ev match.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	if len(h.events) > 100 {
		h.events = h.events[len(h.events)-100:]
	}
}

// Silence marks the stream as stopped.
func (h *History) Silence(tsNanos int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.silenced = true
}

// Latest returns the most recent snapshot and trail, or nil before the
// first publish.
func (h *History) Latest() (*fusion.Snapshot, memory.Trail) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.trail
}

// Samples returns a copy of the angle history, newest last.
func (h *History) Samples() []AngleSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AngleSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Events returns a copy of the recent match events.
func (h *History) Events() []match.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]match.Event, len(h.events))
	copy(out, h.events)
	return out
}

// Silenced reports whether the pipeline has signalled shutdown.
func (h *History) Silenced() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.silenced
}

// Age returns how stale the latest sample is, or a negative value before
// the first publish.
func (h *History) Age(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return -1
	}
	return now.Sub(time.Unix(0, h.latest.TimestampNanos))
}
