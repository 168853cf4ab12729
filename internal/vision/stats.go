package vision

import (
	"fmt"
	"sync"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/monitoring"
)

// PipelineStats tracks per-camera frame statistics and fault counters with
// thread-safe operations. All runtime faults (capture faults, stale frames,
// tracking loss) surface here rather than propagating across component
// boundaries.
type PipelineStats struct {
	mu        sync.Mutex
	frames    [2]int64 // valid frames processed, indexed by CameraID
	bytes     [2]int64
	corrupt   [2]int64 // dropped/corrupt frames (CaptureFault)
	stale     [2]int64 // out-of-order frames discarded (ClockDrift)
	dropped   [2]int64 // frames evicted by latest-frame-wins
	matches   int64    // match events fired (rising edges)
	lastReset time.Time
}

// NewPipelineStats creates a new PipelineStats instance.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{lastReset: time.Now()}
}

// AddFrame records a processed frame and its payload size.
func (ps *PipelineStats) AddFrame(cam CameraID, bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.frames[cam&1]++
	ps.bytes[cam&1] += int64(bytes)
}

// AddCorrupt records a dropped or corrupt frame.
func (ps *PipelineStats) AddCorrupt(cam CameraID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.corrupt[cam&1]++
}

// AddStale records an out-of-order frame discarded for clock drift.
func (ps *PipelineStats) AddStale(cam CameraID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.stale[cam&1]++
}

// AddDropped records a frame evicted because a newer one arrived first.
func (ps *PipelineStats) AddDropped(cam CameraID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropped[cam&1]++
}

// AddMatch records a rising match event.
func (ps *PipelineStats) AddMatch() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.matches++
}

// Counts is a point-in-time copy of the counters for the monitor API.
type Counts struct {
	Frames  [2]int64 `json:"frames"`
	Bytes   [2]int64 `json:"bytes"`
	Corrupt [2]int64 `json:"corrupt"`
	Stale   [2]int64 `json:"stale"`
	Dropped [2]int64 `json:"dropped"`
	Matches int64    `json:"matches"`
}

// Snapshot returns the current counters without resetting them.
func (ps *PipelineStats) Snapshot() Counts {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return Counts{
		Frames:  ps.frames,
		Bytes:   ps.bytes,
		Corrupt: ps.corrupt,
		Stale:   ps.stale,
		Dropped: ps.dropped,
		Matches: ps.matches,
	}
}

// GetAndReset returns current counters and resets them, along with the
// duration since the previous reset.
func (ps *PipelineStats) GetAndReset() (c Counts, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := time.Now()
	duration = now.Sub(ps.lastReset)
	c = Counts{
		Frames:  ps.frames,
		Bytes:   ps.bytes,
		Corrupt: ps.corrupt,
		Stale:   ps.stale,
		Dropped: ps.dropped,
		Matches: ps.matches,
	}
	ps.frames = [2]int64{}
	ps.bytes = [2]int64{}
	ps.corrupt = [2]int64{}
	ps.stale = [2]int64{}
	ps.dropped = [2]int64{}
	ps.matches = 0
	ps.lastReset = now
	return c, duration
}

// LogStats logs formatted per-second rates and resets the counters.
func (ps *PipelineStats) LogStats() {
	c, duration := ps.GetAndReset()
	secs := duration.Seconds()
	if secs <= 0 {
		return
	}
	total := c.Frames[0] + c.Frames[1]
	if total == 0 && c.Corrupt[0]+c.Corrupt[1] == 0 {
		return
	}
	msg := fmt.Sprintf("Vision stats (/sec): floor %.1f fps, table %.1f fps, %.2f MB",
		float64(c.Frames[0])/secs, float64(c.Frames[1])/secs,
		float64(c.Bytes[0]+c.Bytes[1])/secs/(1024*1024))
	if faults := c.Corrupt[0] + c.Corrupt[1]; faults > 0 {
		msg += fmt.Sprintf(", %d corrupt", faults)
	}
	if stale := c.Stale[0] + c.Stale[1]; stale > 0 {
		msg += fmt.Sprintf(", %d stale", stale)
	}
	if dropped := c.Dropped[0] + c.Dropped[1]; dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", dropped)
	}
	if c.Matches > 0 {
		msg += fmt.Sprintf(", %d matches", c.Matches)
	}
	monitoring.Logf("%s", msg)
}
