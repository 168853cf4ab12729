// Package table turns the tabletop camera stream into four cup angle
// states. Frames are rectified through the calibration homography, markers
// are detected per cup, and each cup's angle runs through an independent
// occlusion-tolerant latch state machine.
package table

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/vlasvlasvlas/cupdance/internal/config"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/geom"
)

// ErrSkippedFrame is returned when a frame was skipped (corrupt or stale).
// The previous cup states are retained; this never halts the pipeline.
var ErrSkippedFrame = errors.New("table: frame skipped")

// DetectionParams configures marker detection on the canonical plane.
type DetectionParams struct {
	// PlaneSize is the canonical table plane edge length in pixels.
	PlaneSize int
	// MarkerThreshold is the dark-pixel cutoff (0-255); pixels darker than
	// this inside a cup's annulus count toward the marker.
	MarkerThreshold int
	// MarkerMinMass is the pixel mass at which confidence saturates to 1.
	MarkerMinMass int
	// InnerRadiusFrac excludes the cup body disc from detection, as a
	// fraction of the cup cell's half-edge.
	InnerRadiusFrac float64
	// OuterRadiusFrac bounds the detection annulus, as a fraction of the
	// cup cell's half-edge.
	OuterRadiusFrac float64
}

// DefaultDetectionParams returns the marker detection defaults.
func DefaultDetectionParams() DetectionParams {
	return DetectionParams{
		PlaneSize:       512,
		MarkerThreshold: 60,
		MarkerMinMass:   50,
		InnerRadiusFrac: 0.25,
		OuterRadiusFrac: 1.0,
	}
}

// ParamsFromTuning builds detection and latch params from the tuning config.
func ParamsFromTuning(cfg *config.TuningConfig) (DetectionParams, LatchParams) {
	det := DefaultDetectionParams()
	det.PlaneSize = cfg.GetPlaneSize()
	det.MarkerThreshold = cfg.GetMarkerThreshold()
	det.MarkerMinMass = cfg.GetMarkerMinMass()

	latch := DefaultLatchParams()
	latch.ConfidenceThreshold = cfg.GetConfidenceThreshold()
	latch.SmoothingAlpha = cfg.GetSmoothingAlpha()
	latch.MaxJumpPerTick = cfg.GetMaxJumpPerTick()
	latch.ReconcileTolerance = cfg.GetReconcileTolerance()
	latch.OcclusionGrace = cfg.GetOcclusionGrace()
	latch.LatchHoldTimeout = cfg.GetLatchHoldTimeout()
	latch.NotchCount = cfg.GetNotchCount()
	latch.NotchEpsilon = cfg.GetNotchEpsilon()
	return det, latch
}

// Detection is one marker observation for a cup.
type Detection struct {
	Found      bool
	Angle      float64 // radians [0,2π), relative to the cup's +x axis
	Confidence float64 // [0,1]
}

// Analyzer rectifies table frames and drives the four cup latches. It is
// the sole writer of the CupStates.
type Analyzer struct {
	mu    sync.Mutex
	det   DetectionParams
	homog *geom.Homography
	stats *vision.PipelineStats

	plane    []byte // reusable canonical plane buffer
	cups     [vision.CupCount]*cupLatch
	lastTS   int64
	hasValid bool
}

// NewAnalyzer creates a table analyzer. The homography is mandatory: a nil
// transform means calibration never ran, which is a fatal configuration
// error at startup (the analyzer refuses to start).
func NewAnalyzer(det DetectionParams, latch LatchParams, h *geom.Homography, stats *vision.PipelineStats) (*Analyzer, error) {
	if h == nil {
		return nil, geom.ErrCalibrationMissing
	}
	if det.PlaneSize <= 0 {
		return nil, fmt.Errorf("table: plane size must be positive, got %d", det.PlaneSize)
	}
	a := &Analyzer{det: det, homog: h, stats: stats}
	for i := range a.cups {
		a.cups[i] = newCupLatch(i, latch)
	}
	return a, nil
}

// Process consumes one table frame: rectify, detect, latch. Corrupt frames
// and out-of-order timestamps are skipped with ErrSkippedFrame.
func (a *Analyzer) Process(frame *vision.Frame) error {
	if !frame.Valid() {
		if a.stats != nil {
			a.stats.AddCorrupt(vision.CameraTable)
		}
		return fmt.Errorf("%w: corrupt frame", ErrSkippedFrame)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if frame.TimestampNanos <= a.lastTS && a.hasValid {
		if a.stats != nil {
			a.stats.AddStale(vision.CameraTable)
		}
		return fmt.Errorf("%w: stale timestamp", ErrSkippedFrame)
	}

	a.plane = a.homog.Rectify(frame.Pix, frame.Width, frame.Height, a.det.PlaneSize, a.plane)

	for i := range a.cups {
		d := a.detectCup(i)
		a.cups[i].Observe(d.Found, d.Angle, d.Confidence, frame.TimestampNanos)
	}

	a.lastTS = frame.TimestampNanos
	a.hasValid = true
	if a.stats != nil {
		a.stats.AddFrame(vision.CameraTable, len(frame.Pix))
	}
	return nil
}

// detectCup finds the marker in cup i's quadrant of the canonical plane.
// Cups sit at the quadrant centres, ordered top-left, top-right,
// bottom-left, bottom-right. Dark pixels in an annulus around the cup
// centre (excluding the cup body disc) vote for the marker; the centroid
// direction gives the angle.
func (a *Analyzer) detectCup(i int) Detection {
	size := a.det.PlaneSize
	half := size / 2
	x0 := (i % 2) * half
	y0 := (i / 2) * half

	cx := float64(x0) + float64(half)/2
	cy := float64(y0) + float64(half)/2
	rOuter := float64(half) / 2 * a.det.OuterRadiusFrac
	rInner := float64(half) / 2 * a.det.InnerRadiusFrac

	var mass int
	var sumX, sumY float64
	thresh := byte(a.det.MarkerThreshold)
	for y := y0; y < y0+half; y++ {
		for x := x0; x < x0+half; x++ {
			if a.plane[y*size+x] >= thresh {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			r2 := dx*dx + dy*dy
			if r2 < rInner*rInner || r2 > rOuter*rOuter {
				continue
			}
			mass++
			sumX += float64(x)
			sumY += float64(y)
		}
	}

	if mass == 0 {
		return Detection{}
	}

	dx := sumX/float64(mass) - cx
	dy := sumY/float64(mass) - cy
	conf := float64(mass) / float64(a.det.MarkerMinMass)
	if conf > 1 {
		conf = 1
	}
	return Detection{
		Found:      true,
		Angle:      vision.NormalizeAngle(math.Atan2(dy, dx)),
		Confidence: conf,
	}
}

// Snapshot returns a copy of the four published cup states.
func (a *Analyzer) Snapshot() [vision.CupCount]vision.CupState {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [vision.CupCount]vision.CupState
	for i, c := range a.cups {
		out[i] = c.State()
	}
	return out
}

// LastTimestamp returns the capture timestamp of the last valid frame.
func (a *Analyzer) LastTimestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTS
}
