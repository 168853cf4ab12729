// Package vision holds the shared data model for the cupdance fusion core:
// camera frames, the floor motion-energy grid, and per-cup tracking state.
// Analysis lives in the subpackages (floor, table, fusion, memory, match);
// this package defines the types they exchange so that each mutable entity
// keeps exactly one writer.
package vision

import "math"

// CameraID identifies one of the two camera streams.
type CameraID uint8

const (
	// CameraFloor is the zenithal camera looking down at the dance floor.
	CameraFloor CameraID = 0
	// CameraTable is the tabletop camera looking at the four cups.
	CameraTable CameraID = 1
)

// String returns the human-readable camera name.
func (c CameraID) String() string {
	switch c {
	case CameraFloor:
		return "floor"
	case CameraTable:
		return "table"
	}
	return "unknown"
}

// Frame is a single grayscale camera frame. Frames are owned by the frame
// source and borrowed by the analyzer that processes them; they must not be
// retained past that processing step.
type Frame struct {
	Camera         CameraID
	TimestampNanos int64
	Width          int
	Height         int
	// Pix is the 8-bit grayscale buffer, row-major, len = Width*Height.
	Pix []byte
}

// Valid reports whether the frame has coherent geometry and a complete
// pixel buffer. Invalid frames are counted as capture faults and skipped.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Pix) == f.Width*f.Height
}

// GridSize is the fixed edge length of the motion-energy grid.
const GridSize = 16

// GridCells is the total cell count of a MotionGrid or memory trail.
const GridCells = GridSize * GridSize

// MotionGrid is the 16×16 spatial discretization of floor motion intensity,
// row-major, each cell in [0,1]. Produced exclusively by the floor analyzer.
type MotionGrid [GridCells]float32

// Cell returns the energy at (row, col).
func (g *MotionGrid) Cell(row, col int) float32 { return g[row*GridSize+col] }

// FloorSummary carries scalar features of the detected figure alongside the
// grid: centre of mass in normalized coordinates and total coverage.
type FloorSummary struct {
	CenterX  float64 // [0,1], 0 = left edge
	CenterY  float64 // [0,1], 0 = top edge
	Coverage float64 // [0,1] fraction of foreground pixels
}

// CupCount is the fixed number of tracked cups.
const CupCount = 4

// CupTrackState represents the lifecycle state of a cup's angle latch.
type CupTrackState string

const (
	// CupLost means no valid angle is available for the cup.
	CupLost CupTrackState = "lost"
	// CupTracking means the cup has a live, confident detection.
	CupTracking CupTrackState = "tracking"
	// CupLatched means detection was lost but the angle is held frozen.
	CupLatched CupTrackState = "latched"
)

// CupState is the published tracking state of a single cup. Written
// exclusively by the table analyzer.
type CupState struct {
	ID                 int
	Angle              float64 // radians, [0, 2π)
	Confidence         float64 // [0,1]
	State              CupTrackState
	LastDetectionNanos int64
	AngularVelocity    float64 // rad/s, smoothed
}

// HoldValue maps the cup angle onto the [0,1] "hold ↔ erase" axis used by
// the memory engine and downstream parameter mappers. Lost cups contribute
// a neutral zero.
func (c CupState) HoldValue() float64 {
	if c.State == CupLost {
		return 0
	}
	return c.Angle / (2 * math.Pi)
}

// NormalizeAngle wraps an angle into [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// AngularDistance returns the circular distance between two angles in
// radians, always in [0, π].
func AngularDistance(a, b float64) float64 {
	d := math.Abs(NormalizeAngle(a) - NormalizeAngle(b))
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// ShortestArc returns the signed smallest rotation from a to b, in (−π, π].
func ShortestArc(a, b float64) float64 {
	d := NormalizeAngle(b) - NormalizeAngle(a)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
