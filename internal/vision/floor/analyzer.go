// Package floor turns the zenithal floor camera stream into the 16×16
// motion-energy grid. It keeps an adaptively updated background model and
// extracts the dancer as the foreground difference against it.
package floor

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/gift"

	"github.com/vlasvlasvlas/cupdance/internal/config"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// ErrSkippedFrame is returned when a frame was skipped (corrupt or stale).
// The last valid grid is retained; this never halts the pipeline.
var ErrSkippedFrame = errors.New("floor: frame skipped")

// Params holds the floor analyzer tuning.
type Params struct {
	// BackgroundUpdateFraction is β in background ← β·frame + (1−β)·background.
	BackgroundUpdateFraction float64
	// EnergySmoothing is α in energy ← α·observed + (1−α)·energy_prev.
	EnergySmoothing float64
	// DiffThreshold is the |frame − background| cutoff (0-255) for foreground.
	DiffThreshold float64
	// BlurSigma is the Gaussian pre-blur sigma; zero disables the blur.
	BlurSigma float64
}

// DefaultParams returns the floor analyzer defaults.
func DefaultParams() Params {
	return Params{
		BackgroundUpdateFraction: 0.02,
		EnergySmoothing:          0.4,
		DiffThreshold:            40,
		BlurSigma:                2.0,
	}
}

// ParamsFromTuning builds Params from the tuning configuration.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		BackgroundUpdateFraction: cfg.GetBackgroundUpdateFraction(),
		EnergySmoothing:          cfg.GetEnergySmoothing(),
		DiffThreshold:            float64(cfg.GetDiffThreshold()),
		BlurSigma:                cfg.GetBlurSigma(),
	}
}

// Analyzer maintains the background model and the smoothed energy grid for
// the floor camera. It is the sole writer of the MotionGrid.
type Analyzer struct {
	mu     sync.Mutex
	params Params
	stats  *vision.PipelineStats

	width, height int
	background    []float32 // per-pixel model, seeded from first valid frame
	seeded        bool

	grid     vision.MotionGrid
	summary  vision.FloorSummary
	lastTS   int64
	blur     *gift.GIFT
	blurDst  *image.Gray
	hasValid bool
}

// NewAnalyzer creates a floor analyzer. stats may be nil.
func NewAnalyzer(params Params, stats *vision.PipelineStats) *Analyzer {
	a := &Analyzer{params: params, stats: stats}
	if params.BlurSigma > 0 {
		a.blur = gift.New(gift.GaussianBlur(float32(params.BlurSigma)))
	}
	return a
}

func (a *Analyzer) addCorrupt() {
	if a.stats != nil {
		a.stats.AddCorrupt(vision.CameraFloor)
	}
}

// Process consumes one floor frame and updates the grid. Corrupt frames and
// out-of-order timestamps are skipped with ErrSkippedFrame; the previous
// grid is held.
func (a *Analyzer) Process(frame *vision.Frame) error {
	if !frame.Valid() {
		a.addCorrupt()
		return fmt.Errorf("%w: corrupt frame", ErrSkippedFrame)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if frame.TimestampNanos <= a.lastTS && a.hasValid {
		if a.stats != nil {
			a.stats.AddStale(vision.CameraFloor)
		}
		return fmt.Errorf("%w: stale timestamp", ErrSkippedFrame)
	}

	if a.seeded && (frame.Width != a.width || frame.Height != a.height) {
		a.addCorrupt()
		return fmt.Errorf("%w: geometry changed %dx%d -> %dx%d",
			ErrSkippedFrame, a.width, a.height, frame.Width, frame.Height)
	}

	pix := frame.Pix
	if a.blur != nil {
		pix = a.blurred(frame)
	}

	if !a.seeded {
		a.width, a.height = frame.Width, frame.Height
		a.background = make([]float32, len(pix))
		for i, p := range pix {
			a.background[i] = float32(p)
		}
		a.seeded = true
	}

	a.updateModel(pix)
	a.lastTS = frame.TimestampNanos
	a.hasValid = true
	if a.stats != nil {
		a.stats.AddFrame(vision.CameraFloor, len(frame.Pix))
	}
	return nil
}

// blurred runs the Gaussian pre-blur, reusing the destination buffer.
func (a *Analyzer) blurred(frame *vision.Frame) []byte {
	src := &image.Gray{
		Pix:    frame.Pix,
		Stride: frame.Width,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	if a.blurDst == nil || a.blurDst.Rect != src.Rect {
		a.blurDst = image.NewGray(src.Rect)
	}
	a.blur.Draw(a.blurDst, src)
	return a.blurDst.Pix
}

func (a *Analyzer) updateModel(pix []byte) {
	beta := float32(a.params.BackgroundUpdateFraction)
	thresh := float32(a.params.DiffThreshold)
	alpha := float32(a.params.EnergySmoothing)

	var counts [vision.GridCells]int
	var cellSizes [vision.GridCells]int
	var fgTotal, sumX, sumY int64

	w, h := a.width, a.height
	for y := 0; y < h; y++ {
		row := y * w
		cellRow := y * vision.GridSize / h * vision.GridSize
		for x := 0; x < w; x++ {
			i := row + x
			obs := float32(pix[i])
			diff := obs - a.background[i]
			if diff < 0 {
				diff = -diff
			}
			cell := cellRow + x*vision.GridSize/w
			cellSizes[cell]++
			if diff > thresh {
				counts[cell]++
				fgTotal++
				sumX += int64(x)
				sumY += int64(y)
			}
			a.background[i] += beta * (obs - a.background[i])
		}
	}

	for c := 0; c < vision.GridCells; c++ {
		var observed float32
		if cellSizes[c] > 0 {
			observed = float32(counts[c]) / float32(cellSizes[c])
		}
		e := a.grid[c] + alpha*(observed-a.grid[c])
		if e < 0 {
			e = 0
		} else if e > 1 {
			e = 1
		}
		a.grid[c] = e
	}

	a.summary.Coverage = float64(fgTotal) / float64(w*h)
	// Centre of mass only moves while a figure is actually present.
	if a.summary.Coverage > 0.01 {
		a.summary.CenterX = float64(sumX) / float64(fgTotal) / float64(w)
		a.summary.CenterY = float64(sumY) / float64(fgTotal) / float64(h)
	}
}

// Snapshot returns a copy of the current grid and floor summary.
func (a *Analyzer) Snapshot() (vision.MotionGrid, vision.FloorSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grid, a.summary
}

// LastTimestamp returns the capture timestamp of the last valid frame.
func (a *Analyzer) LastTimestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTS
}
