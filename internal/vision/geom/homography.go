// Package geom provides the planar homography used to rectify the table
// camera view into canonical plane coordinates. The matrix is produced by
// the external calibration tool and only consumed here; the dependency is
// strictly one-way.
package geom

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// ErrCalibrationMissing is returned when no homography is available at
// startup. The table analyzer treats this as a fatal configuration error.
var ErrCalibrationMissing = errors.New("geom: calibration homography missing")

// Homography is a 3×3 planar projective transform mapping source image
// coordinates to canonical plane coordinates.
type Homography struct {
	fwd *mat.Dense // canonical ← source
	inv *mat.Dense // source ← canonical
}

// NewHomography builds a homography from a row-major 9-element matrix.
// The matrix must be invertible; a singular matrix is a calibration fault.
func NewHomography(m [9]float64) (*Homography, error) {
	fwd := mat.NewDense(3, 3, m[:])
	var inv mat.Dense
	if err := inv.Inverse(fwd); err != nil {
		return nil, fmt.Errorf("geom: homography not invertible: %w", err)
	}
	return &Homography{fwd: fwd, inv: &inv}, nil
}

// Identity returns the identity homography, useful for tests and for table
// feeds that are already rectified.
func Identity() *Homography {
	h, _ := NewHomography([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	return h
}

// calibrationFile is the JSON layout written by the calibration tool.
type calibrationFile struct {
	Matrix []float64 `json:"matrix"`
}

// Load reads a homography from the calibration tool's JSON output.
// A missing file maps to ErrCalibrationMissing so the caller can
// distinguish absent calibration from a malformed one.
func Load(path string) (*Homography, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCalibrationMissing, path)
		}
		return nil, fmt.Errorf("geom: failed to read calibration file: %w", err)
	}
	var cf calibrationFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("geom: failed to parse calibration file: %w", err)
	}
	if len(cf.Matrix) != 9 {
		return nil, fmt.Errorf("geom: calibration matrix must have 9 elements, got %d", len(cf.Matrix))
	}
	var m [9]float64
	copy(m[:], cf.Matrix)
	return NewHomography(m)
}

func apply(h *mat.Dense, x, y float64) (float64, float64) {
	u := h.At(0, 0)*x + h.At(0, 1)*y + h.At(0, 2)
	v := h.At(1, 0)*x + h.At(1, 1)*y + h.At(1, 2)
	w := h.At(2, 0)*x + h.At(2, 1)*y + h.At(2, 2)
	if w == 0 {
		return 0, 0
	}
	return u / w, v / w
}

// Apply maps a source-image point into the canonical plane.
func (h *Homography) Apply(x, y float64) (float64, float64) {
	return apply(h.fwd, x, y)
}

// ApplyInverse maps a canonical-plane point back into the source image.
// Rectification walks the canonical plane and samples the source through
// this inverse.
func (h *Homography) ApplyInverse(x, y float64) (float64, float64) {
	return apply(h.inv, x, y)
}

// BilinearSample reads a subpixel grayscale value from a row-major buffer.
// Points outside the image return 0 and false.
func BilinearSample(pix []byte, w, hgt int, x, y float64) (float64, bool) {
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(hgt-1) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= hgt {
		y1 = hgt - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	p00 := float64(pix[y0*w+x0])
	p10 := float64(pix[y0*w+x1])
	p01 := float64(pix[y1*w+x0])
	p11 := float64(pix[y1*w+x1])
	top := p00*(1-fx) + p10*fx
	bot := p01*(1-fx) + p11*fx
	return top*(1-fy) + bot*fy, true
}

// Rectify warps a source grayscale image into a square canonical plane of
// the given edge length. Canonical pixels that fall outside the source are
// left at zero.
func (h *Homography) Rectify(pix []byte, w, hgt, planeSize int, dst []byte) []byte {
	if len(dst) < planeSize*planeSize {
		dst = make([]byte, planeSize*planeSize)
	}
	for cy := 0; cy < planeSize; cy++ {
		for cx := 0; cx < planeSize; cx++ {
			sx, sy := h.ApplyInverse(float64(cx), float64(cy))
			v, ok := BilinearSample(pix, w, hgt, sx, sy)
			if ok {
				dst[cy*planeSize+cx] = byte(v + 0.5)
			} else {
				dst[cy*planeSize+cx] = 0
			}
		}
	}
	return dst
}
