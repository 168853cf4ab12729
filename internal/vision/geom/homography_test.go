package geom

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHomography_Singular(t *testing.T) {
	_, err := NewHomography([9]float64{1, 2, 3, 2, 4, 6, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for singular matrix")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	h := Identity()
	x, y := h.Apply(12.5, 7.25)
	if x != 12.5 || y != 7.25 {
		t.Errorf("identity moved point to (%v,%v)", x, y)
	}
	x, y = h.ApplyInverse(3, 9)
	if x != 3 || y != 9 {
		t.Errorf("identity inverse moved point to (%v,%v)", x, y)
	}
}

func TestApplyInverse_UndoesApply(t *testing.T) {
	// Scale by 2 with a translation; a proper projective round trip.
	h, err := NewHomography([9]float64{2, 0, 10, 0, 2, -4, 0, 0, 1})
	require.NoError(t, err)

	sx, sy := 31.0, 17.0
	cx, cy := h.Apply(sx, sy)
	gx, gy := h.ApplyInverse(cx, cy)
	assert.InDelta(t, sx, gx, 1e-9)
	assert.InDelta(t, sy, gy, 1e-9)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrCalibrationMissing) {
		t.Fatalf("expected ErrCalibrationMissing, got %v", err)
	}
}

func TestLoad_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hom.json")
	content := `{"matrix": [1, 0, 5, 0, 1, -2, 0, 0, 1]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	h, err := Load(path)
	require.NoError(t, err)
	x, y := h.Apply(0, 0)
	assert.InDelta(t, 5.0, x, 1e-9)
	assert.InDelta(t, -2.0, y, 1e-9)
}

func TestLoad_BadMatrixLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"matrix": [1,2,3]}`), 0644))
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for 3-element matrix")
	}
	if errors.Is(err, ErrCalibrationMissing) {
		t.Fatal("malformed calibration must not look like missing calibration")
	}
}

func TestBilinearSample(t *testing.T) {
	// 2x2 gradient image.
	pix := []byte{0, 100, 100, 200}
	v, ok := BilinearSample(pix, 2, 2, 0.5, 0.5)
	if !ok {
		t.Fatal("sample inside image must succeed")
	}
	if math.Abs(v-100) > 1e-9 {
		t.Errorf("expected interpolated 100, got %v", v)
	}
	if _, ok := BilinearSample(pix, 2, 2, -0.1, 0); ok {
		t.Error("sample outside image must fail")
	}
}

func TestRectify_Identity(t *testing.T) {
	const n = 8
	src := make([]byte, n*n)
	for i := range src {
		src[i] = byte(i)
	}
	dst := Identity().Rectify(src, n, n, n, nil)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("identity rectify changed pixel %d: %d != %d", i, dst[i], src[i])
		}
	}
}
