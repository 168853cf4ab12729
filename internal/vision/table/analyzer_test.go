package table

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/geom"
)

const planeSize = 128

func testDetectionParams() DetectionParams {
	return DetectionParams{
		PlaneSize:       planeSize,
		MarkerThreshold: 60,
		MarkerMinMass:   10,
		InnerRadiusFrac: 0.25,
		OuterRadiusFrac: 1.0,
	}
}

// markerFrame paints a white plane with one dark marker dot per requested
// cup, placed at the given angle from the cup centre. The frame is already
// rectified, so tests pair it with the identity homography.
func markerFrame(ts int64, angles map[int]float64) *vision.Frame {
	pix := make([]byte, planeSize*planeSize)
	for i := range pix {
		pix[i] = 255
	}
	half := planeSize / 2
	for cup, angle := range angles {
		cx := float64((cup%2)*half) + float64(half)/2
		cy := float64((cup/2)*half) + float64(half)/2
		r := float64(half) / 2 * 0.6 // inside the annulus
		mx := int(cx + r*math.Cos(angle))
		my := int(cy + r*math.Sin(angle))
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				pix[(my+dy)*planeSize+(mx+dx)] = 0
			}
		}
	}
	return &vision.Frame{Camera: vision.CameraTable, TimestampNanos: ts, Width: planeSize, Height: planeSize, Pix: pix}
}

func TestNewAnalyzer_RequiresHomography(t *testing.T) {
	_, err := NewAnalyzer(testDetectionParams(), testLatchParams(), nil, nil)
	if !errors.Is(err, geom.ErrCalibrationMissing) {
		t.Fatalf("expected ErrCalibrationMissing, got %v", err)
	}
}

func TestAnalyzer_DetectsMarkerAngles(t *testing.T) {
	a, err := NewAnalyzer(testDetectionParams(), testLatchParams(), geom.Identity(), nil)
	if err != nil {
		t.Fatal(err)
	}

	want := map[int]float64{
		0: 0,
		1: math.Pi / 2,
		2: math.Pi,
		3: 3 * math.Pi / 2,
	}
	ts := int64(0)
	for i := 0; i < 30; i++ {
		ts += tickNanos
		if err := a.Process(markerFrame(ts, want)); err != nil {
			t.Fatal(err)
		}
	}

	cups := a.Snapshot()
	for id, wantAngle := range want {
		s := cups[id]
		if s.State != vision.CupTracking {
			t.Errorf("cup %d: expected tracking, got %s", id, s.State)
			continue
		}
		if d := vision.AngularDistance(s.Angle, wantAngle); d > 0.1 {
			t.Errorf("cup %d: angle %v, want %v (off by %v)", id, s.Angle, wantAngle, d)
		}
		if s.Confidence < 0.5 {
			t.Errorf("cup %d: expected confident detection, got %v", id, s.Confidence)
		}
	}
}

func TestAnalyzer_MissingMarkerLatches(t *testing.T) {
	p := testLatchParams()
	p.OcclusionGrace = 50 * time.Millisecond
	a, err := NewAnalyzer(testDetectionParams(), p, geom.Identity(), nil)
	if err != nil {
		t.Fatal(err)
	}

	all := map[int]float64{0: 1.0, 1: 1.0, 2: 1.0, 3: 1.0}
	ts := int64(0)
	for i := 0; i < 10; i++ {
		ts += tickNanos
		if err := a.Process(markerFrame(ts, all)); err != nil {
			t.Fatal(err)
		}
	}
	before := a.Snapshot()
	if before[2].State != vision.CupTracking {
		t.Fatal("setup: cup 2 should be tracking")
	}

	// Cup 2's marker disappears (hand over the cup).
	partial := map[int]float64{0: 1.0, 1: 1.0, 3: 1.0}
	for i := 0; i < 10; i++ {
		ts += tickNanos
		if err := a.Process(markerFrame(ts, partial)); err != nil {
			t.Fatal(err)
		}
	}

	after := a.Snapshot()
	if after[2].State != vision.CupLatched {
		t.Fatalf("cup 2: expected latched, got %s", after[2].State)
	}
	if after[2].Angle != before[2].Angle {
		t.Errorf("cup 2: latched angle changed %v -> %v", before[2].Angle, after[2].Angle)
	}
	for _, id := range []int{0, 1, 3} {
		if after[id].State != vision.CupTracking {
			t.Errorf("cup %d: unoccluded cup must keep tracking, got %s", id, after[id].State)
		}
	}
}

func TestAnalyzer_StaleFrameSkipped(t *testing.T) {
	stats := vision.NewPipelineStats()
	a, err := NewAnalyzer(testDetectionParams(), testLatchParams(), geom.Identity(), stats)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Process(markerFrame(100, nil)); err != nil {
		t.Fatal(err)
	}
	if err := a.Process(markerFrame(50, nil)); !errors.Is(err, ErrSkippedFrame) {
		t.Fatalf("expected ErrSkippedFrame, got %v", err)
	}
	if c := stats.Snapshot(); c.Stale[vision.CameraTable] != 1 {
		t.Errorf("expected 1 stale table frame, got %d", c.Stale[vision.CameraTable])
	}
}

func TestAnalyzer_CorruptFrameSkipped(t *testing.T) {
	a, err := NewAnalyzer(testDetectionParams(), testLatchParams(), geom.Identity(), nil)
	if err != nil {
		t.Fatal(err)
	}
	bad := &vision.Frame{Camera: vision.CameraTable, TimestampNanos: 1, Width: 10, Height: 10, Pix: make([]byte, 5)}
	if err := a.Process(bad); !errors.Is(err, ErrSkippedFrame) {
		t.Fatalf("expected ErrSkippedFrame, got %v", err)
	}
}
