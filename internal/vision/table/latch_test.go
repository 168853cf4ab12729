package table

import (
	"math"
	"testing"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

func testLatchParams() LatchParams {
	return LatchParams{
		ConfidenceThreshold: 0.5,
		SmoothingAlpha:      0.2,
		MaxJumpPerTick:      0.35,
		ReconcileTolerance:  0.26,
		OcclusionGrace:      250 * time.Millisecond,
		LatchHoldTimeout:    10 * time.Second,
		VelocitySmoothing:   0.3,
	}
}

const tickNanos = int64(33 * time.Millisecond) // ~30fps table camera

// feed advances the latch n ticks with the same sample.
func feed(c *cupLatch, n int, detected bool, angle, conf float64, now int64) int64 {
	for i := 0; i < n; i++ {
		now += tickNanos
		c.Observe(detected, angle, conf, now)
	}
	return now
}

func TestLatch_LostToTracking(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	if c.State().State != vision.CupLost {
		t.Fatal("latch must start lost")
	}

	// Low confidence never promotes.
	c.Observe(true, 1.0, 0.3, tickNanos)
	if c.State().State != vision.CupLost {
		t.Error("low-confidence detection must not promote to tracking")
	}

	c.Observe(true, 1.0, 0.9, 2*tickNanos)
	s := c.State()
	if s.State != vision.CupTracking {
		t.Fatalf("expected tracking, got %s", s.State)
	}
	if math.Abs(s.Angle-1.0) > 1e-9 {
		t.Errorf("first confident angle adopted directly, got %v", s.Angle)
	}
}

func TestLatch_SmoothingConvergesAcrossSeam(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	start := 2*math.Pi - 0.05
	now := feed(c, 1, true, start, 0.9, 0)

	// Target just past the seam; smoothing must cross 0, not unwind 2π.
	feed(c, 60, true, 0.05, 0.9, now)
	s := c.State()
	if vision.AngularDistance(s.Angle, 0.05) > 0.01 {
		t.Errorf("angle should converge to 0.05 across the seam, got %v", s.Angle)
	}
}

func TestLatch_MaxJumpBoundsStep(t *testing.T) {
	p := testLatchParams()
	p.SmoothingAlpha = 1.0 // raw step equals the full arc
	c := newCupLatch(0, p)
	now := feed(c, 1, true, 0, 0.9, 0)

	feed(c, 1, true, math.Pi, 0.9, now)
	s := c.State()
	if s.Angle > p.MaxJumpPerTick+1e-9 {
		t.Errorf("single-tick movement %v exceeds max jump %v", s.Angle, p.MaxJumpPerTick)
	}
}

func TestLatch_ShortOcclusionHoldsAngle(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	now := feed(c, 5, true, 1.2, 0.9, 0)
	held := c.State().Angle

	// Occlusion shorter than the grace period: angle held, still tracking.
	now = feed(c, 3, false, 0, 0, now) // 99ms < 250ms
	s := c.State()
	if s.State != vision.CupTracking {
		t.Fatalf("expected tracking through short occlusion, got %s", s.State)
	}
	if s.Angle != held {
		t.Errorf("angle must hold during occlusion: %v != %v", s.Angle, held)
	}

	// Reappearance resumes tracking seamlessly.
	feed(c, 1, true, 1.25, 0.9, now)
	if c.State().State != vision.CupTracking {
		t.Error("expected tracking after reappearance")
	}
}

func TestLatch_GraceExpiryLatches(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	now := feed(c, 5, true, 2.0, 0.9, 0)
	held := c.State().Angle

	// 10 ticks = 330ms of continuous occlusion, past the 250ms grace.
	feed(c, 10, false, 0, 0, now)
	s := c.State()
	if s.State != vision.CupLatched {
		t.Fatalf("expected latched after grace expiry, got %s", s.State)
	}
	if s.Angle != held {
		t.Errorf("latched angle must be the last confident angle: %v != %v", s.Angle, held)
	}
	if s.Confidence != 0 {
		t.Errorf("latched confidence must be 0, got %v", s.Confidence)
	}
}

func TestLatch_ReconcileWithinTolerance(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	now := feed(c, 5, true, 2.0, 0.9, 0)
	now = feed(c, 10, false, 0, 0, now) // latch
	if c.state != vision.CupLatched {
		t.Fatal("setup: expected latched")
	}
	latched := c.angle

	// Reappears close to the latched angle: smooth resume, no snap.
	now = feed(c, 1, true, latched+0.1, 0.9, now)
	s := c.State()
	if s.State != vision.CupTracking {
		t.Fatalf("expected tracking after reappearance, got %s", s.State)
	}
	moved := vision.AngularDistance(s.Angle, latched)
	if moved > 0.1*0.2+1e-9 { // one smoothing step of the 0.1 arc
		t.Errorf("reconcile must resume smoothly, moved %v in one tick", moved)
	}
}

func TestLatch_ReconcileBeyondToleranceSnaps(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	now := feed(c, 5, true, 2.0, 0.9, 0)
	now = feed(c, 10, false, 0, 0, now) // latch

	// Reappears far away: treated as physical replacement, snap.
	feed(c, 1, true, 4.0, 0.9, now)
	s := c.State()
	if s.State != vision.CupTracking {
		t.Fatalf("expected tracking after reappearance, got %s", s.State)
	}
	if vision.AngularDistance(s.Angle, 4.0) > 1e-9 {
		t.Errorf("expected snap to 4.0, got %v", s.Angle)
	}
}

func TestLatch_HoldTimeoutLoses(t *testing.T) {
	p := testLatchParams()
	p.LatchHoldTimeout = 500 * time.Millisecond
	c := newCupLatch(0, p)
	now := feed(c, 5, true, 2.0, 0.9, 0)

	// Latch, then stay occluded past the hold timeout.
	now = feed(c, 10, false, 0, 0, now)
	if c.state != vision.CupLatched {
		t.Fatal("setup: expected latched")
	}
	feed(c, 20, false, 0, 0, now) // 660ms latched > 500ms
	if c.State().State != vision.CupLost {
		t.Fatalf("expected lost after hold timeout, got %s", c.State().State)
	}
}

func TestLatch_NotchSnapping(t *testing.T) {
	p := testLatchParams()
	p.NotchCount = 4 // notches at 0, π/2, π, 3π/2
	p.NotchEpsilon = 0.05
	c := newCupLatch(0, p)
	now := feed(c, 1, true, math.Pi/2+0.02, 0.9, 0)
	feed(c, 50, true, math.Pi/2+0.02, 0.9, now)

	s := c.State()
	if math.Abs(s.Angle-math.Pi/2) > 1e-9 {
		t.Errorf("angle near a notch should snap to π/2, got %v", s.Angle)
	}
}

func TestLatch_VelocityTracksRotation(t *testing.T) {
	c := newCupLatch(0, testLatchParams())
	now := feed(c, 1, true, 0, 0.9, 0)

	// Steady rotation: raw angle advances 0.05 rad per 33ms tick.
	angle := 0.0
	for i := 0; i < 60; i++ {
		angle += 0.05
		now += tickNanos
		c.Observe(true, angle, 0.9, now)
	}
	v := c.State().AngularVelocity
	if v <= 0 {
		t.Errorf("expected positive angular velocity for CCW rotation, got %v", v)
	}
}
