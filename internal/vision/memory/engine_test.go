package memory

import (
	"math"
	"testing"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

func testEngine() *Engine {
	return NewEngine(Params{
		HalfLife:     1500 * time.Millisecond,
		CupRegionMap: [4]int{0, 1, 2, 3},
	})
}

func lostCups() [vision.CupCount]vision.CupState {
	var cups [vision.CupCount]vision.CupState
	for i := range cups {
		cups[i] = vision.CupState{ID: i, State: vision.CupLost}
	}
	return cups
}

func TestDecayFactor_HalfLife(t *testing.T) {
	e := testEngine()
	f := e.DecayFactor(1500*time.Millisecond, 0)
	if math.Abs(f-0.5) > 1e-9 {
		t.Errorf("one half-life at hold 0 should give factor 0.5, got %v", f)
	}
}

func TestDecayFactor_HoldFreezes(t *testing.T) {
	e := testEngine()
	f := e.DecayFactor(10*time.Second, 1)
	if f != 1 {
		t.Errorf("hold 1 must freeze (factor 1), got %v", f)
	}
	// Any hold below 1 still decays.
	f = e.DecayFactor(time.Second, 0.99)
	if f >= 1 {
		t.Errorf("hold 0.99 must still decay, got factor %v", f)
	}
	// Higher hold decays slower.
	slow := e.DecayFactor(time.Second, 0.8)
	fast := e.DecayFactor(time.Second, 0.2)
	if slow <= fast {
		t.Errorf("hold 0.8 should decay slower than 0.2: %v <= %v", slow, fast)
	}
}

func TestTick_AbsorbsAndDecays(t *testing.T) {
	e := testEngine()
	cups := lostCups()

	var grid vision.MotionGrid
	grid[0] = 1.0

	now := int64(0)
	const tick = int64(10 * time.Millisecond)

	// Sustained motion charges the cell toward 1.
	for i := 0; i < 700; i++ {
		now += tick
		e.Tick(&grid, &cups, now)
	}
	charged := e.Snapshot()
	if charged[0] < 0.9 {
		t.Fatalf("sustained motion should charge cell near 1, got %v", charged[0])
	}
	if charged[1] != 0 {
		t.Errorf("motionless cell must stay zero, got %v", charged[1])
	}

	// Motion stops; the cell decays toward zero at the half-life.
	var empty vision.MotionGrid
	now += int64(1500 * time.Millisecond)
	trail := e.Tick(&empty, &cups, now)
	if math.Abs(float64(trail[0])-float64(charged[0])/2) > 0.02 {
		t.Errorf("after one half-life expected ~%v, got %v", charged[0]/2, trail[0])
	}
}

func TestTick_HoldRegionRetainsTrail(t *testing.T) {
	e := testEngine()

	var grid vision.MotionGrid
	// Charge one cell in the top-left quadrant (cup 0's region) and one in
	// the bottom-right quadrant (cup 3's region).
	tl := 0
	br := vision.GridCells - 1
	grid[tl] = 1
	grid[br] = 1

	cups := lostCups()
	now := int64(0)
	const tick = int64(10 * time.Millisecond)
	for i := 0; i < 700; i++ {
		now += tick
		e.Tick(&grid, &cups, now)
	}

	// Cup 0 turns to full hold (angle just under 2π); cup 3 stays lost.
	cups[0] = vision.CupState{ID: 0, State: vision.CupTracking, Angle: 2*math.Pi - 1e-6}

	var empty vision.MotionGrid
	for i := 0; i < 300; i++ { // 3 seconds of decay
		now += tick
		e.Tick(&empty, &cups, now)
	}

	trail := e.Snapshot()
	if trail[tl] < 0.9 {
		t.Errorf("held region should retain its trail, got %v", trail[tl])
	}
	if trail[br] > 0.3 {
		t.Errorf("unheld region should have decayed, got %v", trail[br])
	}
}

func TestTick_CupRegionMapRouting(t *testing.T) {
	// Swap cups 0 and 3: the bottom-right quadrant now answers to cup 0.
	e := NewEngine(Params{
		HalfLife:     1500 * time.Millisecond,
		CupRegionMap: [4]int{3, 1, 2, 0},
	})

	var grid vision.MotionGrid
	br := vision.GridCells - 1
	grid[br] = 1

	cups := lostCups()
	now := int64(0)
	const tick = int64(10 * time.Millisecond)
	for i := 0; i < 700; i++ {
		now += tick
		e.Tick(&grid, &cups, now)
	}

	// Holding cup 0 must now protect the bottom-right quadrant.
	cups[0] = vision.CupState{ID: 0, State: vision.CupTracking, Angle: 2*math.Pi - 1e-6}
	var empty vision.MotionGrid
	for i := 0; i < 300; i++ {
		now += tick
		e.Tick(&empty, &cups, now)
	}
	if trail := e.Snapshot(); trail[br] < 0.9 {
		t.Errorf("remapped region should be held by cup 0, got %v", trail[br])
	}
}

func TestTrail_StaysInUnitRange(t *testing.T) {
	e := testEngine()
	cups := lostCups()
	var grid vision.MotionGrid
	for i := range grid {
		grid[i] = 1
	}
	now := int64(0)
	for i := 0; i < 1000; i++ {
		now += int64(10 * time.Millisecond)
		trail := e.Tick(&grid, &cups, now)
		for c, v := range trail {
			if v < 0 || v > 1 {
				t.Fatalf("tick %d: cell %d out of range: %v", i, c, v)
			}
		}
	}
}

func TestReset(t *testing.T) {
	e := testEngine()
	cups := lostCups()
	var grid vision.MotionGrid
	grid[5] = 1
	e.Tick(&grid, &cups, int64(10*time.Millisecond))
	e.Reset()
	if trail := e.Snapshot(); trail[5] != 0 {
		t.Errorf("reset must clear the trail, got %v", trail[5])
	}
}

func TestTicksToDecayBelow(t *testing.T) {
	e := testEngine()
	tick := 10 * time.Millisecond
	n := e.TicksToDecayBelow(0.01, tick)

	// Simulate exactly n ticks from a full cell and verify the bound.
	f := e.DecayFactor(tick, 0)
	v := 1.0
	for i := 0; i < n; i++ {
		v *= f
	}
	if v >= 0.01 {
		t.Errorf("after %d ticks value %v still above eps", n, v)
	}
}
