// Package memory maintains the decayed trail grid: the instrument's only
// channel of temporal accumulation. Each consumer tick the trail decays
// toward zero and absorbs the current motion grid; the decay rate of each
// region is modulated by its responsible cup's angle on a "hold ↔ erase"
// axis.
package memory

import (
	"math"
	"sync"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/config"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// Trail is the decayed accumulation grid, shaped like a MotionGrid with
// every cell in [0,1].
type Trail [vision.GridCells]float32

// Params configures the memory engine.
type Params struct {
	// HalfLife is the trail decay half-life when a region's hold is zero.
	HalfLife time.Duration
	// CupRegionMap assigns a cup id to each grid quadrant, in order
	// top-left, top-right, bottom-left, bottom-right.
	CupRegionMap [4]int
}

// DefaultParams returns the memory engine defaults.
func DefaultParams() Params {
	return Params{
		HalfLife:     1500 * time.Millisecond,
		CupRegionMap: [4]int{0, 1, 2, 3},
	}
}

// ParamsFromTuning builds Params from the tuning configuration.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		HalfLife:     cfg.GetMemoryHalfLife(),
		CupRegionMap: cfg.GetCupRegionMap(),
	}
}

// Engine owns the trail and mutates it exactly once per consumption tick.
type Engine struct {
	mu        sync.Mutex
	params    Params
	trail     Trail
	cellToCup [vision.GridCells]int
	lastNanos int64
}

// NewEngine creates a memory engine. The cup-to-region assignment is fixed
// here, at configuration time.
func NewEngine(params Params) *Engine {
	e := &Engine{params: params}
	mid := vision.GridSize / 2
	for row := 0; row < vision.GridSize; row++ {
		for col := 0; col < vision.GridSize; col++ {
			quadrant := 0
			if col >= mid {
				quadrant = 1
			}
			if row >= mid {
				quadrant += 2
			}
			e.cellToCup[row*vision.GridSize+col] = params.CupRegionMap[quadrant]
		}
	}
	return e
}

// DecayFactor returns the per-tick multiplicative factor for a region whose
// cup reports the given hold value. hold=0 decays at the configured
// half-life; hold=1 freezes the region. The factor is strictly below 1
// whenever hold < 1, so the trail decays monotonically toward zero absent
// hold influence.
func (e *Engine) DecayFactor(dt time.Duration, hold float64) float64 {
	if e.params.HalfLife <= 0 {
		return 0
	}
	if hold < 0 {
		hold = 0
	} else if hold > 1 {
		hold = 1
	}
	base := math.Exp2(-dt.Seconds() / e.params.HalfLife.Seconds())
	return math.Pow(base, 1-hold)
}

// Tick advances the trail by one consumption step: every cell decays by its
// region's factor, then absorbs the motion grid contribution. The convex
// form trail·f + grid·(1−f) keeps all cells in [0,1].
func (e *Engine) Tick(grid *vision.MotionGrid, cups *[vision.CupCount]vision.CupState, nowNanos int64) Trail {
	e.mu.Lock()
	defer e.mu.Unlock()

	var dt time.Duration
	if e.lastNanos > 0 && nowNanos > e.lastNanos {
		dt = time.Duration(nowNanos - e.lastNanos)
	} else {
		dt = 10 * time.Millisecond
	}
	e.lastNanos = nowNanos

	var factors [vision.CupCount]float32
	for id := range factors {
		factors[id] = float32(e.DecayFactor(dt, cups[id].HoldValue()))
	}

	for i := range e.trail {
		f := factors[e.cellToCup[i]]
		v := e.trail[i]*f + grid[i]*(1-f)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		e.trail[i] = v
	}
	return e.trail
}

// Snapshot returns a copy of the current trail.
func (e *Engine) Snapshot() Trail {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trail
}

// Reset clears the trail, for use between performance sessions.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trail = Trail{}
	e.lastNanos = 0
}

// TicksToDecayBelow returns the number of ticks of the given period needed
// for a full cell to fall below eps with zero hold and no input. This is
// the deterministic bound the decay property tests use.
func (e *Engine) TicksToDecayBelow(eps float64, tick time.Duration) int {
	f := e.DecayFactor(tick, 0)
	if f <= 0 {
		return 1
	}
	if f >= 1 || eps <= 0 {
		return math.MaxInt32
	}
	return int(math.Ceil(math.Log(eps) / math.Log(f)))
}
