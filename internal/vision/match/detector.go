// Package match detects angular alignment among the four cups and emits
// debounced rising/falling events. A subset of cups is aligned when every
// pairwise circular distance within it is below the tolerance; alignment
// must persist for the hold duration before the rising edge fires, and a
// higher-order match preempts its constituent subsets.
package match

import (
	"sync"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/config"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// Kind classifies a match by its order.
type Kind string

const (
	KindPair   Kind = "pair"
	KindTriple Kind = "triple"
	KindQuad   Kind = "quad"
)

// Edge marks whether an event is the start or end of an alignment.
type Edge string

const (
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
)

// Event is a discrete alignment trigger.
type Event struct {
	Kind           Kind
	Label          string // subset name, e.g. "AC", "BCD", "ABCD"
	Cups           []int  // participant cup ids, ascending
	Edge           Edge
	TimestampNanos int64
}

// Params configures the detector.
type Params struct {
	// Tolerance is the maximum pairwise circular distance, radians.
	Tolerance float64
	// Hold is how long alignment must persist before the rising edge.
	Hold time.Duration
	// QuadCooldown suppresses a new quad rising edge for this long after
	// the previous one fired.
	QuadCooldown time.Duration
}

// DefaultParams returns the detector defaults.
func DefaultParams() Params {
	return Params{
		Tolerance:    0.31,
		Hold:         400 * time.Millisecond,
		QuadCooldown: 5 * time.Second,
	}
}

// ParamsFromTuning builds Params from the tuning configuration.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		Tolerance:    cfg.GetMatchTolerance(),
		Hold:         cfg.GetMatchHold(),
		QuadCooldown: cfg.GetMatchQuadCooldown(),
	}
}

// subset is one of the eleven candidate alignments.
type subset struct {
	label string
	cups  []int
	kind  Kind
}

var cupNames = [vision.CupCount]string{"A", "B", "C", "D"}

// allSubsets enumerates every subset of size 2..4 of the four cups,
// ascending by member ids within each subset.
func allSubsets() []subset {
	var out []subset
	for mask := 3; mask < 16; mask++ {
		var cups []int
		label := ""
		for id := 0; id < vision.CupCount; id++ {
			if mask&(1<<id) != 0 {
				cups = append(cups, id)
				label += cupNames[id]
			}
		}
		var kind Kind
		switch len(cups) {
		case 2:
			kind = KindPair
		case 3:
			kind = KindTriple
		case 4:
			kind = KindQuad
		default:
			continue
		}
		out = append(out, subset{label: label, cups: cups, kind: kind})
	}
	return out
}

// subsetState carries the debounce and activity state for one subset.
type subsetState struct {
	alignedSince int64 // 0 when not currently aligned
	held         bool  // alignment has persisted past the hold duration
	published    bool  // a rising edge has been emitted and not yet closed
}

// Detector tracks alignment of cup subsets over consumer ticks.
type Detector struct {
	mu      sync.Mutex
	params  Params
	subsets []subset
	states  map[string]*subsetState
	stats   *vision.PipelineStats

	lastQuadRising int64
}

// NewDetector creates a detector. stats may be nil.
func NewDetector(params Params, stats *vision.PipelineStats) *Detector {
	d := &Detector{
		params:  params,
		subsets: allSubsets(),
		states:  make(map[string]*subsetState),
		stats:   stats,
	}
	for _, s := range d.subsets {
		d.states[s.label] = &subsetState{}
	}
	return d
}

// aligned reports whether every pair within the subset is within tolerance
// and every member is usable (not lost).
func (d *Detector) aligned(s subset, cups *[vision.CupCount]vision.CupState) bool {
	for _, id := range s.cups {
		if cups[id].State == vision.CupLost {
			return false
		}
	}
	for i := 0; i < len(s.cups); i++ {
		for j := i + 1; j < len(s.cups); j++ {
			a := cups[s.cups[i]].Angle
			b := cups[s.cups[j]].Angle
			if vision.AngularDistance(a, b) >= d.params.Tolerance {
				return false
			}
		}
	}
	return true
}

// strictSuperset reports whether sup strictly contains sub.
func strictSuperset(sup, sub []int) bool {
	if len(sup) <= len(sub) {
		return false
	}
	j := 0
	for _, id := range sub {
		for j < len(sup) && sup[j] < id {
			j++
		}
		if j >= len(sup) || sup[j] != id {
			return false
		}
		j++
	}
	return true
}

// Observe feeds one consumer tick of cup states into the detector and
// returns the events whose edges fired on this tick, higher-order first.
func (d *Detector) Observe(cups *[vision.CupCount]vision.CupState, nowNanos int64) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	holdNanos := d.params.Hold.Nanoseconds()

	// Phase 1: update per-subset alignment debounce.
	for _, s := range d.subsets {
		st := d.states[s.label]
		if d.aligned(s, cups) {
			if st.alignedSince == 0 {
				st.alignedSince = nowNanos
			}
			if !st.held && nowNanos-st.alignedSince >= holdNanos {
				if s.kind == KindQuad && d.lastQuadRising != 0 &&
					nowNanos-d.lastQuadRising < d.params.QuadCooldown.Nanoseconds() {
					// Cooling down: keep waiting without firing.
					continue
				}
				st.held = true
			}
		} else {
			st.alignedSince = 0
			st.held = false
		}
	}

	// Phase 2: a held subset is publishable only when no held strict
	// superset exists (an ABCD match preempts its constituent AB/ABC).
	publishable := make(map[string]bool, len(d.subsets))
	for _, s := range d.subsets {
		if !d.states[s.label].held {
			continue
		}
		suppressed := false
		for _, sup := range d.subsets {
			if d.states[sup.label].held && strictSuperset(sup.cups, s.cups) {
				suppressed = true
				break
			}
		}
		publishable[s.label] = !suppressed
	}

	// Phase 3: emit edges, larger subsets first so a quad rising precedes
	// the falling edges of the pairs it preempts.
	var events []Event
	for i := len(d.subsets) - 1; i >= 0; i-- {
		s := d.subsets[i]
		st := d.states[s.label]
		want := publishable[s.label]
		if want == st.published {
			continue
		}
		edge := EdgeFalling
		if want {
			edge = EdgeRising
			if s.kind == KindQuad {
				d.lastQuadRising = nowNanos
			}
			if d.stats != nil {
				d.stats.AddMatch()
			}
		}
		st.published = want
		events = append(events, Event{
			Kind:           s.kind,
			Label:          s.label,
			Cups:           append([]int(nil), s.cups...),
			Edge:           edge,
			TimestampNanos: nowNanos,
		})
	}
	return events
}

// Active returns the labels of currently published alignments.
func (d *Detector) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, s := range d.subsets {
		if d.states[s.label].published {
			out = append(out, s.label)
		}
	}
	return out
}
