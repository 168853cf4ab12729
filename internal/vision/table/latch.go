package table

import (
	"math"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// LatchParams configures the per-cup angle latch state machine.
type LatchParams struct {
	// ConfidenceThreshold gates lost→tracking and defines occlusion.
	ConfidenceThreshold float64
	// SmoothingAlpha is the EMA factor for shortest-arc angle smoothing.
	SmoothingAlpha float64
	// MaxJumpPerTick bounds the output movement between consecutive
	// tracking samples, in radians.
	MaxJumpPerTick float64
	// ReconcileTolerance decides, on reappearance from latched, between
	// resuming continuous smoothing and snapping to the new angle.
	ReconcileTolerance float64
	// OcclusionGrace is the continuous occlusion before tracking→latched.
	// Shorter occlusions hold the last confident angle with no transition.
	OcclusionGrace time.Duration
	// LatchHoldTimeout is how long a latched cup is held before lost.
	LatchHoldTimeout time.Duration
	// VelocitySmoothing is the EMA factor for the angular velocity estimate.
	VelocitySmoothing float64
	// NotchCount enables snapping the output to N evenly spaced notches
	// when within NotchEpsilon. Zero disables snapping.
	NotchCount   int
	NotchEpsilon float64
}

// DefaultLatchParams returns the latch defaults.
func DefaultLatchParams() LatchParams {
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

// cupLatch is the occlusion-tolerant state machine for one cup. It owns the
// cup's published angle: live smoothing while tracking, frozen while
// latched, invalid while lost.
type cupLatch struct {
	id     int
	params LatchParams

	state      vision.CupTrackState
	angle      float64 // smoothed internal angle, radians [0,2π)
	confidence float64
	velocity   float64 // rad/s, smoothed

	lastDetectionNanos int64
	lastSampleNanos    int64
	occludedSince      int64 // first nanos of the current continuous occlusion
	latchedAt          int64 // nanos of tracking→latched
}

func newCupLatch(id int, params LatchParams) *cupLatch {
	return &cupLatch{id: id, params: params, state: vision.CupLost}
}

// Observe feeds one detection sample into the state machine. detected is
// false when no marker was found; rawAngle and confidence are only
// meaningful when detected is true.
func (c *cupLatch) Observe(detected bool, rawAngle, confidence float64, nowNanos int64) {
	confident := detected && confidence >= c.params.ConfidenceThreshold

	switch c.state {
	case vision.CupLost:
		if confident {
			c.state = vision.CupTracking
			c.angle = vision.NormalizeAngle(rawAngle)
			c.velocity = 0
			c.occludedSince = 0
			c.lastDetectionNanos = nowNanos
		}
		c.confidence = 0
		if detected {
			c.confidence = confidence
		}

	case vision.CupTracking:
		if confident {
			c.occludedSince = 0
			c.track(rawAngle, nowNanos)
			c.confidence = confidence
			c.lastDetectionNanos = nowNanos
		} else {
			// Occluded: hold the last confident angle. A latch transition
			// only happens after the grace period of continuous occlusion.
			if c.occludedSince == 0 {
				c.occludedSince = nowNanos
			}
			c.confidence = confidence
			if !detected {
				c.confidence = 0
			}
			c.velocity = 0
			if nowNanos-c.occludedSince >= c.params.OcclusionGrace.Nanoseconds() {
				c.state = vision.CupLatched
				c.latchedAt = nowNanos
			}
		}

	case vision.CupLatched:
		if confident {
			raw := vision.NormalizeAngle(rawAngle)
			if vision.AngularDistance(raw, c.angle) > c.params.ReconcileTolerance {
				// Physical replacement: snap, do not animate a spurious
				// rotation from the stale latched value.
				c.angle = raw
			} else {
				// Same cup reappeared: resume continuous smoothing from the
				// latched angle with no jump.
				c.track(rawAngle, nowNanos)
			}
			c.state = vision.CupTracking
			c.velocity = 0
			c.occludedSince = 0
			c.confidence = confidence
			c.lastDetectionNanos = nowNanos
		} else if nowNanos-c.latchedAt >= c.params.LatchHoldTimeout.Nanoseconds() {
			c.state = vision.CupLost
			c.confidence = 0
			c.velocity = 0
		} else {
			// Angle stays frozen; no smoothing or decay while latched.
			c.confidence = 0
		}
	}

	c.lastSampleNanos = nowNanos
}

// track applies shortest-arc smoothing bounded by the max jump, and updates
// the smoothed angular velocity.
func (c *cupLatch) track(rawAngle float64, nowNanos int64) {
	arc := vision.ShortestArc(c.angle, rawAngle)
	step := arc * c.params.SmoothingAlpha
	if step > c.params.MaxJumpPerTick {
		step = c.params.MaxJumpPerTick
	} else if step < -c.params.MaxJumpPerTick {
		step = -c.params.MaxJumpPerTick
	}
	c.angle = vision.NormalizeAngle(c.angle + step)

	if c.lastSampleNanos > 0 && nowNanos > c.lastSampleNanos {
		dt := float64(nowNanos-c.lastSampleNanos) / 1e9
		inst := step / dt
		c.velocity += c.params.VelocitySmoothing * (inst - c.velocity)
	}
}

// outputAngle returns the published angle, with optional notch snapping.
func (c *cupLatch) outputAngle() float64 {
	if c.params.NotchCount <= 0 || c.state != vision.CupTracking {
		return c.angle
	}
	notchWidth := 2 * math.Pi / float64(c.params.NotchCount)
	nearest := math.Round(c.angle/notchWidth) * notchWidth
	if vision.AngularDistance(c.angle, nearest) < c.params.NotchEpsilon {
		return vision.NormalizeAngle(nearest)
	}
	return c.angle
}

// State renders the latch as a published CupState.
func (c *cupLatch) State() vision.CupState {
	return vision.CupState{
		ID:                 c.id,
		Angle:              c.outputAngle(),
		Confidence:         c.confidence,
		State:              c.state,
		LastDetectionNanos: c.lastDetectionNanos,
		AngularVelocity:    c.velocity,
	}
}
