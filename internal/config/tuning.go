package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the fusion core.
// Fields are pointers so that a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for everything else.
type TuningConfig struct {
	// Floor analyzer params
	BackgroundUpdateFraction *float64 `json:"background_update_fraction,omitempty"` // β
	EnergySmoothing          *float64 `json:"energy_smoothing,omitempty"`           // α
	DiffThreshold            *int     `json:"diff_threshold,omitempty"`             // 0..255
	BlurSigma                *float64 `json:"blur_sigma,omitempty"`                 // 0 disables pre-blur

	// Table analyzer params
	PlaneSize           *int     `json:"plane_size,omitempty"`           // canonical table edge, pixels
	MarkerThreshold     *int     `json:"marker_threshold,omitempty"`     // dark-pixel cutoff, 0..255
	MarkerMinMass       *int     `json:"marker_min_mass,omitempty"`      // pixels for full confidence
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // tracking entry/exit
	SmoothingAlpha      *float64 `json:"smoothing_alpha,omitempty"`      // angle EMA while tracking
	MaxJumpPerTick      *float64 `json:"max_jump_per_tick,omitempty"`    // radians
	ReconcileTolerance  *float64 `json:"reconcile_tolerance,omitempty"`  // radians
	OcclusionGrace      *string  `json:"occlusion_grace,omitempty"`      // duration, tracking→latched
	LatchHoldTimeout    *string  `json:"latch_hold_timeout,omitempty"`   // duration, latched→lost
	NotchCount          *int     `json:"notch_count,omitempty"`          // 0 disables snapping
	NotchEpsilon        *float64 `json:"notch_epsilon,omitempty"`        // radians

	// Match detector params
	MatchTolerance    *float64 `json:"match_tolerance,omitempty"`     // radians
	MatchHold         *string  `json:"match_hold,omitempty"`          // duration
	MatchQuadCooldown *string  `json:"match_quad_cooldown,omitempty"` // duration after a quad fires

	// Memory engine params
	MemoryHalfLife *string `json:"memory_half_life,omitempty"` // duration at hold = 0
	// CupRegionMap assigns a cup id to each grid quadrant, in order
	// top-left, top-right, bottom-left, bottom-right.
	CupRegionMap *[4]int `json:"cup_region_map,omitempty"`

	// Consumer params
	ConsumerRate *float64 `json:"consumer_rate,omitempty"` // ticks per second
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching from the current directory up through common
// parents. Panics if the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/<pkg>/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validUnitFraction(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are coherent.
func (c *TuningConfig) Validate() error {
	fractions := []struct {
		name string
		v    *float64
	}{
		{"background_update_fraction", c.BackgroundUpdateFraction},
		{"energy_smoothing", c.EnergySmoothing},
		{"smoothing_alpha", c.SmoothingAlpha},
		{"confidence_threshold", c.ConfidenceThreshold},
	}
	for _, f := range fractions {
		if err := validUnitFraction(f.name, f.v); err != nil {
			return err
		}
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"occlusion_grace", c.OcclusionGrace},
		{"latch_hold_timeout", c.LatchHoldTimeout},
		{"match_hold", c.MatchHold},
		{"match_quad_cooldown", c.MatchQuadCooldown},
		{"memory_half_life", c.MemoryHalfLife},
	}
	for _, d := range durations {
		if err := validDuration(d.name, d.v); err != nil {
			return err
		}
	}

	if c.DiffThreshold != nil && (*c.DiffThreshold < 0 || *c.DiffThreshold > 255) {
		return fmt.Errorf("diff_threshold must be between 0 and 255, got %d", *c.DiffThreshold)
	}
	if c.MarkerThreshold != nil && (*c.MarkerThreshold < 0 || *c.MarkerThreshold > 255) {
		return fmt.Errorf("marker_threshold must be between 0 and 255, got %d", *c.MarkerThreshold)
	}
	if c.PlaneSize != nil && *c.PlaneSize < vision.GridSize {
		return fmt.Errorf("plane_size must be at least %d, got %d", vision.GridSize, *c.PlaneSize)
	}
	if c.MatchTolerance != nil && (*c.MatchTolerance <= 0 || *c.MatchTolerance > math.Pi) {
		return fmt.Errorf("match_tolerance must be in (0, π], got %f", *c.MatchTolerance)
	}
	if c.ConsumerRate != nil && *c.ConsumerRate <= 0 {
		return fmt.Errorf("consumer_rate must be positive, got %f", *c.ConsumerRate)
	}
	if c.NotchCount != nil && *c.NotchCount < 0 {
		return fmt.Errorf("notch_count must be non-negative, got %d", *c.NotchCount)
	}
	if c.CupRegionMap != nil {
		seen := [vision.CupCount]bool{}
		for _, id := range *c.CupRegionMap {
			if id < 0 || id >= vision.CupCount {
				return fmt.Errorf("cup_region_map entries must be cup ids 0-%d, got %d", vision.CupCount-1, id)
			}
			seen[id] = true
		}
		for id, ok := range seen {
			if !ok {
				return fmt.Errorf("cup_region_map must mention every cup; cup %d missing", id)
			}
		}
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetBackgroundUpdateFraction returns β for the floor background model.
func (c *TuningConfig) GetBackgroundUpdateFraction() float64 {
	if c.BackgroundUpdateFraction == nil {
		return 0.02
	}
	return *c.BackgroundUpdateFraction
}

// GetEnergySmoothing returns α for per-cell energy smoothing.
func (c *TuningConfig) GetEnergySmoothing() float64 {
	if c.EnergySmoothing == nil {
		return 0.4
	}
	return *c.EnergySmoothing
}

// GetDiffThreshold returns the foreground difference threshold (0-255).
func (c *TuningConfig) GetDiffThreshold() int {
	if c.DiffThreshold == nil {
		return 40
	}
	return *c.DiffThreshold
}

// GetBlurSigma returns the Gaussian pre-blur sigma; zero disables the blur.
func (c *TuningConfig) GetBlurSigma() float64 {
	if c.BlurSigma == nil {
		return 2.0
	}
	return *c.BlurSigma
}

// GetPlaneSize returns the canonical table plane edge length in pixels.
func (c *TuningConfig) GetPlaneSize() int {
	if c.PlaneSize == nil {
		return 512
	}
	return *c.PlaneSize
}

// GetMarkerThreshold returns the dark-pixel cutoff for marker detection.
func (c *TuningConfig) GetMarkerThreshold() int {
	if c.MarkerThreshold == nil {
		return 60
	}
	return *c.MarkerThreshold
}

// GetMarkerMinMass returns the pixel mass at which detection confidence
// saturates to 1.
func (c *TuningConfig) GetMarkerMinMass() int {
	if c.MarkerMinMass == nil {
		return 50
	}
	return *c.MarkerMinMass
}

// GetConfidenceThreshold returns the confidence needed to enter tracking.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetSmoothingAlpha returns the EMA factor for angle smoothing.
func (c *TuningConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.2
	}
	return *c.SmoothingAlpha
}

// GetMaxJumpPerTick returns the per-sample angular movement bound (radians).
func (c *TuningConfig) GetMaxJumpPerTick() float64 {
	if c.MaxJumpPerTick == nil {
		return 0.35
	}
	return *c.MaxJumpPerTick
}

// GetReconcileTolerance returns the latch reconciliation tolerance (radians).
func (c *TuningConfig) GetReconcileTolerance() float64 {
	if c.ReconcileTolerance == nil {
		return 0.26 // ~15°
	}
	return *c.ReconcileTolerance
}

// GetOcclusionGrace returns the continuous occlusion before tracking→latched.
func (c *TuningConfig) GetOcclusionGrace() time.Duration {
	return c.duration(c.OcclusionGrace, 250*time.Millisecond)
}

// GetLatchHoldTimeout returns the occlusion duration before latched→lost.
func (c *TuningConfig) GetLatchHoldTimeout() time.Duration {
	return c.duration(c.LatchHoldTimeout, 10*time.Second)
}

// GetNotchCount returns the number of musical notches; zero disables snapping.
func (c *TuningConfig) GetNotchCount() int {
	if c.NotchCount == nil {
		return 0
	}
	return *c.NotchCount
}

// GetNotchEpsilon returns the snap proximity in radians.
func (c *TuningConfig) GetNotchEpsilon() float64 {
	if c.NotchEpsilon == nil {
		return 0.19 // 0.03 turns
	}
	return *c.NotchEpsilon
}

// GetMatchTolerance returns the alignment tolerance in radians.
func (c *TuningConfig) GetMatchTolerance() float64 {
	if c.MatchTolerance == nil {
		return 0.31 // 0.05 turns
	}
	return *c.MatchTolerance
}

// GetMatchHold returns the continuous-alignment duration before a rising event.
func (c *TuningConfig) GetMatchHold() time.Duration {
	return c.duration(c.MatchHold, 400*time.Millisecond)
}

// GetMatchQuadCooldown returns the cooldown after a quad match fires.
func (c *TuningConfig) GetMatchQuadCooldown() time.Duration {
	return c.duration(c.MatchQuadCooldown, 5*time.Second)
}

// GetMemoryHalfLife returns the trail half-life at hold = 0.
func (c *TuningConfig) GetMemoryHalfLife() time.Duration {
	return c.duration(c.MemoryHalfLife, 1500*time.Millisecond)
}

// GetCupRegionMap returns the quadrant→cup assignment, in order top-left,
// top-right, bottom-left, bottom-right.
func (c *TuningConfig) GetCupRegionMap() [4]int {
	if c.CupRegionMap == nil {
		return [4]int{0, 1, 2, 3}
	}
	return *c.CupRegionMap
}

// GetConsumerRate returns the consumer tick rate in Hz.
func (c *TuningConfig) GetConsumerRate() float64 {
	if c.ConsumerRate == nil {
		return 100.0
	}
	return *c.ConsumerRate
}
