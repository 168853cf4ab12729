// Package voice defines the parameter contract at the sound-engine
// boundary. The synthesis engine itself is an external collaborator; what
// the core fixes is the capability interface (apply a named parameter,
// produce samples) and the typed parameter table behind it. Setting a
// name the voice never registered is an explicit error, never a silently
// created entry.
package voice

import (
	"fmt"
	"math"
	"sync"
)

// ErrUnknownParam is returned when a parameter name was never registered.
var ErrUnknownParam = fmt.Errorf("voice: unknown parameter")

// Voice is the capability interface implemented by every voice variant.
type Voice interface {
	// SetParam applies a named control value. Unregistered names fail
	// with ErrUnknownParam.
	SetParam(name string, value float64) error
	// Render fills out with the next len(out) mono samples in [-1,1].
	Render(out []float32)
}

// ParamSpec declares one named parameter and its accepted range.
type ParamSpec struct {
	Name     string
	Min, Max float64
	Default  float64
}

// ParamTable is the explicit, typed parameter store shared by voice
// variants. Values are clamped to the declared range.
type ParamTable struct {
	mu     sync.RWMutex
	specs  map[string]ParamSpec
	values map[string]float64
}

// NewParamTable builds a table from the declared specs, seeded with
// defaults.
func NewParamTable(specs ...ParamSpec) *ParamTable {
	t := &ParamTable{
		specs:  make(map[string]ParamSpec, len(specs)),
		values: make(map[string]float64, len(specs)),
	}
	for _, s := range specs {
		t.specs[s.Name] = s
		t.values[s.Name] = s.Default
	}
	return t
}

// Set stores a value for a registered name, clamped to its range.
func (t *ParamTable) Set(name string, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	spec, ok := t.specs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	if value < spec.Min {
		value = spec.Min
	} else if value > spec.Max {
		value = spec.Max
	}
	t.values[name] = value
	return nil
}

// Get returns the current value for a registered name.
func (t *ParamTable) Get(name string) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	return v, nil
}

// Names returns the registered parameter names.
func (t *ParamTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	return names
}

// SineVoice is the reference voice variant: a single sine oscillator with
// frequency and amplitude parameters.
type SineVoice struct {
	params     *ParamTable
	sampleRate float64
	phase      float64
}

// NewSineVoice creates a sine voice at the given sample rate.
func NewSineVoice(sampleRate float64) *SineVoice {
	return &SineVoice{
		params: NewParamTable(
			ParamSpec{Name: "freq", Min: 20, Max: 8000, Default: 220},
			ParamSpec{Name: "amp", Min: 0, Max: 1, Default: 0.5},
		),
		sampleRate: sampleRate,
	}
}

// SetParam implements Voice.
func (v *SineVoice) SetParam(name string, value float64) error {
	return v.params.Set(name, value)
}

// Render implements Voice.
func (v *SineVoice) Render(out []float32) {
	freq, _ := v.params.Get("freq")
	amp, _ := v.params.Get("amp")
	step := 2 * math.Pi * freq / v.sampleRate
	for i := range out {
		out[i] = float32(amp * math.Sin(v.phase))
		v.phase += step
		if v.phase > 2*math.Pi {
			v.phase -= 2 * math.Pi
		}
	}
}
