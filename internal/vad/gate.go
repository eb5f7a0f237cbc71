package vad

import "fmt"

// GateConfig holds the profile-relative multipliers of the speech gate.
// The ceiling and loud-voice override factors are empirical defaults.
type GateConfig struct {
	// NoiseFactor: energy must exceed NoiseFloor*NoiseFactor
	NoiseFactor float64 `yaml:"noise_factor"`
	// CeilingFactor: energy must not exceed VoiceMean*CeilingFactor (clipping, knocks)
	CeilingFactor float64 `yaml:"ceiling_factor"`
	// UnvoicedFactor: stricter floor used when the frame has no pitch
	UnvoicedFactor float64 `yaml:"unvoiced_factor"`
	// PitchTolerance is the half-width of the accepted pitch window, relative to its center
	PitchTolerance float64 `yaml:"pitch_tolerance"`
	// LoudFactor: off-pitch frames louder than VoiceMean*LoudFactor still count as speech
	LoudFactor float64 `yaml:"loud_factor"`
}

// DefaultGateConfig returns the default gate policy
func DefaultGateConfig() GateConfig {
	return GateConfig{
		NoiseFactor:    2.5,
		CeilingFactor:  5,
		UnvoicedFactor: 4,
		PitchTolerance: 0.2,
		LoudFactor:     3.5,
	}
}

// Validate validates the gate configuration
func (g GateConfig) Validate() error {
	if g.NoiseFactor <= 0 {
		return fmt.Errorf("noise_factor must be positive, got %f", g.NoiseFactor)
	}
	if g.CeilingFactor <= 0 {
		return fmt.Errorf("ceiling_factor must be positive, got %f", g.CeilingFactor)
	}
	if g.UnvoicedFactor < g.NoiseFactor {
		return fmt.Errorf("unvoiced_factor (%f) must be at least noise_factor (%f)", g.UnvoicedFactor, g.NoiseFactor)
	}
	if g.PitchTolerance <= 0 || g.PitchTolerance >= 1 {
		return fmt.Errorf("pitch_tolerance must be between 0 and 1 (exclusive), got %f", g.PitchTolerance)
	}
	if g.LoudFactor <= 0 {
		return fmt.Errorf("loud_factor must be positive, got %f", g.LoudFactor)
	}
	return nil
}

// Gate decides per frame whether the user is speaking. It is a pure function of
// its configuration, the frame features and the profile.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given policy
func NewGate(config GateConfig) Gate {
	return Gate{config: config}
}

// Config returns the gate policy
func (g Gate) Config() GateConfig {
	return g.config
}

// IsSpeech evaluates the gate with the default policy
func IsSpeech(f Feature, p Profile) bool {
	return NewGate(DefaultGateConfig()).IsSpeech(f, p)
}

// IsSpeech returns true if the frame features count as speech for the profile
func (g Gate) IsSpeech(f Feature, p Profile) bool {
	c := g.config

	// Energy window: above the room noise, not far above normal speaking loudness
	if f.Energy <= p.NoiseFloor*c.NoiseFactor || f.Energy > p.VoiceMean*c.CeilingFactor {
		return false
	}

	if !f.HasPitch() {
		return f.Energy > p.NoiseFloor*c.UnvoicedFactor
	}

	if !p.HasPitchBand() {
		return true
	}

	middle := (p.PitchMin + p.PitchMax) / 2
	tolerance := middle * c.PitchTolerance
	if f.Pitch > middle-tolerance && f.Pitch < middle+tolerance {
		return true
	}

	// Shouted or off-pitch speech
	return f.Energy > p.VoiceMean*c.LoudFactor
}
