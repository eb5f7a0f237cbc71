package vad

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Profile is the calibration result describing the current speaker and room.
// PitchMin and PitchMax are both 0 when calibration observed no voiced pitch.
type Profile struct {
	NoiseFloor float64 `json:"noiseFloor" yaml:"noise_floor"`
	VoiceMean  float64 `json:"voiceMean" yaml:"voice_mean"`
	PitchMin   float64 `json:"pitchMin" yaml:"pitch_min"`
	PitchMax   float64 `json:"pitchMax" yaml:"pitch_max"`
}

// HasPitchBand reports whether the profile carries a usable pitch range
func (p Profile) HasPitchBand() bool {
	return !(p.PitchMin == 0 && p.PitchMax == 0)
}

// Validate checks the profile invariants
func (p Profile) Validate() error {
	if p.NoiseFloor < 0 {
		return fmt.Errorf("noise_floor cannot be negative, got %f", p.NoiseFloor)
	}
	if p.VoiceMean < 0 {
		return fmt.Errorf("voice_mean cannot be negative, got %f", p.VoiceMean)
	}
	if p.PitchMin > p.PitchMax {
		return fmt.Errorf("pitch_min (%f) must not exceed pitch_max (%f)", p.PitchMin, p.PitchMax)
	}
	return nil
}

// ProfileStore holds the single active profile of a session. Writers replace the
// whole profile at once so readers never observe a partially updated one.
type ProfileStore struct {
	current atomic.Pointer[Profile]
}

// NewProfileStore creates an empty store
func NewProfileStore() *ProfileStore {
	return &ProfileStore{}
}

// Get returns the active profile, or false if none has been set
func (s *ProfileStore) Get() (Profile, bool) {
	p := s.current.Load()
	if p == nil {
		return Profile{}, false
	}
	return *p, true
}

// Set replaces the active profile
func (s *ProfileStore) Set(p Profile) {
	s.current.Store(&p)
}

// Clear drops the active profile
func (s *ProfileStore) Clear() {
	s.current.Store(nil)
}

// LoadProfile reads a profile saved by SaveProfile
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid profile in %s: %w", path, err)
	}
	return p, nil
}

// SaveProfile writes the profile as YAML
func SaveProfile(path string, p Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profile file %s: %w", path, err)
	}
	return nil
}
