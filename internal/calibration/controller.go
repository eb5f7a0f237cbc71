package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

// Phase is the calibration state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNoise
	PhaseVoice
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNoise:
		return "noise"
	case PhaseVoice:
		return "voice"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Config contains calibration timing and pitch acceptance parameters
type Config struct {
	NoiseDuration time.Duration
	VoiceDuration time.Duration
	// Pitches strictly inside (MinPitchHz, MaxPitchHz) widen the profile band
	MinPitchHz float64
	MaxPitchHz float64
}

// DefaultConfig returns the standard two-second phases
func DefaultConfig() Config {
	return Config{
		NoiseDuration: 2 * time.Second,
		VoiceDuration: 2 * time.Second,
		MinPitchHz:    50,
		MaxPitchHz:    400,
	}
}

// Transition describes a phase change produced by Advance
type Transition struct {
	From         Phase
	To           Phase
	Profile      *vad.Profile // set when calibration completed
	NoiseSamples int
	VoiceSamples int
	Elapsed      time.Duration
}

// Controller is the calibration state machine. It is not safe for concurrent
// use; the session event loop owns it.
type Controller struct {
	config Config
	clock  clock.Clock
	store  *vad.ProfileStore

	phase     Phase
	deadline  <-chan time.Time
	startedAt time.Time

	noise    []vad.Feature
	voice    []vad.Feature
	pitchMin float64
	pitchMax float64

	completed uint64
}

// NewController creates a calibration controller publishing into store
func NewController(config Config, clk clock.Clock, store *vad.ProfileStore) (*Controller, error) {
	if config.NoiseDuration <= 0 {
		return nil, fmt.Errorf("noise duration must be positive, got %v", config.NoiseDuration)
	}
	if config.VoiceDuration <= 0 {
		return nil, fmt.Errorf("voice duration must be positive, got %v", config.VoiceDuration)
	}
	if config.MaxPitchHz <= config.MinPitchHz {
		return nil, fmt.Errorf("invalid pitch band [%f, %f]", config.MinPitchHz, config.MaxPitchHz)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if store == nil {
		return nil, fmt.Errorf("profile store cannot be nil")
	}

	return &Controller{
		config: config,
		clock:  clk,
		store:  store,
	}, nil
}

// Start begins a new calibration run. A run already in progress is discarded;
// the return value reports whether that happened.
func (c *Controller) Start() bool {
	overridden := c.Active()
	c.reset()

	c.phase = PhaseNoise
	c.startedAt = c.clock.Now()
	c.deadline = c.clock.After(c.config.NoiseDuration)

	return overridden
}

// Cancel discards an in-flight run without touching the active profile
func (c *Controller) Cancel() bool {
	wasActive := c.Active()
	c.reset()
	return wasActive
}

func (c *Controller) reset() {
	c.phase = PhaseIdle
	c.deadline = nil
	c.noise = c.noise[:0]
	c.voice = c.voice[:0]
	c.pitchMin = math.Inf(1)
	c.pitchMax = 0
}

// Feed accumulates one feature sample into the current phase.
// It returns false when no calibration is running.
func (c *Controller) Feed(f vad.Feature) bool {
	switch c.phase {
	case PhaseNoise:
		c.noise = append(c.noise, f)
	case PhaseVoice:
		c.voice = append(c.voice, f)
		if f.Pitch > c.config.MinPitchHz && f.Pitch < c.config.MaxPitchHz {
			c.pitchMin = math.Min(c.pitchMin, f.Pitch)
			c.pitchMax = math.Max(c.pitchMax, f.Pitch)
		}
	default:
		return false
	}
	return true
}

// Deadline returns the channel that fires at the end of the current phase,
// or nil when idle
func (c *Controller) Deadline() <-chan time.Time {
	return c.deadline
}

// Advance moves to the next phase. Completing the voice phase publishes the
// profile to the store.
func (c *Controller) Advance() (Transition, error) {
	switch c.phase {
	case PhaseNoise:
		c.phase = PhaseVoice
		c.deadline = c.clock.After(c.config.VoiceDuration)
		return Transition{
			From:         PhaseNoise,
			To:           PhaseVoice,
			NoiseSamples: len(c.noise),
			Elapsed:      c.clock.Now().Sub(c.startedAt),
		}, nil

	case PhaseVoice:
		profile := c.finish()
		t := Transition{
			From:         PhaseVoice,
			To:           PhaseIdle,
			Profile:      &profile,
			NoiseSamples: len(c.noise),
			VoiceSamples: len(c.voice),
			Elapsed:      c.clock.Now().Sub(c.startedAt),
		}
		c.reset()
		return t, nil

	default:
		return Transition{}, fmt.Errorf("no calibration in progress")
	}
}

func (c *Controller) finish() vad.Profile {
	profile := vad.Profile{
		NoiseFloor: meanEnergy(c.noise),
		VoiceMean:  meanEnergy(c.voice),
		PitchMin:   c.pitchMin,
		PitchMax:   c.pitchMax,
	}
	if math.IsInf(c.pitchMin, 1) {
		profile.PitchMin = 0
		profile.PitchMax = 0
	}

	c.store.Set(profile)
	c.completed++
	return profile
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	return c.phase
}

// Active reports whether a calibration run is in progress
func (c *Controller) Active() bool {
	return c.phase != PhaseIdle
}

// Completed returns the number of finished calibration runs
func (c *Controller) Completed() uint64 {
	return c.completed
}

// ComputeProfile derives a profile from already collected samples using the
// same rules as a timed run
func ComputeProfile(noise, voice []vad.Feature, minPitchHz, maxPitchHz float64) vad.Profile {
	profile := vad.Profile{
		NoiseFloor: meanEnergy(noise),
		VoiceMean:  meanEnergy(voice),
	}

	pMin, pMax := math.Inf(1), 0.0
	for _, f := range voice {
		if f.Pitch > minPitchHz && f.Pitch < maxPitchHz {
			pMin = math.Min(pMin, f.Pitch)
			pMax = math.Max(pMax, f.Pitch)
		}
	}
	if !math.IsInf(pMin, 1) {
		profile.PitchMin = pMin
		profile.PitchMax = pMax
	}
	return profile
}

func meanEnergy(samples []vad.Feature) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Energy
	}
	return sum / float64(len(samples))
}
