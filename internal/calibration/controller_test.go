package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

func newTestController(t *testing.T) (*Controller, *clock.Fake, *vad.ProfileStore) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := vad.NewProfileStore()
	ctrl, err := NewController(DefaultConfig(), fake, store)
	require.NoError(t, err)
	return ctrl, fake, store
}

func fired(ch <-chan time.Time) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestControllerFullRun(t *testing.T) {
	ctrl, fake, store := newTestController(t)

	assert.False(t, ctrl.Start())
	assert.Equal(t, PhaseNoise, ctrl.Phase())

	require.True(t, ctrl.Feed(vad.Feature{Energy: 0.01}))
	require.True(t, ctrl.Feed(vad.Feature{Energy: 0.03}))

	deadline := ctrl.Deadline()
	fake.Advance(time.Second)
	assert.False(t, fired(deadline), "noise phase ended early")
	fake.Advance(time.Second)
	require.True(t, fired(deadline))

	tr, err := ctrl.Advance()
	require.NoError(t, err)
	assert.Equal(t, PhaseNoise, tr.From)
	assert.Equal(t, PhaseVoice, tr.To)
	assert.Equal(t, 2, tr.NoiseSamples)
	assert.Nil(t, tr.Profile)

	ctrl.Feed(vad.Feature{Energy: 0.2, Pitch: 120})
	ctrl.Feed(vad.Feature{Energy: 0.4, Pitch: 180})
	ctrl.Feed(vad.Feature{Energy: 0.3, Pitch: 450}) // outside calibration band
	ctrl.Feed(vad.Feature{Energy: 0.1, Pitch: 0})

	// Readers still see no profile while the run is in flight
	_, ok := store.Get()
	assert.False(t, ok)

	fake.Advance(2 * time.Second)
	require.True(t, fired(ctrl.Deadline()))

	tr, err = ctrl.Advance()
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, tr.To)
	require.NotNil(t, tr.Profile)
	assert.Equal(t, 4, tr.VoiceSamples)
	assert.Equal(t, 4*time.Second, tr.Elapsed)

	p := *tr.Profile
	assert.InDelta(t, 0.02, p.NoiseFloor, 1e-12)
	assert.InDelta(t, 0.25, p.VoiceMean, 1e-12)
	assert.Equal(t, 120.0, p.PitchMin)
	assert.Equal(t, 180.0, p.PitchMax)

	stored, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, p, stored)
	assert.False(t, ctrl.Active())
	assert.Nil(t, ctrl.Deadline())
	assert.Equal(t, uint64(1), ctrl.Completed())
}

func TestControllerZeroSamples(t *testing.T) {
	ctrl, _, store := newTestController(t)

	ctrl.Start()
	_, err := ctrl.Advance()
	require.NoError(t, err)
	tr, err := ctrl.Advance()
	require.NoError(t, err)
	require.NotNil(t, tr.Profile)

	assert.Equal(t, vad.Profile{}, *tr.Profile)

	// The degraded profile makes the gate reject everything
	stored, ok := store.Get()
	require.True(t, ok)
	assert.False(t, vad.IsSpeech(vad.Feature{Energy: 0.5, Pitch: 150}, stored))
	assert.False(t, vad.IsSpeech(vad.Feature{Energy: 0.5}, stored))
	assert.False(t, vad.IsSpeech(vad.Feature{}, stored))
}

func TestControllerNoVoicedPitch(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	ctrl.Start()
	ctrl.Feed(vad.Feature{Energy: 0.01})
	_, err := ctrl.Advance()
	require.NoError(t, err)
	ctrl.Feed(vad.Feature{Energy: 0.2, Pitch: 0})
	ctrl.Feed(vad.Feature{Energy: 0.2, Pitch: 40})

	tr, err := ctrl.Advance()
	require.NoError(t, err)
	assert.Equal(t, 0.0, tr.Profile.PitchMin)
	assert.Equal(t, 0.0, tr.Profile.PitchMax)
	assert.False(t, tr.Profile.HasPitchBand())
}

func TestControllerRestartOverridesInFlight(t *testing.T) {
	ctrl, fake, store := newTestController(t)
	previous := vad.Profile{NoiseFloor: 0.5, VoiceMean: 1}
	store.Set(previous)

	ctrl.Start()
	ctrl.Feed(vad.Feature{Energy: 9})
	fake.Advance(time.Second)

	assert.True(t, ctrl.Start(), "restart should report the overridden run")
	assert.Equal(t, PhaseNoise, ctrl.Phase())

	// The discarded sample must not leak into the new run
	ctrl.Feed(vad.Feature{Energy: 0.02})
	_, err := ctrl.Advance()
	require.NoError(t, err)
	tr, err := ctrl.Advance()
	require.NoError(t, err)
	assert.InDelta(t, 0.02, tr.Profile.NoiseFloor, 1e-12)
}

func TestControllerCancelKeepsPreviousProfile(t *testing.T) {
	ctrl, _, store := newTestController(t)
	previous := vad.Profile{NoiseFloor: 0.5, VoiceMean: 1, PitchMin: 100, PitchMax: 150}
	store.Set(previous)

	ctrl.Start()
	ctrl.Feed(vad.Feature{Energy: 0.3})
	assert.True(t, ctrl.Cancel())
	assert.False(t, ctrl.Cancel())

	assert.False(t, ctrl.Feed(vad.Feature{Energy: 0.3}))
	_, err := ctrl.Advance()
	assert.Error(t, err)

	stored, _ := store.Get()
	assert.Equal(t, previous, stored)
}

func TestNewControllerValidation(t *testing.T) {
	store := vad.NewProfileStore()

	cfg := DefaultConfig()
	cfg.NoiseDuration = 0
	_, err := NewController(cfg, nil, store)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxPitchHz = 10
	_, err = NewController(cfg, nil, store)
	assert.Error(t, err)

	_, err = NewController(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestComputeProfile(t *testing.T) {
	assert.Equal(t, vad.Profile{}, ComputeProfile(nil, nil, 50, 400))

	p := ComputeProfile(
		[]vad.Feature{{Energy: 0.01}, {Energy: 0.02}, {Energy: 0.03}},
		[]vad.Feature{{Energy: 0.2, Pitch: 210}, {Energy: 0.3, Pitch: 140}, {Energy: 0.1, Pitch: 400}},
		50, 400,
	)
	assert.InDelta(t, 0.02, p.NoiseFloor, 1e-12)
	assert.InDelta(t, 0.2, p.VoiceMean, 1e-12)
	assert.Equal(t, 140.0, p.PitchMin)
	assert.Equal(t, 210.0, p.PitchMax)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "noise", PhaseNoise.String())
	assert.Equal(t, "voice", PhaseVoice.String())
	assert.Equal(t, "unknown(7)", Phase(7).String())
}
