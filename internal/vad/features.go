package vad

import "math"

// Default feature extraction parameters
const (
	DefaultSampleRate    = 16000
	DefaultSilenceRMS    = 0.01 // below this RMS no pitch is searched for
	DefaultClipThreshold = 0.2  // edge trimming threshold on the [-1, 1] scale
	DefaultMinPitchHz    = 50.0
	DefaultMaxPitchHz    = 500.0
)

// Feature is the per-frame measurement consumed by calibration and the gate.
// Pitch is 0 when no fundamental frequency was detected.
type Feature struct {
	Energy float64 `json:"energy" yaml:"energy"`
	Pitch  float64 `json:"pitch" yaml:"pitch"`
}

// HasPitch reports whether a pitch was detected for the frame
func (f Feature) HasPitch() bool {
	return f.Pitch != 0
}

// ExtractorConfig contains feature extraction parameters
type ExtractorConfig struct {
	SampleRate    int
	SilenceRMS    float64
	ClipThreshold float64
	MinPitchHz    float64
	MaxPitchHz    float64
}

// DefaultExtractorConfig returns the extraction parameters for the 16 kHz pipeline
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		SampleRate:    DefaultSampleRate,
		SilenceRMS:    DefaultSilenceRMS,
		ClipThreshold: DefaultClipThreshold,
		MinPitchHz:    DefaultMinPitchHz,
		MaxPitchHz:    DefaultMaxPitchHz,
	}
}

// Extractor computes energy and pitch features from audio frames.
// It holds no state between frames and is safe for concurrent use.
type Extractor struct {
	config ExtractorConfig
}

// NewExtractor creates a new feature extractor
func NewExtractor(config ExtractorConfig) *Extractor {
	return &Extractor{config: config}
}

// Extract computes the feature sample of one frame
func (e *Extractor) Extract(samples []float32) Feature {
	return Feature{
		Energy: Energy(samples),
		Pitch:  e.Pitch(samples),
	}
}

// Energy returns the root-mean-square of the samples. An empty frame has zero energy.
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Pitch estimates the fundamental frequency of the frame with autocorrelation.
// It returns 0 for silent frames and for estimates outside the configured band.
func (e *Extractor) Pitch(samples []float32) float64 {
	return pitch(samples, e.config)
}

// EstimatePitch runs pitch estimation with the default parameters at the given rate
func EstimatePitch(samples []float32, sampleRate int) float64 {
	cfg := DefaultExtractorConfig()
	cfg.SampleRate = sampleRate
	return pitch(samples, cfg)
}

func pitch(samples []float32, cfg ExtractorConfig) float64 {
	size := len(samples)
	if size == 0 || cfg.SampleRate <= 0 {
		return 0
	}
	if Energy(samples) < cfg.SilenceRMS {
		return 0
	}

	// Trim edge transients: first quiet sample from each end within the outer halves
	r1, r2 := 0, size-1
	for i := 0; 2*i < size; i++ {
		if math.Abs(float64(samples[i])) < cfg.ClipThreshold {
			r1 = i
			break
		}
	}
	for i := 1; 2*i < size; i++ {
		if math.Abs(float64(samples[size-i])) < cfg.ClipThreshold {
			r2 = size - i
			break
		}
	}
	if r2 <= r1 {
		return 0
	}

	buf := samples[r1:r2]
	n := len(buf)

	c := make([]float64, n)
	for lag := 0; lag < n; lag++ {
		var sum float64
		for j := 0; j < n-lag; j++ {
			sum += float64(buf[j]) * float64(buf[j+lag])
		}
		c[lag] = sum
	}

	// Skip the descending slope away from lag 0
	d := 0
	for d+1 < n && c[d] > c[d+1] {
		d++
	}

	maxVal, maxPos := -1.0, -1
	for i := d; i < n; i++ {
		if c[i] > maxVal {
			maxVal = c[i]
			maxPos = i
		}
	}
	if maxPos <= 0 {
		return 0
	}

	freq := float64(cfg.SampleRate) / float64(maxPos)
	if freq < cfg.MinPitchHz || freq > cfg.MaxPitchHz {
		return 0
	}
	return freq
}
