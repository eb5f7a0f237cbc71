package capture

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono audio between sample rates. It is stateful: blocks
// of one continuous stream must be passed in order.
type Resampler struct {
	resampler  resampling.Resampler
	inputRate  int
	outputRate int
}

// NewResampler creates a mono resampler. Equal rates yield a passthrough.
func NewResampler(inputRate, outputRate int) (*Resampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inputRate, outputRate)
	}

	r := &Resampler{inputRate: inputRate, outputRate: outputRate}
	if inputRate == outputRate {
		return r, nil
	}

	config := &resampling.Config{
		InputRate:  float64(inputRate),
		OutputRate: float64(outputRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}

	rs, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.resampler = rs

	return r, nil
}

// Passthrough reports whether input and output rates are equal
func (r *Resampler) Passthrough() bool {
	return r.resampler == nil
}

// Process resamples one block
func (r *Resampler) Process(samples []float32) ([]float32, error) {
	if r.resampler == nil {
		return samples, nil
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := r.resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]float32, len(output))
	for i, s := range output {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = float32(s)
	}
	return out, nil
}
