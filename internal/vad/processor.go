package vad

import (
	"fmt"
	"sync"
	"time"
)

// Processor runs feature extraction and the speech gate on fixed-size frames
// and keeps detection statistics
type Processor struct {
	extractor *Extractor
	gate      Gate
	frameSize int // samples per frame (2048 at 16kHz)

	// Statistics
	totalFrames   uint64
	speechFrames  uint64
	lastFeature   Feature
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the outcome of processing one frame
type Result struct {
	Feature        Feature       `json:"feature"`
	IsSpeech       bool          `json:"is_speech"`
	Gated          bool          `json:"gated"` // false when no profile was available
	FrameIndex     uint64        `json:"frame_index"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// ProcessorStats represents processor statistics
type ProcessorStats struct {
	FrameSize        int       `json:"frame_size"`
	SampleRate       int       `json:"sample_rate"`
	TotalFrames      uint64    `json:"total_frames"`
	SpeechFrames     uint64    `json:"speech_frames"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastEnergy       float64   `json:"last_energy"`
	LastPitch        float64   `json:"last_pitch"`
	LastProcessed    time.Time `json:"last_processed"`
}

// NewProcessor creates a new frame processor
func NewProcessor(extractor ExtractorConfig, gate GateConfig, frameSize int) (*Processor, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}

	if extractor.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", extractor.SampleRate)
	}

	if extractor.MinPitchHz <= 0 || extractor.MaxPitchHz <= extractor.MinPitchHz {
		return nil, fmt.Errorf("invalid pitch band [%f, %f]", extractor.MinPitchHz, extractor.MaxPitchHz)
	}

	if err := gate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}

	return &Processor{
		extractor: NewExtractor(extractor),
		gate:      NewGate(gate),
		frameSize: frameSize,
	}, nil
}

// Analyze extracts features without gating. Used while calibrating.
func (p *Processor) Analyze(samples []float32) (Feature, error) {
	if len(samples) != p.frameSize {
		return Feature{}, fmt.Errorf("expected %d samples, got %d", p.frameSize, len(samples))
	}

	feature := p.extractor.Extract(samples)

	p.mu.Lock()
	p.totalFrames++
	p.lastFeature = feature
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return feature, nil
}

// Process extracts features and gates them against the profile.
// A nil profile yields a non-speech result with Gated unset.
func (p *Processor) Process(samples []float32, profile *Profile) (*Result, error) {
	startTime := time.Now()

	if len(samples) != p.frameSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.frameSize, len(samples))
	}

	feature := p.extractor.Extract(samples)

	isSpeech := false
	if profile != nil {
		isSpeech = p.gate.IsSpeech(feature, *profile)
	}

	p.mu.Lock()
	index := p.totalFrames
	p.totalFrames++
	if isSpeech {
		p.speechFrames++
	}
	p.lastFeature = feature
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return &Result{
		Feature:        feature,
		IsSpeech:       isSpeech,
		Gated:          profile != nil,
		FrameIndex:     index,
		ProcessingTime: time.Since(startTime),
	}, nil
}

// Gate returns the gate used by the processor
func (p *Processor) Gate() Gate {
	return p.gate
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	speechPercentage := float64(0)
	if p.totalFrames > 0 {
		speechPercentage = float64(p.speechFrames) / float64(p.totalFrames) * 100
	}

	return ProcessorStats{
		FrameSize:        p.frameSize,
		SampleRate:       p.extractor.config.SampleRate,
		TotalFrames:      p.totalFrames,
		SpeechFrames:     p.speechFrames,
		SpeechPercentage: speechPercentage,
		LastEnergy:       p.lastFeature.Energy,
		LastPitch:        p.lastFeature.Pitch,
		LastProcessed:    p.lastProcessed,
	}
}

// Reset resets the processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalFrames = 0
	p.speechFrames = 0
	p.lastFeature = Feature{}
	p.lastProcessed = time.Time{}
}

// GetFrameSize returns the frame size in samples
func (p *Processor) GetFrameSize() int {
	return p.frameSize
}
